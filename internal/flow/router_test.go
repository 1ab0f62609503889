package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type orderRecorder struct {
	mu     sync.Mutex
	byUser map[string][]string
	delay  time.Duration
}

func (o *orderRecorder) Handle(ctx context.Context, evt models.InboundEvent) error {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byUser[evt.UserID] = append(o.byUser[evt.UserID], evt.MessageID)
	return nil
}

func TestRouterPreservesPerUserOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &orderRecorder{byUser: map[string][]string{}}
	r := NewRouter(rec, 4)

	a := make(chan models.InboundEvent)
	b := make(chan models.InboundEvent)
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), a, b) }()

	for i := 0; i < 50; i++ {
		// Each user only ever writes through one source so the send order is well defined.
		user := fmt.Sprintf("u%d", i%5)
		src := a
		if (i%5)%2 == 1 {
			src = b
		}
		src <- models.InboundEvent{UserID: user, MessageID: fmt.Sprintf("%03d", i), Text: "x"}
	}
	close(a)
	close(b)
	require.NoError(t, <-done)

	for user, ids := range rec.byUser {
		assert.Len(t, ids, 10, user)
		for i := 1; i < len(ids); i++ {
			assert.Less(t, ids[i-1], ids[i], "out of order for %s", user)
		}
	}
}

func TestRouterStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &orderRecorder{byUser: map[string][]string{}, delay: time.Millisecond}
	r := NewRouter(rec, 2)
	src := make(chan models.InboundEvent)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, src) }()

	src <- models.InboundEvent{UserID: "u", MessageID: "1", Text: "x"}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop after cancel")
	}
}

func TestShardForIsStable(t *testing.T) {
	assert.Equal(t, shardFor("77011234567", 8), shardFor("77011234567", 8))
	for i := 0; i < 100; i++ {
		s := shardFor(fmt.Sprintf("user-%d", i), 8)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 8)
	}
}
