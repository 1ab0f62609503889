package flow

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"golang.org/x/sync/errgroup"
)

// Router defaults.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64
)

// EventHandler processes one inbound event.
type EventHandler interface {
	Handle(ctx context.Context, evt models.InboundEvent) error
}

// Router fans inbound events out to a fixed set of workers. Events of one user
// always land on the same worker, so they are handled in arrival order.
type Router struct {
	handler   EventHandler
	workers   int
	queueSize int
}

// NewRouter creates a Router. workers <= 0 selects DefaultWorkers.
func NewRouter(handler EventHandler, workers int) *Router {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Router{handler: handler, workers: workers, queueSize: DefaultQueueSize}
}

// Run consumes the sources until they are all closed or ctx is cancelled.
// Queued events are drained before Run returns.
func (r *Router) Run(ctx context.Context, sources ...<-chan models.InboundEvent) error {
	queues := make([]chan models.InboundEvent, r.workers)
	for i := range queues {
		queues[i] = make(chan models.InboundEvent, r.queueSize)
	}

	g := new(errgroup.Group)
	for i, q := range queues {
		g.Go(func() error {
			r.work(ctx, i, q)
			return nil
		})
	}

	var readers sync.WaitGroup
	for _, src := range sources {
		readers.Add(1)
		g.Go(func() error {
			defer readers.Done()
			r.read(ctx, src, queues)
			return nil
		})
	}
	g.Go(func() error {
		readers.Wait()
		for _, q := range queues {
			close(q)
		}
		return nil
	})

	slog.Info("Router.Run: started", "workers", r.workers, "sources", len(sources))
	err := g.Wait()
	slog.Info("Router.Run: stopped")
	return err
}

func (r *Router) read(ctx context.Context, src <-chan models.InboundEvent, queues []chan models.InboundEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-src:
			if !ok {
				return
			}
			q := queues[shardFor(evt.UserID, len(queues))]
			select {
			case q <- evt:
			case <-ctx.Done():
				slog.Warn("Router.read: shutting down, dropping event", "userID", evt.UserID, "messageID", evt.MessageID)
				return
			}
		}
	}
}

func (r *Router) work(ctx context.Context, id int, q <-chan models.InboundEvent) {
	for evt := range q {
		if err := r.handler.Handle(ctx, evt); err != nil {
			slog.Debug("Router.work: event not processed", "worker", id, "userID", evt.UserID, "error", err)
		}
	}
}

func shardFor(userID string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}
