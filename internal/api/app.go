package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/scheduler"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/trello"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

// Transport names accepted in Modules.Transport.
const (
	TransportWaAPI    = "waapi"
	TransportTwilio   = "twilio"
	TransportWhatsApp = "whatsapp"
	TransportLog      = "log"
)

// Modules collects the per-module options Run wires together.
type Modules struct {
	Transport        string
	WhatsApp         []whatsapp.Option
	Twilio           []twiliowhatsapp.Option
	TwilioAuthToken  string
	TwilioWebhookURL string
	WaAPI            []messaging.WaAPIOption
	// Trello is nil when no board is configured; submissions then go straight to the archive.
	Trello         []trello.Option
	ArchiveDSN     string
	SessionBackend string
	Store          []store.Option
	Catalog        []catalog.Option
	Engine         []flow.EngineOption
	Workers        int
	RetrySchedule  string
	API            []Option

	// MessageService replaces the transport selected above. Used by tests.
	MessageService messaging.Service
}

// Run builds every module and serves until ctx is cancelled. In-flight events are
// drained before it returns.
func Run(ctx context.Context, m Modules) error {
	msgs, err := catalog.New(m.Catalog...)
	if err != nil {
		return fmt.Errorf("failed to load message catalog: %w", err)
	}

	msgService := m.MessageService
	if msgService == nil {
		msgService, err = newMessageService(m)
		if err != nil {
			return err
		}
	}

	var board flow.Board
	if m.Trello != nil {
		tc, err := trello.NewClient(m.Trello...)
		if err != nil {
			return fmt.Errorf("failed to create Trello client: %w", err)
		}
		board = tc
	} else {
		slog.Warn("Run: Trello is not configured, every submission goes to the archive")
	}

	archive, err := store.NewArchive(m.ArchiveDSN)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		if err := archive.Close(); err != nil {
			slog.Error("Run: failed to close archive", "error", err)
		}
	}()

	sessions, closeSessions, err := newSessionStore(m)
	if err != nil {
		return err
	}
	defer closeSessions()

	ledger := store.NewBoundedLedger(m.Store...)
	engine := flow.NewEngine(msgs, m.Engine...)
	dispatcher := flow.NewSubmissionDispatcher(board, archive)
	processor := flow.NewProcessor(engine, sessions, ledger, dispatcher, msgService, msgs)

	if retryable, ok := archive.(store.RetryableArchive); ok && board != nil && m.RetrySchedule != "" {
		sched, err := startArchiveRetry(ctx, retryable, board, m.RetrySchedule)
		if err != nil {
			return err
		}
		defer sched.Stop()
	}

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	workers := m.Workers
	if workers <= 0 {
		workers = 1
	}
	router := flow.NewRouter(processor, workers)
	server := NewServer(msgService, append([]Option{WithTransportName(m.Transport)}, m.API...)...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return msgs.Watch(gctx)
	})
	g.Go(func() error {
		// The router outlives ctx so that queued events finish once the service closes its channel.
		return router.Run(context.WithoutCancel(ctx), msgService.Events())
	})
	g.Go(func() error {
		<-gctx.Done()
		return msgService.Stop()
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Run: all modules stopped")
	return nil
}

func newMessageService(m Modules) (messaging.Service, error) {
	switch m.Transport {
	case TransportWaAPI, "":
		svc, err := messaging.NewWaAPIService(m.WaAPI...)
		if err != nil {
			return nil, fmt.Errorf("failed to create waApi service: %w", err)
		}
		return svc, nil
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(m.Twilio...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if m.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(m.TwilioAuthToken, m.TwilioWebhookURL))
		}
		return messaging.NewTwilioService(client, opts...), nil
	case TransportWhatsApp:
		client, err := whatsapp.NewClient(m.WhatsApp...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil
	case TransportLog:
		return messaging.NewLogService(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", m.Transport)
	}
}

func newSessionStore(m Modules) (store.SessionStore, func(), error) {
	if m.SessionBackend != "bigcache" {
		return store.NewMemorySessionStore(m.Store...), func() {}, nil
	}
	cs, err := store.NewCacheSessionStore(m.Store...)
	if err != nil {
		return nil, nil, err
	}
	return cs, func() {
		if err := cs.Close(); err != nil {
			slog.Error("Run: failed to close session cache", "error", err)
		}
	}, nil
}

// startArchiveRetry requeues entries left in sending by a crash and schedules the
// sweep that forwards archived submissions to the board.
func startArchiveRetry(ctx context.Context, archive store.RetryableArchive, board flow.Board, schedule string) (*scheduler.Scheduler, error) {
	retrier := store.NewArchiveRetrier(archive, func(ctx context.Context, sub store.ArchivedSubmission) (string, error) {
		receipt, err := board.Submit(ctx, sub.Title, sub.Description)
		if err != nil {
			return "", err
		}
		if !receipt.Accepted {
			return "", fmt.Errorf("task board did not accept archived submission %s", sub.ID)
		}
		return receipt.ID, nil
	})
	if err := retrier.RecoverStale(ctx); err != nil {
		slog.Warn("Run: failed to requeue stale archive entries", "error", err)
	}

	sched := scheduler.NewScheduler()
	sweepCtx := context.WithoutCancel(ctx)
	if err := sched.AddJob(schedule, func() {
		if n := retrier.Sweep(sweepCtx); n > 0 {
			slog.Info("Run: archive sweep forwarded submissions", "count", n)
		}
	}); err != nil {
		sched.Stop()
		return nil, fmt.Errorf("invalid retry schedule %q: %w", schedule, err)
	}
	slog.Info("Run: archive retry scheduled", "schedule", schedule)
	return sched, nil
}
