package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/config"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/trello"
	"github.com/BTreeMap/LeadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
)

// Flags holds command line flag values
type Flags struct {
	qrOutput   string
	numeric    bool
	stateDir   string
	apiAddr    string
	transport  string
	archiveDSN string
	catalog    string
	workers    int
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Until the configuration is known, log at debug level as text.
	initializeLogger(os.Stdout, "debug", "text")

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("Failed to read environment", "error", err)
		return 1
	}

	flags, err := parseCommandLineFlags(flag.NewFlagSet("LeadPipe", flag.ContinueOnError), args, cfg)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		slog.Error("Failed to parse flags", "error", err)
		return 2
	}
	applyFlags(cfg, flags)

	if err := config.Normalize(cfg); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return 1
	}
	initializeLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		return 1
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("Failed to release state directory lock", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modules := buildModules(cfg, flags)
	slog.Info("Bootstrapping LeadPipe with configured modules")
	slog.Debug("Final configuration",
		"state_dir", cfg.StateDir,
		"transport", cfg.Transport,
		"api_addr", cfg.APIAddr,
		"archive_dsn_type", store.DetectDSNType(cfg.ArchiveDSN),
		"trello", cfg.TrelloConfigured(),
		"session_backend", cfg.SessionBackend,
		"workers", cfg.Workers)

	if err := api.Run(ctx, modules); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		return 1
	}
	slog.Info("LeadPipe exited successfully")
	return 0
}

// initializeLogger installs the default slog logger.
func initializeLogger(w io.Writer, level, format string) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, cfg *config.Config) (Flags, error) {
	var flags Flags
	fs.StringVar(&flags.qrOutput, "qr-output", "", "path to write WhatsApp login QR code")
	fs.BoolVar(&flags.numeric, "numeric-code", false, "use numeric WhatsApp login code instead of QR code")
	fs.StringVar(&flags.stateDir, "state-dir", cfg.StateDir, "state directory for LeadPipe data (overrides $LEADPIPE_STATE_DIR)")
	fs.StringVar(&flags.apiAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&flags.transport, "transport", cfg.Transport, "messaging transport: waapi, twilio, whatsapp or log (overrides $TRANSPORT)")
	fs.StringVar(&flags.archiveDSN, "archive-dsn", cfg.ArchiveDSN, "archive DSN: SQLite path, Postgres URL or .txt file (overrides $ARCHIVE_DSN)")
	fs.StringVar(&flags.catalog, "catalog", cfg.CatalogPath, "YAML file overriding bot messages (overrides $CATALOG_PATH)")
	fs.IntVar(&flags.workers, "workers", cfg.Workers, "number of event workers (overrides $WORKERS)")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"qrOutput", flags.qrOutput,
		"numeric", flags.numeric,
		"stateDir", flags.stateDir,
		"apiAddr", flags.apiAddr,
		"transport", flags.transport,
		"archiveDSN_set", flags.archiveDSN != "",
		"catalog", flags.catalog,
		"workers", flags.workers)
	return flags, nil
}

// applyFlags copies flag values onto the configuration. Derived paths are left
// empty so Normalize recomputes them under a state directory given on the command line.
func applyFlags(cfg *config.Config, flags Flags) {
	cfg.StateDir = flags.stateDir
	cfg.APIAddr = flags.apiAddr
	cfg.Transport = flags.transport
	cfg.ArchiveDSN = flags.archiveDSN
	cfg.CatalogPath = flags.catalog
	cfg.Workers = flags.workers
}

// buildModules turns the configuration into per-module options.
func buildModules(cfg *config.Config, flags Flags) api.Modules {
	return api.Modules{
		Transport:        cfg.Transport,
		WhatsApp:         buildWhatsAppOptions(cfg, flags),
		Twilio:           buildTwilioOptions(cfg),
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioWebhookURL: cfg.TwilioWebhookURL,
		WaAPI:            buildWaAPIOptions(cfg),
		Trello:           buildTrelloOptions(cfg),
		ArchiveDSN:       cfg.ArchiveDSN,
		SessionBackend:   cfg.SessionBackend,
		Store:            buildStoreOptions(cfg),
		Catalog:          buildCatalogOptions(cfg),
		Engine:           []flow.EngineOption{flow.WithCompletedPolicy(flow.CompletedPolicy(cfg.CompletedPolicy))},
		Workers:          cfg.Workers,
		RetrySchedule:    cfg.RetrySchedule,
		API:              []api.Option{api.WithAddr(cfg.APIAddr)},
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(cfg *config.Config, flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if cfg.WhatsAppDBDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(cfg.WhatsAppDBDSN))
	}
	return waOpts
}

func buildTwilioOptions(cfg *config.Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(cfg.TwilioFromNumber),
	}
}

func buildWaAPIOptions(cfg *config.Config) []messaging.WaAPIOption {
	return []messaging.WaAPIOption{
		messaging.WithWaAPIBaseURL(cfg.WaAPIURL),
		messaging.WithWaAPIToken(cfg.WaAPIToken),
		messaging.WithWaAPIInstanceID(cfg.WaAPIInstanceID),
	}
}

// buildTrelloOptions returns nil when Trello is not configured, which makes the
// archive the only submission sink.
func buildTrelloOptions(cfg *config.Config) []trello.Option {
	if !cfg.TrelloConfigured() {
		return nil
	}
	return []trello.Option{
		trello.WithAPIKey(cfg.TrelloAPIKey),
		trello.WithToken(cfg.TrelloToken),
		trello.WithListID(cfg.TrelloListID),
		trello.WithBoardID(cfg.TrelloBoardID),
		trello.WithBaseURL(cfg.TrelloBaseURL),
	}
}

// buildStoreOptions constructs session store and ledger options
func buildStoreOptions(cfg *config.Config) []store.Option {
	return []store.Option{
		store.WithSessionTTL(int(cfg.SessionTTL.Seconds())),
		store.WithDefaultLanguage(cfg.DefaultLanguage),
		store.WithLedgerCapacity(cfg.DedupCapacity),
	}
}

func buildCatalogOptions(cfg *config.Config) []catalog.Option {
	if cfg.CatalogPath == "" {
		return nil
	}
	return []catalog.Option{catalog.WithOverrideFile(cfg.CatalogPath)}
}
