package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/referral-intake/internal/config"
	"github.com/kirillkom/referral-intake/internal/core/ports"
	"github.com/kirillkom/referral-intake/internal/core/usecase"
	"github.com/kirillkom/referral-intake/internal/infrastructure/apiclient"
	"github.com/kirillkom/referral-intake/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/referral-intake/internal/infrastructure/extractor/document"
	"github.com/kirillkom/referral-intake/internal/infrastructure/fallback"
	"github.com/kirillkom/referral-intake/internal/infrastructure/imaging"
	"github.com/kirillkom/referral-intake/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/referral-intake/internal/infrastructure/llm/openai"
	"github.com/kirillkom/referral-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/referral-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/referral-intake/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/referral-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/referral-intake/internal/infrastructure/transport/maildir"
	"github.com/kirillkom/referral-intake/internal/observability/metrics"
)

// API holds the review API dependencies.
type API struct {
	Config   config.Config
	Reviewer ports.ApplicationReviewer

	closeFn func()
}

func NewAPI(ctx context.Context, cfg config.Config) (*API, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	repo := postgres.NewApplicationRepository(db)
	return &API{
		Config:   cfg,
		Reviewer: usecase.NewApplicationService(repo, xlsx.NewExporter()),
		closeFn: func() {
			_ = db.Close()
		},
	}, nil
}

func (a *API) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Intake holds the intake pipeline shared by cmd/intake and cmd/worker.
type Intake struct {
	Config    config.Config
	Transport *maildir.Transport
	Queue     *nats.Queue
	Metrics   *metrics.IntakeMetrics
	IntakeUC  *usecase.IntakeUseCase

	closeFns []func()
}

type IntakeOptions struct {
	// ServiceName labels logs and metrics.
	ServiceName string
	// ConnectQueue opens the NATS connection even when dispatch is disabled.
	ConnectQueue bool
}

func NewIntake(ctx context.Context, cfg config.Config, opts IntakeOptions) (*Intake, error) {
	app := &Intake{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	transport, err := maildir.New(cfg.MailDir)
	if err != nil {
		return nil, fmt.Errorf("init mail transport: %w", err)
	}
	transport.WithClaimTimeout(time.Duration(cfg.ClaimTimeoutSeconds) * time.Second)
	app.Transport = transport

	executor := resilience.NewExecutor(resilienceConfig(cfg))
	app.Metrics = metrics.NewIntakeMetrics(opts.ServiceName)

	modelClient, err := newModelClient(cfg, executor)
	if err != nil {
		return nil, err
	}
	extractor, err := openai.NewExtractor(modelClient, openai.ExtractionConfig{
		VisionModel:       cfg.VisionModel,
		TextModel:         cfg.TextModel,
		Temperature:       cfg.ModelTemperature,
		MaxTokens:         cfg.ModelMaxTokens,
		BodyPreviewChars:  cfg.BodyPreviewChars,
		FallbackTextChars: cfg.FallbackTextChars,
		VerifyTextChars:   cfg.VerifyTextChars,
	})
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}

	runner := imaging.ExecRunner{}
	preparer := imaging.NewPreparer(imaging.Config{
		MaxDimension: cfg.MaxImageDimension,
		JPEGQuality:  cfg.JPEGQuality,
		DPI:          cfg.PDFDPI,
		MaxPages:     cfg.MaxPDFPages,
		Pdftoppm:     cfg.PdftoppmPath,
	}, runner)
	texts := document.NewExtractor(document.Config{Tesseract: cfg.TesseractPath}, runner)
	extractUC := usecase.NewExtractDocumentUseCase(preparer, extractor, extractor, extractor, app.Metrics, cfg.ConfidenceThreshold)

	localDB, err := openLocalDB(ctx, cfg.LocalDBPath)
	if err != nil {
		return nil, err
	}
	app.closeFns = append(app.closeFns, func() { _ = localDB.Close() })

	remote := apiclient.New(apiclient.Options{
		BaseURL:            cfg.ReviewAPIURL,
		Token:              cfg.ReviewAPIToken,
		ResilienceExecutor: executor,
	})
	store := fallback.NewStore(remote, sqlite.NewApplicationRepository(localDB))

	ledger, err := app.openLedger(ctx, cfg, localDB)
	if err != nil {
		return nil, err
	}

	intakeCfg, err := intakeConfig(cfg)
	if err != nil {
		return nil, err
	}
	app.IntakeUC = usecase.NewIntakeUseCase(transport, ledger, extractUC, texts, store, app.Metrics, intakeCfg)

	if cfg.DispatchToNATS || opts.ConnectQueue {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ClientName:         opts.ServiceName,
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		app.closeFns = append(app.closeFns, queue.Close)
		if cfg.DispatchToNATS {
			app.IntakeUC.WithDispatcher(queue)
		}
	}

	ok = true
	return app, nil
}

func (a *Intake) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func (a *Intake) openLedger(ctx context.Context, cfg config.Config, localDB *sql.DB) (ports.ConsumptionLedger, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LedgerBackend)) {
	case "", "sqlite":
		return sqlite.NewConsumptionLedger(localDB), nil
	case "postgres":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = db.Close() })
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return nil, fmt.Errorf("ensure ledger schema: %w", err)
		}
		return postgres.NewConsumptionLedger(db), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func newModelClient(cfg config.Config, executor *resilience.Executor) (ports.ModelClient, error) {
	timeout := time.Duration(cfg.OpenAITimeoutSeconds) * time.Second
	switch strings.ToLower(strings.TrimSpace(cfg.ModelProvider)) {
	case "", "openai":
		return openai.New(openai.Options{
			BaseURL:            cfg.OpenAIBaseURL,
			APIKey:             cfg.OpenAIAPIKey,
			Timeout:            timeout,
			RequestsPerSecond:  cfg.OpenAIRequestsPerSec,
			ResilienceExecutor: executor,
		}), nil
	case "ollama":
		return ollama.New(ollama.Options{
			BaseURL:            cfg.OllamaURL,
			Timeout:            timeout,
			ResilienceExecutor: executor,
		}), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.ModelProvider)
	}
}

func openLocalDB(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create local db dir: %w", err)
		}
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	if err := sqlite.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure local schema: %w", err)
	}
	return db, nil
}

func intakeConfig(cfg config.Config) (usecase.IntakeConfig, error) {
	out := usecase.IntakeConfig{
		MinKeywordMatches: cfg.MinKeywordMatches,
		RawTextLimit:      cfg.RawTextLimit,
	}
	if strings.TrimSpace(cfg.KeywordsFile) == "" {
		return out, nil
	}
	vocab, err := config.LoadKeywords(cfg.KeywordsFile)
	if err != nil {
		return out, err
	}
	out.Keywords = vocab.Keywords
	if vocab.MinMatches > 0 {
		out.MinKeywordMatches = vocab.MinMatches
	}
	slog.Info("intake_keywords_loaded", "path", cfg.KeywordsFile, "keywords", len(vocab.Keywords), "min_matches", out.MinKeywordMatches)
	return out, nil
}

func resilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.RetryMaxAttempts,
		RetryInitialBackoff:     time.Duration(cfg.RetryInitialBackoffMS) * time.Millisecond,
		RetryMaxBackoff:         time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          cfg.BreakerEnabled,
		BreakerMinRequests:      uint32(max(cfg.BreakerMinRequests, 0)),
		BreakerFailureRatio:     cfg.BreakerFailureRatio,
		BreakerOpenTimeout:      time.Duration(cfg.BreakerOpenTimeoutSecs) * time.Second,
		BreakerHalfOpenMaxCalls: uint32(max(cfg.BreakerHalfOpenMaxCalls, 0)),
	}
}
