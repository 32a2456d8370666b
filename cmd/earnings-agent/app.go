package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stupiduntilnot/earnings-agent/internal/agent"
	"github.com/stupiduntilnot/earnings-agent/internal/analytics"
	"github.com/stupiduntilnot/earnings-agent/internal/batch"
	"github.com/stupiduntilnot/earnings-agent/internal/config"
	"github.com/stupiduntilnot/earnings-agent/internal/console"
	"github.com/stupiduntilnot/earnings-agent/internal/control"
	"github.com/stupiduntilnot/earnings-agent/internal/dataset"
	"github.com/stupiduntilnot/earnings-agent/internal/db"
	"github.com/stupiduntilnot/earnings-agent/internal/dummy"
	"github.com/stupiduntilnot/earnings-agent/internal/history"
	"github.com/stupiduntilnot/earnings-agent/internal/logging"
	"github.com/stupiduntilnot/earnings-agent/internal/metrics"
	modelpkg "github.com/stupiduntilnot/earnings-agent/internal/model"
	"github.com/stupiduntilnot/earnings-agent/internal/openai"
	"github.com/stupiduntilnot/earnings-agent/internal/tool"
	"github.com/stupiduntilnot/earnings-agent/internal/tracing"
)

// app holds everything a command needs after startup.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	database *sql.DB
	recorder agent.Recorder
	store    history.Store
	rootID   *int64

	rows       []dataset.Row
	registry   *analytics.Registry
	dispatcher *batch.Dispatcher
	tools      *tool.Registry

	closers []func(context.Context) error
}

func newApp(cfg config.Config, opts *options, logOut io.Writer) (*app, error) {
	logger, err := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		JSON:    cfg.LogJSON,
		LogDir:  cfg.LogDir,
		Service: serviceName,
		Output:  logOut,
	})
	if err != nil {
		logger.Warn("log file disabled", "log_dir", cfg.LogDir, "error", err)
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		recorder: agent.NopRecorder{},
		store:    history.NewMemoryStore(),
	}

	if err := a.setupTracing(opts.tracePath); err != nil {
		a.close(context.Background())
		return nil, err
	}
	if err := a.setupMetrics(opts.metricsAddr); err != nil {
		a.close(context.Background())
		return nil, err
	}
	if err := a.setupDB(); err != nil {
		a.close(context.Background())
		return nil, err
	}

	rootID, err := a.recorder.Record(nil, db.EventProcessStarted, map[string]any{
		"pid":      os.Getpid(),
		"provider": cfg.Provider,
		"model":    cfg.OpenAIModel,
	})
	if err != nil {
		logger.Warn("failed to log process.started", "error", err)
	} else if a.database != nil {
		a.rootID = &rootID
	}

	started := time.Now()
	rows, err := dataset.LoadFile(cfg.DataPath)
	if err != nil {
		a.close(context.Background())
		return nil, err
	}
	a.rows = rows
	a.record(db.EventDatasetLoaded, map[string]any{
		"path":       cfg.DataPath,
		"rows":       len(rows),
		"latency_ms": time.Since(started).Milliseconds(),
	})
	logger.Info("dataset loaded", "path", cfg.DataPath, "rows", len(rows))

	a.registry = analytics.NewRegistry(logger.Logger)
	a.dispatcher = batch.New(a.registry, rows, batch.Options{
		MaxBatch: cfg.MaxBatchMethods,
		Parallel: cfg.BatchParallel,
	}, logger.Logger, a.metrics)
	a.tools = tool.NewRegistry()
	if err := tool.RegisterAnalytics(a.tools, a.registry.Methods(), a.dispatcher, tool.Limits{MaxBytes: cfg.ToolMaxOutputBytes}); err != nil {
		a.close(context.Background())
		return nil, fmt.Errorf("register analytics tools: %w", err)
	}
	return a, nil
}

func (a *app) setupTracing(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace file %s: %w", path, err)
	}
	shutdown, err := tracing.Setup(f, serviceName)
	if err != nil {
		f.Close()
		return err
	}
	a.closers = append(a.closers, func(context.Context) error { return f.Close() }, shutdown)
	return nil
}

func (a *app) setupMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	a.metrics = metrics.New(reg)
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

func (a *app) setupDB() error {
	if a.cfg.DBPath == "" {
		return nil
	}
	database, err := db.OpenDB(a.cfg.DBPath)
	if err != nil {
		return err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return fmt.Errorf("failed to init schema: %w", err)
	}
	a.database = database
	a.recorder = &db.EventLog{DB: database}
	a.store = &history.SQLiteStore{DB: database}
	return nil
}

func (a *app) record(eventType string, payload map[string]any) {
	if _, err := a.recorder.Record(a.rootID, eventType, payload); err != nil {
		a.logger.Warn("failed to log event", "event_type", eventType, "error", err)
	}
}

// close records process.exited and releases resources in reverse order.
func (a *app) close(ctx context.Context) {
	if a.rootID != nil {
		db.LogEvent(a.database, a.rootID, db.EventProcessExited, map[string]any{"pid": os.Getpid()})
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
	if a.database != nil {
		a.database.Close()
	}
	a.logger.Close()
}

func (a *app) policy() control.Policy {
	return control.Policy{
		MaxTurns:    a.cfg.MaxTurns,
		MaxWallTime: time.Duration(a.cfg.MaxWallTimeSeconds) * time.Second,
		MaxTokens:   a.cfg.MaxHumanTokens,
		MaxRetries:  a.cfg.MaxRetries,
		RetryBase:   time.Duration(a.cfg.RetryBaseSeconds) * time.Second,
	}
}

// newGuard builds the turn controller for one session and wraps it with
// retries and the circuit breaker.
func (a *app) newGuard(sessionID string) (*console.Guard, error) {
	provider, err := newModelProvider(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init model provider: %w", err)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	prompt := a.cfg.SystemPrompt
	if prompt == "" {
		prompt = agent.SystemPrompt(a.registry.Methods(), a.cfg.MaxBatchMethods)
	}
	policy := a.policy()
	controller, err := agent.New(agent.Config{
		SessionID:    sessionID,
		SystemPrompt: prompt,
		Temperature:  float32(a.cfg.Temperature),
		Policy:       policy,
	}, agent.Deps{
		Provider:      provider,
		Tools:         a.tools,
		History:       history.NewManager(a.cfg.Dedupe, a.cfg.MaxHistoryPairs, a.logger.Logger, a.metrics),
		Store:         a.store,
		Recorder:      a.recorder,
		ParentEventID: a.rootID,
		Logger:        a.logger.Logger,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("session ready", "session_id", sessionID, "provider", a.cfg.Provider, "model", provider.Model())

	breaker := control.NewCircuitBreaker(a.cfg.CircuitThreshold, time.Duration(a.cfg.CircuitCooldownSeconds)*time.Second)
	return console.NewGuard(controller.Invoke, policy, breaker, a.recorder, a.rootID, a.logger.Logger), nil
}

func newModelProvider(cfg config.Config) (modelpkg.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, time.Duration(cfg.OpenAITimeoutSeconds)*time.Second), nil
	case config.ProviderDummy:
		return dummy.NewProvider("dummy", cfg.DummyScript)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
