package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rulesmith/internal/config"
	"github.com/fyrsmithlabs/rulesmith/internal/events"
	"github.com/fyrsmithlabs/rulesmith/internal/inference"
	"github.com/fyrsmithlabs/rulesmith/internal/logging"
	"github.com/fyrsmithlabs/rulesmith/internal/orchestrator"
	"github.com/fyrsmithlabs/rulesmith/internal/secrets"
	"github.com/fyrsmithlabs/rulesmith/internal/service"
	"github.com/fyrsmithlabs/rulesmith/internal/stages"
	"github.com/fyrsmithlabs/rulesmith/internal/telemetry"
)

const tracerName = "github.com/fyrsmithlabs/rulesmith/internal/orchestrator"

// app holds the wired dependencies shared by every command.
type app struct {
	config    *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	nc        *nats.Conn
	registry  service.Registry
}

// appOptions adjusts wiring per command.
type appOptions struct {
	// logOutput overrides the local log destination ("stdout" or "stderr").
	logOutput string
}

// newApp initializes all dependencies:
//  1. telemetry, so the logger can bridge to OTel
//  2. logger
//  3. NATS publisher, when nats.url is set
//  4. scrubber and inference client
//  5. pipeline service and registry
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if opts.logOutput != "" {
		logCfg.Output.Local = opts.logOutput
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	a := &app{config: cfg, logger: logger, telemetry: tel}

	var publisher orchestrator.Emitter
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, zl.Named("nats"))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.nc = nc
		publisher = events.NewPublisher(nc, cfg.NATS.SubjectPrefix, zl.Named("publisher"))
		zl.Info("publishing run events", zap.String("url", cfg.NATS.URL), zap.String("prefix", cfg.NATS.SubjectPrefix))
	}

	scrubber, err := secrets.New(secrets.Config{
		Enabled:   cfg.Scrub.Enabled,
		AllowList: cfg.Scrub.AllowList,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize scrubber: %w", err)
	}

	client, err := newInferenceClient(cfg.Inference)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	pipeline, err := service.New(service.ConfigFromSettings(cfg.Pipeline), service.Options{
		Client:    client,
		Scrubber:  scrubber,
		Publisher: publisher,
		Metrics:   orchestrator.NewMetrics(),
		Tracer:    tel.Tracer(tracerName),
		Logger:    zl,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	prefix := cfg.NATS.SubjectPrefix
	if prefix == "" {
		prefix = events.DefaultSubjectPrefix
	}
	a.registry = service.NewRegistry(service.RegistryOptions{
		Pipeline:      pipeline,
		Scrubber:      scrubber,
		NATS:          a.nc,
		SubjectPrefix: prefix,
		Telemetry:     tel,
	})

	zl.Debug("dependencies initialized",
		zap.String("provider", cfg.Inference.Provider),
		zap.Bool("nats", a.nc != nil),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("scrub", scrubber.Enabled()),
	)
	return a, nil
}

// newInferenceClient maps the inference settings. The stub provider answers
// every template with deterministic offline output.
func newInferenceClient(s config.InferenceConfig) (inference.Client, error) {
	if s.Provider == config.ProviderStub {
		return stages.Offline(inference.NewStub()), nil
	}
	client, err := inference.New(inference.Config{
		Provider:   s.Provider,
		Model:      s.Model,
		BaseURL:    s.BaseURL,
		APIKey:     s.APIKey.Value(),
		Timeout:    s.Timeout.Duration(),
		MaxRetries: s.MaxRetries,
		RateLimit:  s.RateLimit,
		Burst:      s.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference client: %w", err)
	}
	return client, nil
}

// Close drains NATS and flushes telemetry and logs.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("nats drain: %w", err))
		}
	}
	if a.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync() // Best-effort sync on shutdown
	}
	return errors.Join(errs...)
}
