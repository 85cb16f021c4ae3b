package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rendis/diagrammer/internal/config"
	"github.com/rendis/diagrammer/internal/conversation"
	"github.com/rendis/diagrammer/internal/diagram"
	"github.com/rendis/diagrammer/internal/engine"
	"github.com/rendis/diagrammer/internal/expressions"
	"github.com/rendis/diagrammer/internal/llm"
	"github.com/rendis/diagrammer/internal/metrics"
	"github.com/rendis/diagrammer/internal/prompts"
	"github.com/rendis/diagrammer/internal/scheduler"
	"github.com/rendis/diagrammer/internal/secrets"
	"github.com/rendis/diagrammer/internal/store"
	"github.com/rendis/diagrammer/internal/streaming"
	"github.com/rendis/diagrammer/internal/validation"
	"github.com/rendis/diagrammer/internal/vocabulary"
	"github.com/rendis/diagrammer/pkg/schema"
)

// Runtime is a fully wired process: the Service plus everything the
// transports and background jobs need a handle on.
type Runtime struct {
	Config    config.Config
	Logger    *slog.Logger
	Service   *Service
	Metrics   *metrics.Metrics
	Kinds     *vocabulary.Registry
	Renderer  *diagram.GraphRenderer
	Generator *llm.Guard
	Store     store.Store       // nil when DBPath is empty
	Vault     *secrets.AESVault // nil unless VaultKey is set and the store is open
	Hub       *streaming.MemoryHub
	Scheduler *scheduler.Scheduler
	Gate      *engine.Gate
	Machine   *conversation.Machine
}

// Build wires a Runtime from configuration. Background jobs are not started;
// call Start.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: metrics.New()}

	// 1. Vocabulary.
	rt.Kinds = vocabulary.NewDefault()
	if cfg.VocabularyFile != "" {
		n, err := rt.Kinds.LoadFile(cfg.VocabularyFile)
		if err != nil {
			return nil, fmt.Errorf("load vocabulary: %w", err)
		}
		logger.Info("vocabulary extended", slog.String("file", cfg.VocabularyFile), slog.Int("kinds", n))
	}

	// 2. Prompts.
	templates := prompts.Default()
	if cfg.PromptsFile != "" {
		m, err := prompts.LoadFile(cfg.PromptsFile)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		templates = m
	}
	composer := prompts.NewComposer(templates, rt.Kinds)

	// 3. Validation.
	parser, err := validation.NewParser()
	if err != nil {
		return nil, fmt.Errorf("compile specification schema: %w", err)
	}
	var opts []validation.Option
	policies, err := validation.ResolvePolicies(cfg.Policies, cfg.CustomPolicies)
	if err != nil {
		return nil, err
	}
	if len(policies) > 0 {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, fmt.Errorf("init cel: %w", err)
		}
		ps, err := validation.NewPolicySet(cel, policies)
		if err != nil {
			return nil, err
		}
		opts = append(opts, validation.WithPolicies(ps))
		logger.Info("validation policies enabled", slog.Int("count", ps.Len()))
	}
	validator := validation.New(rt.Kinds, opts...)

	// 4. Events: durable log, live hub and structured log.
	rt.Hub = streaming.NewMemoryHub()
	sink := engine.NewSink(logger, rt.Hub, engine.LogAppender{Logger: logger})
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		s, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		rt.Store = s
		sink.Add(s)

		if cfg.VaultKey != "" {
			rt.Vault, err = secrets.Open(ctx, s, cfg.VaultKey)
			if err != nil {
				rt.closeStore()
				return nil, err
			}
		}
	}

	apiKey, err := rt.resolveAPIKey(ctx)
	if err != nil {
		rt.closeStore()
		return nil, err
	}

	// 5. Generator.
	rt.Generator, err = llm.New(llm.Config{
		Provider:      cfg.LLMProvider,
		Model:         cfg.LLMModel,
		APIKey:        apiKey,
		BaseURL:       cfg.LLMBaseURL,
		MockDelay:     cfg.MockDelay.Std(),
		RatePerSecond: cfg.RateLimitPerSecond,
		Breaker: llm.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown.Std(),
			HalfOpenMax:      llm.DefaultBreakerConfig().HalfOpenMax,
		},
	}, logger, func(_, to llm.CircuitState) {
		rt.Metrics.BreakerChanged(cfg.LLMProvider, to.String())
	})
	if err != nil {
		rt.closeStore()
		return nil, err
	}
	rt.Metrics.BreakerChanged(rt.Generator.Name(), llm.CircuitClosed.String())

	// 6. Loop, conversations, admission.
	rt.Renderer = diagram.NewRenderer(rt.Kinds, cfg.DiagramFormat, diagram.Direction(cfg.DiagramDirection))
	orch := engine.NewOrchestrator(engine.Deps{
		Generator: rt.Generator,
		Parser:    parser,
		Validator: validator,
		Composer:  composer,
		Renderer:  rt.Renderer,
		Events:    sink,
		Observer:  rt.Metrics,
		Logger:    logger,
	}, engine.Config{
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout.Std(),
		Temperature:    cfg.GenerationTemperature,
		MaxTokens:      cfg.LLMMaxTokens,
	})

	rt.Machine, err = conversation.NewMachine(conversation.Deps{
		Generator: rt.Generator,
		Composer:  composer,
		Runner:    orch,
		Events:    sink,
		Logger:    logger,
	}, conversation.Config{
		Temperature:   cfg.LLMTemperature,
		MaxTokens:     cfg.LLMMaxTokens,
		AssessTimeout: cfg.AttemptTimeout.Std(),
		TTL:           cfg.ConversationTTL.Std(),
		ReadyRule:     cfg.ReadyRule,
		Format:        cfg.DiagramFormat,
	})
	if err != nil {
		rt.closeStore()
		return nil, err
	}

	rt.Gate = engine.NewGate(cfg.MaxConcurrentRequests)
	rt.Service = New(Deps{
		Runner:    orch,
		Machine:   rt.Machine,
		Parser:    parser,
		Validator: validator,
		Kinds:     rt.Kinds,
		Gate:      rt.Gate,
		Recorder:  rt.Metrics,
		Logger:    logger,
	})

	// 7. Housekeeping.
	rt.Scheduler = scheduler.NewScheduler(logger, 0)
	if err := rt.Scheduler.Add(scheduler.EvictionJob(rt.Machine, logger)); err != nil {
		rt.closeStore()
		return nil, err
	}
	if rt.Store != nil && cfg.EventRetention > 0 {
		if err := rt.Scheduler.Add(scheduler.RetentionJob(rt.Store, cfg.EventRetention.Std(), logger)); err != nil {
			rt.closeStore()
			return nil, err
		}
	}

	logger.Info("runtime ready",
		slog.String("provider", rt.Generator.Name()),
		slog.Int("kinds", rt.Kinds.Count()),
		slog.Int("max_attempts", orch.MaxAttempts()),
		slog.Bool("event_log", rt.Store != nil))
	return rt, nil
}

// Start launches the background jobs.
func (rt *Runtime) Start(ctx context.Context) error {
	return rt.Scheduler.Start(ctx)
}

// Ready reports whether every dependency can serve traffic.
func (rt *Runtime) Ready(ctx context.Context) error {
	if rt.Store != nil {
		if err := rt.Store.Ping(ctx); err != nil {
			return err
		}
	}
	if rt.Generator.Breaker().State() == llm.CircuitOpen {
		return fmt.Errorf("%s backend circuit is open", rt.Generator.Name())
	}
	return nil
}

// Close drains in-flight work, stops the jobs and closes the store.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := rt.Gate.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain: %w", err))
	}
	if err := rt.Scheduler.Stop(); err != nil {
		errs = append(errs, err)
	}
	if rt.Store != nil {
		shutdownStart := time.Now()
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.Logger.Debug("event log closed", slog.Duration("took", time.Since(shutdownStart)))
	}
	return errors.Join(errs...)
}

// resolveAPIKey prefers the configured key and falls back to the vault.
func (rt *Runtime) resolveAPIKey(ctx context.Context) (string, error) {
	cfg := rt.Config
	if cfg.LLMAPIKey != "" || cfg.LLMProvider == llm.ProviderMock {
		return cfg.LLMAPIKey, nil
	}
	if cfg.VaultKey == "" {
		return "", nil
	}
	if rt.Vault == nil {
		return "", schema.NewError(schema.ErrCodeVault, "vault passphrase set but the event log is disabled (db_path is empty)")
	}
	key, err := rt.Vault.Resolve(ctx, secrets.KeyLLMAPIKey)
	if err != nil {
		return "", fmt.Errorf("resolve %s from vault: %w", secrets.KeyLLMAPIKey, err)
	}
	rt.Logger.Info("generator API key unsealed from vault")
	return string(key), nil
}

func (rt *Runtime) closeStore() {
	if rt.Store != nil {
		_ = rt.Store.Close()
	}
}
