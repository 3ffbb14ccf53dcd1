// Package main is the entry point for the agentcore orchestration service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/admin"
	"github.com/kandev/agentcore/internal/agent"
	"github.com/kandev/agentcore/internal/eventbus"
	"github.com/kandev/agentcore/internal/history"
	"github.com/kandev/agentcore/internal/history/pgstore"
	"github.com/kandev/agentcore/internal/history/sqlitestore"
	"github.com/kandev/agentcore/internal/messaging"
	"github.com/kandev/agentcore/internal/messaging/natsbridge"
	"github.com/kandev/agentcore/internal/orchestrator"
	"github.com/kandev/agentcore/internal/platform/config"
	"github.com/kandev/agentcore/internal/platform/logger"
	"github.com/kandev/agentcore/internal/platform/tracing"
	"github.com/kandev/agentcore/internal/security"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentcore")

	// 3. Install the process-wide tracer provider
	tracing.Init("agentcore")
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer provider shutdown error", zap.Error(err))
		}
	}()

	// 4. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Wire the EventBus and MessageBus
	events := eventbus.New(eventbus.Config{
		BroadcastCapacity: cfg.EventBus.BroadcastCapacity,
		MaxHistorySize:    cfg.EventBus.MaxHistorySize,
	}, log)

	bus := messaging.New(messaging.Config{
		BroadcastCapacity:       cfg.MessageBus.BroadcastCapacity,
		MaxHistorySize:          cfg.MessageBus.MaxHistorySize,
		ExpirationCheckInterval: cfg.MessageBus.ExpirationCheckInterval(),
		AckTimeout:              cfg.MessageBus.AckTimeout(),
	}, log)
	defer bus.Close()

	// 6. Optional NATS broadcast mirror
	if cfg.NATS.URL != "" {
		bridge, err := natsbridge.Connect(cfg.NATS.URL, cfg.NATS.Subject, events, log)
		if err != nil {
			log.Warn("NATS broadcast bridge unavailable, continuing without it", zap.Error(err))
		} else {
			defer bridge.Close()
			log.Info("NATS broadcast bridge connected", zap.String("url", cfg.NATS.URL))
		}
	}

	// 7. Optional durable history store, mirroring every published event
	store, err := openHistoryStore(ctx, cfg.History)
	if err != nil {
		log.Warn("durable history store unavailable, continuing without it", zap.Error(err))
	} else if store != nil {
		defer store.Close()
		go mirrorToHistory(ctx, events, store, log)
		log.Info("durable history store connected", zap.String("driver", cfg.History.Driver))
	}

	// 8. Build the agent registry and register one instance per known type
	registryCfg := agent.Config{
		Enabled:             true,
		HealthCheckInterval: cfg.Registry.HealthCheckInterval(),
		MaxRetries:          cfg.Registry.MaxRetries,
		RestartDelay:        cfg.Registry.RestartDelay(),
		Timeout:             cfg.Registry.Timeout(),
		Custom:              map[string]string{},
	}
	registry := agent.NewRegistry(events, nil, log)

	auditor := security.New(nil, log)
	if cfg.Security.RuleOverridesPath != "" {
		if err := auditor.LoadOverrides(cfg.Security.RuleOverridesPath); err != nil {
			log.Warn("security rule overrides unavailable, continuing with built-in severities", zap.Error(err))
		} else {
			log.Info("security rule overrides loaded", zap.String("path", cfg.Security.RuleOverridesPath))
		}
	}

	for _, t := range []agent.Type{
		agent.TypeRequirementsParser,
		agent.TypeContractGenerator,
		agent.TypeSecurityAuditor,
		agent.TypeCompiler,
		agent.TypeDeployment,
	} {
		inst := registry.Register(t, registryCfg)
		if err := inst.Start(ctx); err != nil {
			log.Error("failed to start agent", zap.String("type", string(t)), zap.Error(err))
		}
	}

	// 9. Wire the orchestrator's stage handlers. SecurityAuditor's handler
	// runs the real audit pipeline; the rest are placeholder pass-throughs
	// until their concrete worker bodies exist.
	handlers := map[agent.Type]orchestrator.Handler{
		agent.TypeRequirementsParser: passthroughHandler,
		agent.TypeContractGenerator:  passthroughHandler,
		agent.TypeCompiler:           passthroughHandler,
		agent.TypeDeployment:         passthroughHandler,
		agent.TypeSecurityAuditor:    securityAuditHandler(auditor),
	}

	orchCfg := orchestrator.Config{
		MaxConcurrentTasks:   cfg.Orchestrator.MaxConcurrentTasks,
		SubmitTimeout:        cfg.Orchestrator.SubmitTimeout(),
		DispatchTimeout:      cfg.Orchestrator.DispatchTimeout(),
		StageTimeout:         cfg.Orchestrator.StageTimeout(),
		MaxRetries:           cfg.Orchestrator.MaxRetries,
		BaseBackoff:          cfg.Orchestrator.BaseBackoff(),
		DispatchPollInterval: 20 * time.Millisecond,
		QueuePollInterval:    10 * time.Millisecond,
	}
	orch := orchestrator.New(orchCfg, registry, bus, events, handlers, log)
	defer orch.Close()

	// 10. Optional admin HTTP/WebSocket inspection server
	server := admin.NewServer(admin.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, registry, events, orch, log)
	go func() {
		if err := server.Run(); err != nil {
			log.Error("admin server stopped", zap.Error(err))
		}
	}()

	log.Info("agentcore ready", zap.Int("agents", registry.Count()))

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentcore")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown error", zap.Error(err))
	}

	for id, err := range registry.StopAll(shutdownCtx) {
		if err != nil {
			log.Error("failed to stop agent", zap.String("agent_id", id), zap.Error(err))
		}
	}

	cancel()
	log.Info("agentcore stopped")
}

// passthroughHandler is a placeholder stage body that returns its input
// unchanged; it lets the pipeline be exercised end to end before every
// worker kind has a concrete implementation.
func passthroughHandler(ctx context.Context, task *orchestrator.StageTask) (interface{}, error) {
	return task.Payload, nil
}

// auditRequest is the stable payload shape documented for the
// SecurityAuditor stage: { source, options }.
type auditRequest struct {
	Source  string           `json:"source"`
	Options security.Options `json:"options"`
}

// auditResponse is the stable response shape: { report, confidence }.
type auditResponse struct {
	Report     *security.Report `json:"report"`
	Confidence float64          `json:"confidence"`
}

func securityAuditHandler(a *security.Auditor) orchestrator.Handler {
	return func(ctx context.Context, task *orchestrator.StageTask) (interface{}, error) {
		req, ok := task.Payload.(auditRequest)
		if !ok {
			return nil, fmt.Errorf("security stage: unexpected payload type %T", task.Payload)
		}
		report, confidence, err := a.Audit(ctx, req.Source, req.Options)
		if err != nil {
			return nil, err
		}
		return auditResponse{Report: report, Confidence: confidence}, nil
	}
}

// openHistoryStore builds the configured durable history.Store, or
// returns a nil Store when no driver is configured.
func openHistoryStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return sqlitestore.Open(cfg.DSN)
	case "postgres":
		return pgstore.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// mirrorToHistory subscribes to every broadcast event and appends it to
// store, logging (but never panicking on) individual append failures.
func mirrorToHistory(ctx context.Context, events *eventbus.Bus, store history.Store, log *logger.Logger) {
	ch, unsubscribe := events.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			rec := history.Record{
				ID: ev.ID, Type: string(ev.Type), SourceID: ev.SourceID, Data: ev.Data, Timestamp: ev.Timestamp,
			}
			if err := store.Append(ctx, rec); err != nil {
				log.Warn("failed to append event to durable history", zap.Error(err))
			}
		}
	}
}
