// Package app composes the agent core from configuration: providers wrapped
// with resilience, routing, skills, persistence and the orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stewardai/steward"
	"github.com/stewardai/steward/internal/config"
	"github.com/stewardai/steward/observer"
	"github.com/stewardai/steward/provider/resolve"
	"github.com/stewardai/steward/redisrate"
	"github.com/stewardai/steward/store/postgres"
	"github.com/stewardai/steward/store/sqlite"
)

// Deps holds injected dependencies for the App.
type Deps struct {
	Frontend    steward.Frontend
	Skills      []steward.Skill
	SkillConfig map[string]string // available config keys for skill registration
	Logger      *slog.Logger
}

// App is the running steward process: the orchestrator plus the resources it
// owns (stores, clients, observer pipeline).
type App struct {
	cfg      config.Config
	frontend steward.Frontend
	orch     *steward.Orchestrator
	registry *steward.SkillRegistry
	bus      *steward.EventBus
	usage    *steward.UsageTracker
	logger   *slog.Logger

	turnLog     steward.TurnLog
	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	obsShutdown func(context.Context) error

	startedAt time.Time
}

// Build wires the whole pipeline from a validated config. The caller must
// have checked cfg.Validate() first; Build assumes a startable config.
func Build(ctx context.Context, cfg config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:       cfg,
		frontend:  deps.Frontend,
		logger:    logger,
		startedAt: time.Now(),
	}

	a.bus = steward.NewEventBus()

	pricing := pricingTable(cfg.Usage.Pricing)

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var err error
		inst, a.obsShutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return nil, fmt.Errorf("observer init: %w", err)
		}
	}

	if err := a.buildPersistence(ctx, cfg); err != nil {
		a.Close(ctx)
		return nil, err
	}
	safeLog := steward.NewSafeLog(a.turnLog, logger)
	steward.BridgeAlerts(a.bus, safeLog)

	a.usage = steward.NewUsageTracker(a.bus,
		steward.Pricing(pricing),
		steward.DailyAlertThreshold(cfg.Usage.DailyAlertThreshold),
		steward.UsageLogger(logger),
		steward.UsagePersistence(safeLog),
	)

	limiter, err := a.buildLimiter(cfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	confirmations := steward.NewConfirmationManager(a.bus,
		steward.TokenTTL(time.Duration(cfg.Confirmation.TTLMinutes)*time.Minute),
		steward.AbusePolicy(time.Duration(cfg.Confirmation.AbuseWindowMinutes)*time.Minute, cfg.Confirmation.AbuseThreshold),
		steward.ConfirmLogger(logger),
	)

	a.registry = steward.NewSkillRegistry(
		steward.NewHealthTracker(),
		limiter,
		steward.ToolTimeout(time.Duration(cfg.Budgets.ToolTimeoutSeconds)*time.Second),
		steward.RegistryLogger(logger),
		steward.Confirmations(confirmations),
	)
	for _, s := range deps.Skills {
		if inst != nil {
			s = observer.WrapSkill(s, inst)
		}
		if err := a.registry.Register(s, deps.SkillConfig,
			steward.RatePolicy(steward.Limit{
				Max:    cfg.RateLimit.DefaultMax,
				Window: time.Duration(cfg.RateLimit.DefaultWindowSeconds) * time.Second,
			})); err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("register skill: %w", err)
		}
	}

	manager, err := a.buildManager(cfg, inst, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	classifier := steward.NewTierClassifier(
		steward.HeavyTools(cfg.Tier.HeavyTools...),
		steward.HeavyPatterns(cfg.Tier.HeavyPatterns...),
		steward.HeavyMessageLength(cfg.Tier.HeavyMessageLength),
	)

	loop := steward.NewAgentLoop(manager, a.registry, steward.LoopLogger(logger))

	a.orch = steward.NewOrchestrator(
		manager, classifier, a.registry, confirmations, loop, a.usage,
		steward.SystemPrompt(cfg.App.SystemPrompt),
		steward.TurnBudgets(cfg.Budgets.MaxToolCalls, cfg.Budgets.MaxTokenBudget, cfg.Budgets.MaxResponseTokens),
		steward.TurnToolTimeout(time.Duration(cfg.Budgets.ToolTimeoutSeconds)*time.Second),
		steward.TurnLogging(safeLog),
		steward.OrchestratorLogger(logger),
	)

	return a, nil
}

// buildPersistence opens the configured TurnLog backend and initializes its
// schema. An empty driver leaves persistence disabled.
func (a *App) buildPersistence(ctx context.Context, cfg config.Config) error {
	switch cfg.Database.Driver {
	case "", "none":
		return nil
	case "sqlite":
		log := sqlite.New(cfg.Database.Path, sqlite.WithLogger(a.logger))
		if err := log.Init(ctx); err != nil {
			return fmt.Errorf("sqlite init: %w", err)
		}
		a.turnLog = log
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		a.pgPool = pool
		log := postgres.New(pool)
		if err := log.Init(ctx); err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
		a.turnLog = log
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	return nil
}

// buildLimiter creates the configured rate limiter backend.
func (a *App) buildLimiter(cfg config.Config) (steward.RateLimiter, error) {
	switch cfg.RateLimit.Backend {
	case "", "memory":
		return steward.NewMemoryRateLimiter(), nil
	case "redis":
		a.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
		})
		return redisrate.New(a.redisClient), nil
	default:
		return nil, fmt.Errorf("unknown ratelimit backend %q", cfg.RateLimit.Backend)
	}
}

// buildManager resolves each configured provider, wraps it with observability
// and resilience, and registers it with the routing manager.
func (a *App) buildManager(cfg config.Config, inst *observer.Instruments, logger *slog.Logger) (*steward.ProviderManager, error) {
	opts := []steward.ManagerOption{
		steward.FailoverChain(cfg.Router.Failover...),
		steward.ManagerLogger(logger),
	}
	for tierName, model := range cfg.Router.TierModels {
		opts = append(opts, steward.TierDefault(steward.Tier(tierName), cfg.Router.DefaultProvider, model))
	}

	manager := steward.NewProviderManager(cfg.Router.DefaultProvider, cfg.Router.DefaultModel, opts...)

	for _, pc := range cfg.Providers {
		p, err := resolve.Provider(resolve.Config{
			Provider: pc.Name,
			APIKey:   pc.APIKey,
			BaseURL:  pc.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		if inst != nil {
			p = observer.WrapProvider(p, inst)
		}
		breaker := steward.NewBreaker(
			steward.FailureThreshold(cfg.Breaker.FailureThreshold),
			steward.ResetTimeout(time.Duration(cfg.Breaker.ResetTimeoutSeconds)*time.Second),
		)
		resilient := steward.WithResilience(p, breaker, a.bus, steward.ResilienceLogger(logger))
		manager.Register(pc.Name, resilient, breaker, pc.Models)
	}
	return manager, nil
}

// Orchestrator exposes the turn pipeline, for frontends that dispatch
// directly.
func (a *App) Orchestrator() *steward.Orchestrator { return a.orch }

// Bus exposes the event bus for additional subscribers.
func (a *App) Bus() *steward.EventBus { return a.bus }

// Usage exposes the usage tracker, for reporting surfaces.
func (a *App) Usage() *steward.UsageTracker { return a.usage }

// Run starts the application: skill startup, message polling, periodic
// confirmation cleanup. It blocks until ctx is cancelled or the frontend
// closes its channel, then shuts the skills down.
func (a *App) Run(ctx context.Context) error {
	if err := a.registry.Startup(ctx); err != nil {
		return fmt.Errorf("skill startup: %w", err)
	}

	msgs, err := a.frontend.Poll(ctx)
	if err != nil {
		return fmt.Errorf("frontend poll: %w", err)
	}

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()

	a.logger.Info("steward running", "providers", len(a.cfg.Providers), "skills", len(a.registry.SkillNames()))

	// In-flight turns drain before the skills shut down.
	var wg sync.WaitGroup
	defer a.shutdown()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("steward shutting down")
			return ctx.Err()
		case <-cleanup.C:
			a.orch.Cleanup()
		case req, ok := <-msgs:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply := a.orch.HandleMessage(ctx, req)
				if err := a.frontend.Send(ctx, req.Channel, req.UserID, reply); err != nil {
					a.logger.Error("reply send failed", "channel", req.Channel, "error", err)
				}
			}()
		}
	}
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// shutdown stops the skills with a bounded grace period.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.registry.Shutdown(ctx)
}

// Close releases resources owned by the App: the turn log, external clients,
// and the observer pipeline.
func (a *App) Close(ctx context.Context) {
	if a.turnLog != nil {
		if err := a.turnLog.Close(); err != nil {
			a.logger.Warn("turn log close failed", "error", err)
		}
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis close failed", "error", err)
		}
	}
	if a.obsShutdown != nil {
		if err := a.obsShutdown(ctx); err != nil {
			a.logger.Warn("observer shutdown failed", "error", err)
		}
	}
}

func pricingTable(entries map[string]config.PricingEntry) map[string]steward.ModelPricing {
	out := make(map[string]steward.ModelPricing, len(entries))
	for model, e := range entries {
		out[model] = steward.ModelPricing{InputPerMillion: e.Input, OutputPerMillion: e.Output}
	}
	return out
}
