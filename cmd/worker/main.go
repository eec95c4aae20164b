// Package main is the entry point for the gamification worker.
//
// The worker owns the background side of the engine: it runs migrations,
// rotates and refreshes leaderboards, resets period XP counters, publishes
// the weekly challenge rotation, and archives ended boards. Scheduled jobs
// coordinate across instances through database advisory locks, so running
// several workers is safe.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brightmind-edu/gamification/config"
	"github.com/brightmind-edu/gamification/internal/domain/activity"
	"github.com/brightmind-edu/gamification/internal/domain/leaderboard"
	"github.com/brightmind-edu/gamification/internal/domain/shared"
	"github.com/brightmind-edu/gamification/internal/infrastructure/messaging"
	"github.com/brightmind-edu/gamification/internal/infrastructure/persistence/postgres"
	"github.com/brightmind-edu/gamification/internal/infrastructure/persistence/redis"
	"github.com/brightmind-edu/gamification/internal/infrastructure/scheduler"
	"github.com/brightmind-edu/gamification/internal/service"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	log.Info("starting gamification worker",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// Database
	// ─────────────────────────────────────────────────────────────────────────
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL,
		int32(cfg.Database.MaxConns), int32(cfg.Database.MinConns))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	migrator := postgres.NewMigrator(conn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// Redis (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var boardCache leaderboard.Cache
	if !cfg.Redis.Disabled {
		redisCfg := redis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}
		cache, err := redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("redis unavailable, leaderboard caching disabled", "error", err)
		} else {
			defer cache.Close()
			boardCache = redis.NewLeaderboardCache(cache)
			log.Info("redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Event bus
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer bus.Close()

	// Until a real notification collaborator subscribes, reward events are
	// logged so operators can watch the flow.
	for _, t := range []shared.EventType{shared.EventBadgeAwarded, shared.EventChallengeCompleted} {
		if err := bus.Subscribe(t, logRewardEvent(log)); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Repositories and engines
	// ─────────────────────────────────────────────────────────────────────────
	xpRepo := postgres.NewXPRepository(conn)
	badgeRepo := postgres.NewBadgeRepository(conn)
	challengeRepo := postgres.NewChallengeRepository(conn)
	boardRepo := postgres.NewLeaderboardRepository(conn)
	activityRepo := postgres.NewActivityRepository(conn)

	ledger := service.NewLedger(xpRepo, bus, log)
	badges := service.NewBadgeEngine(badgeRepo, activityRepo, ledger, bus, log)
	challenges := service.NewChallengeEngine(challengeRepo, activityRepo, ledger, badges, bus, log)
	boards := service.NewLeaderboardEngine(boardRepo, activityRepo, boardCache, bus, log)

	intakeCfg := service.IntakeConfig{
		XPByDifficulty: map[activity.Difficulty]int{
			activity.DifficultyEasy:   cfg.Intake.EasyXP,
			activity.DifficultyMedium: cfg.Intake.MediumXP,
			activity.DifficultyHard:   cfg.Intake.HardXP,
		},
		HintPenalty:      cfg.Intake.HintPenalty,
		MinProblemXP:     cfg.Intake.MinXP,
		StreakBonusEvery: cfg.Intake.StreakBonusEvery,
		StreakBonusXP:    cfg.Intake.StreakBonusXP,
	}
	intake := service.NewActivityIntake(activityRepo, ledger, badges, challenges, intakeCfg, log)
	if err := messaging.SubscribeActivity(bus, intake); err != nil {
		return fmt.Errorf("subscribe activity intake: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Scheduler
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		lock := postgres.NewJobLock(conn)

		schedCfg := scheduler.DefaultConfig()
		schedCfg.Logger = log
		schedCfg.MaxRetries = cfg.Scheduler.MaxRetries
		schedCfg.RetryDelay = cfg.Scheduler.RetryDelay
		sched := scheduler.New(schedCfg)

		hour, minute := cfg.Scheduler.RotationHour, cfg.Scheduler.RotationMinute

		jobs := []struct {
			job      scheduler.Job
			schedule scheduler.Schedule
		}{
			{
				&scheduler.WeeklyRotationJob{Boards: boards, Ledger: ledger, Classes: activityRepo, Lock: lock, Logger: log},
				scheduler.WeeklyAt(hour, minute),
			},
			{
				&scheduler.MonthlyRotationJob{Boards: boards, Ledger: ledger, Classes: activityRepo, Lock: lock, Logger: log},
				scheduler.MonthlyAt(hour, minute),
			},
			{
				&scheduler.ChallengeGenerationJob{Challenges: challenges, Lock: lock, Logger: log},
				scheduler.WeeklyAt(hour, minute),
			},
			{
				&scheduler.RefreshJob{Boards: boards, Lock: lock, Logger: log},
				scheduler.Every(cfg.Scheduler.RefreshInterval),
			},
			{
				&scheduler.ArchiveJob{Boards: boards, Lock: lock, Logger: log},
				scheduler.DailyAt(hour, minute),
			},
		}
		for _, j := range jobs {
			if err := sched.Register(j.job, j.schedule); err != nil {
				return fmt.Errorf("register job %s: %w", j.job.Name(), err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Error("scheduler stop failed", "error", err)
			}
		}()
	} else {
		log.Warn("scheduler disabled by configuration")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Shutdown
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("gamification worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.App.ShutdownTimeout.String())
	return nil
}

// logRewardEvent returns a handler that logs reward events at info level.
func logRewardEvent(log *slog.Logger) shared.EventHandler {
	return func(event shared.Event) error {
		log.Info("reward event",
			"event_type", string(event.EventType()),
			"aggregate_id", event.AggregateID(),
			"payload", event.Payload(),
		)
		return nil
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Observability.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" || cfg.IsDevelopment() {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}
