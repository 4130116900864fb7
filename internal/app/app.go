package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/semmidev/dbvault/internal/adapter/compressor"
	"github.com/semmidev/dbvault/internal/adapter/database"
	"github.com/semmidev/dbvault/internal/adapter/notifier"
	"github.com/semmidev/dbvault/internal/adapter/storage"
	"github.com/semmidev/dbvault/internal/config"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/logger"
	"github.com/semmidev/dbvault/internal/infrastructure/metrics"
	"github.com/semmidev/dbvault/internal/infrastructure/scheduler"
	"github.com/semmidev/dbvault/internal/infrastructure/workspace"
	"github.com/semmidev/dbvault/internal/usecase"
)

type App struct {
	config      *config.Config
	logger      *logger.Logger
	metrics     *metrics.RegistryImpl
	scheduler   *scheduler.Scheduler
	cycle       *usecase.Cycle
	retention   *usecase.Retention
	wg          sync.WaitGroup
	stopMetrics context.CancelFunc
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting dbvault")
	log.Infof("Found %d database(s) configured", len(cfg.Backup.Databases))

	ws, err := workspace.New(cfg.App.TempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize workspace: %w", err)
	}
	// Scopes older than the longest possible run belong to a dead process.
	staleAfter := cfg.Timeouts.Dump + cfg.Timeouts.Archive + cfg.Timeouts.Upload
	if removed, err := ws.Sweep(time.Now().Add(-staleAfter)); err != nil {
		log.Warnf("Failed to sweep stale scratch directories: %v", err)
	} else if len(removed) > 0 {
		log.Infof("Removed %d stale scratch director(ies) from %s", len(removed), cfg.App.TempDir)
	}

	store, err := storage.NewS3(ctx, cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3: %w", err)
	}
	log.Infof("✓ S3 upload enabled (bucket: %s)", cfg.S3.Bucket)

	notif := notifier.NewTelegram(cfg.Telegram, cfg.Timeouts.Notify, log)
	if cfg.NotificationsEnabled() {
		log.Infof("✓ Telegram notifications enabled for %d chat(s)", len(cfg.Telegram.ChatIDs))
	}

	dumpers := database.New(cfg.Dumpers)
	checkTargets(cfg.Backup.Databases, dumpers, log)

	reg := metrics.New()
	clock := clockwork.NewRealClock()

	return &App{
		config:    cfg,
		logger:    log,
		metrics:   reg,
		scheduler: scheduler.New(log),
		cycle: usecase.NewCycle(
			dumpers,
			compressor.NewTarGz(),
			store,
			notif,
			ws,
			reg,
			clock,
			log,
			cfg.Timeouts,
			cfg.Backup.AbortOnUnknownEngine,
		),
		retention:   usecase.NewRetention(store, reg, clock, log, cfg.Backup.RetentionDays),
		stopMetrics: func() {},
	}, nil
}

// checkTargets reports at startup what each configured target will do, so
// a typo shows up before the first scheduled run.
func checkTargets(targets []string, dumpers map[domain.Engine]domain.Dumper, log *logger.Logger) {
	for _, raw := range targets {
		target, err := domain.ParseTarget(raw)
		if err != nil {
			log.Warnf("Invalid database entry: %v", err)
			continue
		}
		if _, ok := dumpers[target.Engine]; !ok {
			log.Warnf("Unsupported database type %q for %s", target.Scheme, target.Redacted())
			continue
		}
		log.Infof("✓ Backup configured for %s", target)
	}
}

// RunOnce runs one backup cycle followed by the retention sweep when enabled.
func (a *App) RunOnce(ctx context.Context) error {
	a.cycle.Run(ctx, a.config.Backup.Databases)

	if a.retention.Enabled() {
		if err := a.retention.Execute(ctx); err != nil {
			return fmt.Errorf("retention: %w", err)
		}
	}
	return nil
}

// Run serves metrics, performs the startup run and then stays resident on
// the cron schedule until ctx is cancelled. Without a schedule it returns
// after the startup run.
func (a *App) Run(ctx context.Context) error {
	if addr := a.config.App.MetricsAddr; addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		if _, err := a.metrics.Serve(metricsCtx, &a.wg, addr, a.logger); err != nil {
			cancel()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		a.stopMetrics = cancel
	}

	if a.config.Backup.RunOnStartup {
		a.logger.Infof("=== Running startup backup ===")
		if err := a.RunOnce(ctx); err != nil {
			a.logger.Errorf("Startup backup: %v", err)
		}
	}

	if a.config.Backup.Cron == "" {
		a.logger.Infof("No CRON schedule configured, exiting after startup backup")
		return nil
	}

	err := a.scheduler.AddJob(ctx, "backup", a.config.Backup.Cron, func(ctx context.Context) error {
		a.logger.Infof("=== Triggered scheduled backup ===")
		return a.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started (%s), next backup at %s",
		a.config.Backup.Cron, a.scheduler.Next().Format(time.RFC3339))

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()
	a.stopMetrics()
	a.wg.Wait()
	a.logger.Close()
}
