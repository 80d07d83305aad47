package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/carevox/carevox/internal/dotenv"
	"github.com/carevox/carevox/pkg/core/conversation"
	"github.com/carevox/carevox/pkg/core/escalation"
	"github.com/carevox/carevox/pkg/core/flow"
	"github.com/carevox/carevox/pkg/core/sched"
	"github.com/carevox/carevox/pkg/gateway/config"
	"github.com/carevox/carevox/pkg/gateway/lifecycle"
	gatewayserver "github.com/carevox/carevox/pkg/gateway/server"
	"github.com/carevox/carevox/pkg/metrics"
	"github.com/carevox/carevox/pkg/nlu"
	"github.com/carevox/carevox/pkg/staff"
	"github.com/carevox/carevox/pkg/store"
)

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// buildDeps wires the long-lived components in dependency order and returns
// a close function that tears them down in reverse.
func buildDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (gatewayserver.Deps, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var st store.Store
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Address:  cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return gatewayserver.Deps{}, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { rs.Close() })
		st = rs
	} else {
		logger.Warn("no redis address configured, using in-memory store (development only)")
		st = store.NewMemoryStore()
	}

	scheduler := sched.New()
	closers = append(closers, scheduler.Stop)

	collector := metrics.NewCollector()

	convMgr, err := conversation.New(conversation.Dependencies{
		Store:     st,
		Scheduler: scheduler,
		Flow:      flow.New(flow.Config{SmartTransitions: true}, logger),
		Logger:    logger,
		Metrics:   collector,
	}, conversation.Config{
		SessionTimeout:    cfg.SessionTimeout,
		WarningTimeouts:   cfg.WarningTimeouts,
		GracePeriod:       cfg.GracePeriod,
		ActiveTTL:         cfg.ActiveTTL,
		PostCallRetention: cfg.PostCallRetention,
	})
	if err != nil {
		closeAll()
		return gatewayserver.Deps{}, nil, fmt.Errorf("conversation manager: %w", err)
	}
	closers = append(closers, convMgr.Close)

	repo, err := escalation.NewRepository(cfg.EscalationDBPath)
	if err != nil {
		closeAll()
		return gatewayserver.Deps{}, nil, fmt.Errorf("escalation repository: %w", err)
	}
	closers = append(closers, func() { repo.Close() })

	hub := staff.NewHub(logger, collector, staff.Config{
		HeartbeatTimeout: cfg.StaffHeartbeatTimeout,
		SweepInterval:    cfg.StaffSweepInterval,
		QueueMaxAttempts: cfg.StaffQueueMaxAttempts,
		QueueMaxAge:      cfg.StaffQueueMaxAge,
	})
	closers = append(closers, hub.Close)

	escMgr, err := escalation.NewManager(escalation.Dependencies{
		Repository: repo,
		Detector:   escalation.NewDetector(escalation.DetectorConfig{}),
		Scheduler:  scheduler,
		Notifier:   hub,
		Logger:     logger,
		Metrics:    collector,
	}, escalation.ManagerConfig{
		SLATimeouts: cfg.SLATimeouts,
	})
	if err != nil {
		closeAll()
		return gatewayserver.Deps{}, nil, fmt.Errorf("escalation manager: %w", err)
	}
	closers = append(closers, escMgr.Close)

	var classifier nlu.Classifier
	if cfg.GeminiAPIKey != "" {
		gc, err := nlu.NewGeminiClassifier(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			closeAll()
			return gatewayserver.Deps{}, nil, fmt.Errorf("gemini classifier: %w", err)
		}
		classifier = gc
	} else {
		logger.Warn("no gemini api key configured, using keyword classifier")
		classifier = nlu.NewKeywordClassifier()
	}

	return gatewayserver.Deps{
		Conversations:        convMgr,
		Escalations:          escMgr,
		EscalationRepository: repo,
		Hub:                  hub,
		Classifier:           classifier,
		Metrics:              collector,
		Lifecycle:            &lifecycle.Lifecycle{},
	}, closeAll, nil
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	deps, closeDeps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	gw := gatewayserver.New(cfg, logger, deps)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting carevoxd", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	deps.Lifecycle.SetDraining(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("carevoxd stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "carevoxd: %v\n", err)
		return 1
	}

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "carevoxd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
