package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"healthintel.local/gateway/internal/analysis"
	"healthintel.local/gateway/internal/config"
	"healthintel.local/gateway/internal/dispatch"
	"healthintel.local/gateway/internal/httpapi"
	"healthintel.local/gateway/internal/search"
	"healthintel.local/gateway/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.GatewayFromYAMLAndEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http_addr)")
	return cmd
}

func runServe(ctx context.Context, cfg config.GatewayConfig) error {
	logger, err := newLogger(cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	extractor, grounder, err := resolveProviders(registry, cfg, logger)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()

	dispatcher := dispatch.New(logger, buildSubscribers(cfg, logger))
	svc, err := analysis.NewService(analysis.Deps{
		Store:     store,
		Extractor: extractor,
		Grounder:  grounder,
		Events:    dispatcher,
		Logger:    logger.Named("analysis"),
	}, analysis.Config{
		ExtractionModel: cfg.ExtractionModel,
		AnalysisModel:   cfg.AnalysisModel,
		GroundingModel:  cfg.GroundingModel,
		HistoryLimit:    cfg.HistoryLimit,
		AnalysisTimeout: cfg.AnalysisTimeout,
	})
	if err != nil {
		return err
	}

	var searchSvc *search.Service
	if grounder != nil {
		searchSvc = search.NewService(grounder, cfg.GroundingModel, logger.Named("search"))
	}

	scheduler := session.NewScheduler(logger.Named("scheduler"), cfg.SessionQueueSize)
	sweeper := session.NewSweeper(store, logger.Named("sweeper"), cfg.SessionTTL, cfg.SweepInterval, func(ctx context.Context, id string) {
		svc.Expire(ctx, id)
		scheduler.Forget(id)
	})

	srv := httpapi.NewServer(logger, httpapi.Options{Addr: cfg.HTTPAddr, Production: cfg.IsProduction()}, svc, searchSvc, scheduler)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Strings("providers", registry.Names()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server crashed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return sweeper.Run(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
		scheduler.Close()
		svc.Close()
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			logger.Warn("event delivery did not drain", zap.Error(err))
		}
		return nil
	})

	err = group.Wait()
	logger.Info("stopped")
	return err
}
