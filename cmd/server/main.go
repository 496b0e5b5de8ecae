package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"gembalance-go/internal/config"
	"gembalance-go/internal/constants"
	"gembalance-go/internal/credential"
	"gembalance-go/internal/logging"
	srv "gembalance-go/internal/server"
	upgem "gembalance-go/internal/upstream/gemini"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	log.Infof("starting gembalance (config: %s)", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := srv.OpenStorage(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage backend")
	}
	defer store.Close()

	recovery, err := credential.ParseRecoveryPolicy(cfg.RecoveryPolicy)
	if err != nil {
		log.WithError(err).Fatal("invalid recovery policy")
	}
	pool := credential.NewPool(store, credential.Options{
		MaxFailures: cfg.MaxFailures,
		Recovery:    recovery,
	})
	if len(cfg.APIKeys) == 0 {
		log.Warn("no API keys configured, all proxy requests will fail until keys are seeded")
	}
	if err := pool.Initialize(ctx, cfg.APIKeys); err != nil {
		log.WithError(err).Fatal("failed to seed credential pool")
	}
	log.WithField("keys", len(cfg.APIKeys)).Info("credential pool seeded")

	client := upgem.New(upgem.Options{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout(),
		MaxAttempts:    cfg.StreamMaxAttempts,
		RetryBaseDelay: cfg.StreamRetryBaseDelay(),
	})

	// Pick up credential additions from config file edits without restart.
	watcher := config.Watch(*configPath, func(next *config.Config) {
		if err := pool.Initialize(context.Background(), next.APIKeys); err != nil {
			log.WithError(err).Warn("failed to seed new credentials from reloaded config")
			return
		}
		log.WithField("keys", len(next.APIKeys)).Info("credential pool re-seeded from reloaded config")
	})
	defer watcher.Stop()

	engine := srv.Build(cfg, srv.Dependencies{Pool: pool, Client: client, Storage: store})
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("http server listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	log.Info("server stopped")
}
