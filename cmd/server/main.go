package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/panoq/pkg/app"
	"github.com/osvaldoandrade/panoq/pkg/config"
	_ "github.com/osvaldoandrade/panoq/pkg/inference/placeholder" // Register placeholder backend (default)
	_ "github.com/osvaldoandrade/panoq/pkg/inference/remote"      // Register remote HTTP inference backend
	_ "github.com/osvaldoandrade/panoq/pkg/inference/subprocess"  // Register demo script backend
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load .env:", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigOptional(os.Getenv(config.PathEnv))
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	app.SetupMappings(application)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if !application.StartWorker() {
		fmt.Fprintln(os.Stderr, "[ERROR] start worker: could not open the task queue connection")
		_ = application.Shutdown(context.Background())
		os.Exit(1)
	}
	application.Logger.Info("http server listening", "addr", srv.Addr, "backend", cfg.InferenceBackend)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// An in-flight inference is not interrupted; the worker gets one poll
	// interval plus a grace period before the process exits anyway.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.PollTimeout()+10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := application.Shutdown(ctx); err != nil {
		application.Logger.Warn("shutdown incomplete", "err", err)
	}
}
