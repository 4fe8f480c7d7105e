// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-dev/warden/internal/batch"
	"github.com/warden-dev/warden/internal/channel/telegram"
	"github.com/warden-dev/warden/internal/config"
	"github.com/warden-dev/warden/internal/detector"
	"github.com/warden-dev/warden/internal/detector/classifier"
	"github.com/warden-dev/warden/internal/detector/contextual"
	"github.com/warden-dev/warden/internal/detector/pattern"
	"github.com/warden-dev/warden/internal/pipeline"
	"github.com/warden-dev/warden/internal/rules"
	"github.com/warden-dev/warden/internal/scheduler"
	"github.com/warden-dev/warden/internal/server"
	"github.com/warden-dev/warden/internal/store"
	_ "github.com/warden-dev/warden/internal/store/sqlite"
	"github.com/warden-dev/warden/internal/synthesis"
	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the warden daemon",
		Long:  "Load configuration, initialize the moderation core, and start the Telegram adapter and admin API.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override admin API listen address (host:port)")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	setupLogging(cfg.Logging, verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Config{Backend: cfg.Storage.Backend, Path: cfg.Storage.Path})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	synth, err := synthesis.New(synthesis.Config{
		APIKey:  cfg.Synthesis.APIKey,
		BaseURL: cfg.Synthesis.BaseURL,
		Model:   cfg.Synthesis.Model,
	})
	if err != nil {
		return err
	}

	registry := rules.NewRegistry()
	ruleSvc := rules.NewService(registry, st, synth)
	if err := ruleSvc.Bootstrap(ctx); err != nil {
		return err
	}

	patternStage := pattern.New(registry, pattern.Config{
		Workers:   cfg.Stages.Pattern.Workers,
		PoolDepth: cfg.Stages.Pattern.PoolDepth,
	})
	defer patternStage.Close()

	classifierStage, err := classifier.New(classifier.Config{
		APIKey:  cfg.Stages.Classifier.APIKey,
		BaseURL: cfg.Stages.Classifier.BaseURL,
		Model:   cfg.Stages.Classifier.Model,
		Gate:    gateConfig(cfg.Stages.Classifier),
	})
	if err != nil {
		return err
	}

	contextualStage, err := contextual.New(contextual.Config{
		APIKey:  cfg.Stages.Contextual.APIKey,
		BaseURL: cfg.Stages.Contextual.BaseURL,
		Model:   cfg.Stages.Contextual.Model,
		Gate:    gateConfig(cfg.Stages.Contextual),
	})
	if err != nil {
		return err
	}

	pipe := pipeline.New([]pipeline.Stage{patternStage, classifierStage, contextualStage}, registry)

	batcher := batch.New(batch.Config{
		MaxSize:    cfg.Batch.MaxSize,
		MaxDelay:   cfg.Batch.MaxDelay,
		QueueDepth: cfg.Batch.QueueDepth,
	})

	bot := telegram.New(telegram.Config{
		Token:    cfg.Telegram.Token,
		AdminIDs: cfg.Telegram.AdminIDs,
		Debug:    cfg.Telegram.Debug,
	}, batcher, ruleSvc)

	sched := scheduler.New(scheduler.Config{
		MaxInFlight:      cfg.Scheduler.MaxInFlight,
		ShutdownGrace:    cfg.Scheduler.ShutdownGrace,
		FailureThreshold: cfg.Scheduler.FailureThreshold,
		AutoResumeAfter:  cfg.Scheduler.AutoResumeAfter,
	}, pipe, batcher, st, bot.OnDecision)

	if err := sched.Start(ctx); err != nil {
		return err
	}

	srv, err := server.New(server.Config{ListenAddr: cfg.Server.Listen})
	if err != nil {
		return err
	}
	srv.RegisterServices(&server.Services{
		Rules:     ruleSvc,
		Stages:    sched,
		Incidents: st,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- srv.Start(ctx)
	}()
	if cfg.Telegram.Token != "" {
		go func() {
			errCh <- bot.Start(ctx)
		}()
	} else {
		slog.Info("telegram adapter disabled, no token configured")
	}

	slog.Info("warden started", "listen", cfg.Server.Listen, "storage", cfg.Storage.Backend)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownGrace+10*time.Second)
	defer cancel()
	if err := sched.Close(closeCtx); err != nil {
		if runErr == nil {
			runErr = err
		}
		slog.Error("scheduler shutdown incomplete", "error", err,
			"code", wardenerr.CodeOf(err))
	}
	return runErr
}

func gateConfig(stage config.RemoteStage) detector.GateConfig {
	return detector.GateConfig{
		Concurrency: stage.Concurrency,
		RPS:         stage.RPS,
		Burst:       stage.Burst,
		Timeout:     stage.Timeout,
	}
}

func setupLogging(cfg config.LoggingConfig, verbose bool) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
