package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duckietown/dt-code-api/internal/checker"
	"github.com/duckietown/dt-code-api/internal/clock"
	"github.com/duckietown/dt-code-api/internal/config"
	"github.com/duckietown/dt-code-api/internal/docker"
	"github.com/duckietown/dt-code-api/internal/httpapi"
	"github.com/duckietown/dt-code-api/internal/imageindex"
	"github.com/duckietown/dt-code-api/internal/logging"
	"github.com/duckietown/dt-code-api/internal/notify"
	"github.com/duckietown/dt-code-api/internal/registry"
	"github.com/duckietown/dt-code-api/internal/runner"
	"github.com/duckietown/dt-code-api/internal/store"
	"github.com/duckietown/dt-code-api/internal/updater"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogJSON, cfg.Debug)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockerClient, err := docker.NewClient(cfg.TargetEndpoint)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer dockerClient.Close()

	if err := dockerClient.Ping(ctx); err != nil {
		log.Error("docker daemon not reachable", "endpoint", cfg.TargetEndpoint, "error", err)
		os.Exit(1)
	}

	reported, err := dockerClient.Architecture(ctx)
	if err != nil {
		log.Error("failed to read endpoint architecture", "error", err)
		os.Exit(1)
	}
	arch, err := config.CanonicalArch(reported)
	if err != nil {
		log.Error("unsupported endpoint architecture", "architecture", reported)
		os.Exit(1)
	}
	log.Info("endpoint architecture resolved", "reported", reported, "arch", arch)

	history, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer history.Close()

	notifiers := []notify.Notifier{notify.NewLogNotifier(log)}
	if cfg.MQTTBroker != "" {
		notifiers = append(notifiers, notify.NewMQTT(cfg.MQTTBroker, cfg.MQTTTopic))
		log.Info("mqtt notifications enabled", "broker", cfg.MQTTBroker, "topic", cfg.MQTTTopic)
	}
	notifier := notify.NewMulti(log, notifiers...)

	reg := registry.New()
	clk := clock.Real{}
	index := imageindex.New("", log)

	chk, err := checker.New(dockerClient, index, reg, cfg, log, clk, notifier, arch)
	if err != nil {
		log.Error("failed to create update checker", "error", err)
		os.Exit(1)
	}

	compose := updater.NewExecComposeRunner(log)
	upd := updater.New(dockerClient, reg, cfg, log, clk, notifier, history, compose)
	run := runner.New(dockerClient, reg, cfg, log, clk, notifier)

	server := httpapi.NewServer(ctx, httpapi.Dependencies{
		Registry: reg,
		Checker:  chk,
		Updater:  upd,
		Runner:   run,
		Docker:   dockerClient,
		History:  history,
		Log:      log,
	})

	go chk.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(":" + cfg.HTTPPort)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
}
