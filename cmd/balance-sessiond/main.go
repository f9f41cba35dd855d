// Copyright 2026 The Balance Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/balance-foundation/balance/lib/clock"
	"github.com/balance-foundation/balance/lib/config"
	"github.com/balance-foundation/balance/lib/process"
	"github.com/balance-foundation/balance/lib/service"
	"github.com/balance-foundation/balance/lib/session"
	"github.com/balance-foundation/balance/lib/sessionstore"
	"github.com/balance-foundation/balance/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var showVersion bool
	flag.StringVar(&configPath, "config", "", "path to balance.yaml (overrides BALANCE_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("balance-sessiond")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realClock := clock.Real()

	store, err := sessionstore.Open(sessionstore.Config{
		Path:   cfg.DatabasePath,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	machine, err := session.NewMachine(ctx, session.MachineConfig{
		Store:        store,
		Clock:        realClock,
		Rules:        timerRules(cfg.Timer),
		Logger:       logger,
		GateFailOpen: cfg.Gate.FailPolicy != "closed",
	})
	if err != nil {
		return err
	}

	d := &daemon{
		cfg:     cfg,
		machine: machine,
		store:   store,
		clock:   realClock,
		logger:  logger,
	}

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.ListenAddress,
		Handler: d.routes(),
		Logger:  logger,
	})
	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.Serve(ctx)
	}()

	socketServer := service.NewSocketServer(cfg.SocketPath, logger)
	d.registerActions(socketServer)
	socketDone := make(chan error, 1)
	go func() {
		socketDone <- socketServer.Serve(ctx)
	}()

	if cfg.Retention.HistoryDays > 0 {
		go d.retentionLoop(ctx)
	}

	logger.Info("balance session daemon running",
		"listen_address", cfg.ListenAddress,
		"socket", cfg.SocketPath,
		"database", cfg.DatabasePath,
		"version", version.Version,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-httpDone; err != nil {
		logger.Error("http server error", "error", err)
	}
	if err := <-socketDone; err != nil {
		logger.Error("socket server error", "error", err)
	}
	return nil
}

// timerRules converts the configuration's timer section to the state
// machine's rule set.
func timerRules(timer config.TimerConfig) session.Rules {
	return session.Rules{
		SessionDuration: timer.SessionDuration.Std(),
		Break: session.BreakRule{
			Short:     timer.ShortBreak.Std(),
			Long:      timer.LongBreak.Std(),
			LongEvery: timer.LongBreakEvery,
		},
		DailyCap:            timer.DailyCap,
		RabbitHoleThreshold: timer.RabbitHoleThreshold,
	}
}

// daemon wires the state machine and store to the transport surfaces.
type daemon struct {
	cfg     *config.Config
	machine *session.Machine
	store   *sessionstore.Store
	clock   clock.Clock
	logger  *slog.Logger
}

// retentionLoop prunes old session history on the configured interval.
// The first sweep runs one interval after startup, not immediately; a
// daemon restarting in a crash loop should not hammer the database.
func (d *daemon) retentionLoop(ctx context.Context) {
	interval := d.cfg.Retention.SweepInterval.Std()
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := d.clock.Now().Add(-time.Duration(d.cfg.Retention.HistoryDays) * 24 * time.Hour)
			if _, err := d.store.PruneHistory(ctx, cutoff); err != nil {
				d.logger.Error("history prune failed", "error", err)
			}
		}
	}
}
