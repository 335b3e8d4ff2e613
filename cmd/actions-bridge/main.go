// Copyright 2026 The Hippocamp Authors
// SPDX-License-Identifier: Apache-2.0

// actions-bridge serves the Matrix actions HTTP API: send a message,
// read recent messages, and list members of a room, authenticating the
// bot account lazily on first use.
//
// Configuration comes from environment variables (see package bridge),
// optionally layered over a YAML file given via --config or
// MATRIX_ACTIONS_CONFIG. Set MATRIX_ACTIONS_DEBUG=1 for debug logging.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hippocamp/matrix-actions/bridge"
	"github.com/hippocamp/matrix-actions/lib/process"
	"github.com/hippocamp/matrix-actions/lib/service"
	"github.com/hippocamp/matrix-actions/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flags := pflag.NewFlagSet("actions-bridge", pflag.ContinueOnError)
	listenAddress := flags.String("listen", "", "TCP listen address (overrides PORT)")
	configPath := flags.String("config", os.Getenv("MATRIX_ACTIONS_CONFIG"), "optional YAML config file")
	showVersion := flags.Bool("version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *showVersion {
		fmt.Println(version.Full())
		return nil
	}

	logger := newLogger()
	slog.SetDefault(logger)

	settings, err := bridge.LoadSettings(*configPath)
	if err != nil {
		return err
	}

	bridgeService, err := bridge.NewService(settings, logger)
	if err != nil {
		return err
	}
	defer bridgeService.Close()

	address := settings.ListenAddress()
	if *listenAddress != "" {
		address = *listenAddress
	}

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: address,
		Handler: bridge.NewHandler(bridgeService, settings, logger),
		Logger:  logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting actions bridge",
		"version", version.Info(),
		"homeserver", settings.Homeserver,
		"user_id", settings.UserID)
	return server.Serve(ctx)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("MATRIX_ACTIONS_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
