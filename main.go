// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phsym/console-slog"

	"github.com/ffutop/modbusgw/internal/config"
	"github.com/ffutop/modbusgw/internal/gateway"
	"github.com/ffutop/modbusgw/transport/rtu"
)

const version = "1.1.0"

func main() {
	// Load Configuration
	cfg, err := config.Load("modbusgw", os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	if cfg.Version {
		fmt.Printf("TCP<->RTU Modbus Gateway v%s\n", version)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := run(cfg); err != nil {
		slog.Error("Modbus gateway failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("Starting Modbus Gateway...", "version", version)

	port, err := rtu.Open(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()

	gw := gateway.New(cfg, port)
	if err := gw.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- gw.Start(ctx)
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errChan:
		return err
	}

	slog.Info("Shutting down...")
	cancel()
	err = <-errChan
	slog.Info("Goodbye.")
	return err
}

func setupLogger(cfg config.LogConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
		} else {
			out = f
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	case "console":
		handler = console.NewHandler(out, &console.HandlerOptions{Level: level})
	default:
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}
