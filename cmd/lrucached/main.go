// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// lrucached is the standalone cache server binary: it wires a Store to
// one of the three front ends (blocking, single-threaded non-blocking,
// multi-threaded non-blocking) selected by --mode, and serves until
// signaled.
package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/luxfi/lrucache/config"
	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/metrics"
	"github.com/luxfi/lrucache/server"
	"github.com/luxfi/lrucache/server/blocking"
	"github.com/luxfi/lrucache/server/mtnonblock"
	"github.com/luxfi/lrucache/server/stnonblock"
	"github.com/luxfi/lrucache/store"
)

// SkipFlagParsing hands the whole argument list to pflag/viper inside
// run, rather than urfave/cli's own flag machinery — this app's flag
// surface is owned by package config, not by cli.Flag definitions.
var app = &cli.App{
	Name:            "lrucached",
	Usage:           "bounded in-memory LRU cache server",
	SkipFlagParsing: true,
}

func init() {
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, cctx.Args().Slice())
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.BuildConfig(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lvl, _ := log.LvlFromString(cfg.LogLevel)
	handler := log.NewGlogHandler(log.NewTerminalHandler(nil, false))
	handler.Verbosity(lvl)
	if cfg.LogJSON {
		handler = log.NewGlogHandler(log.NewFileHandler(log.FileHandlerConfig{Path: "lrucached.log"}))
		handler.Verbosity(lvl)
	}
	lg := log.NewLogger(handler)
	log.SetDefault(lg)

	reg := metrics.New("lrucache")
	s := store.NewGuarded(store.New(cfg.MaxBytes), reg.Sub("store"))

	srv, err := buildServer(cfg, s, lg, reg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("metrics server exited", "err", err)
			}
		}()
		defer metricsSrv.Close()
	}

	if err := srv.Start(cfg.Port, cfg.Acceptors, cfg.Workers); err != nil {
		return fmt.Errorf("starting %s server: %w", cfg.Mode, err)
	}
	lg.Info("lrucached started", "mode", cfg.Mode, "port", cfg.Port, "max_bytes", cfg.MaxBytes)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down")
	srv.Stop()
	srv.Join()
	return nil
}

func buildServer(cfg config.Config, s store.Accessor, lg log.Logger, reg *metrics.Registry) (server.Server, error) {
	switch cfg.Mode {
	case config.ModeBlocking:
		return blocking.New(s, lg), nil
	case config.ModeSTNonBlock:
		return stnonblock.New(s, lg), nil
	case config.ModeMTNonBlock:
		return mtnonblock.New(s, lg, cfg.PoolConfig(), reg.Sub("pool")), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}
