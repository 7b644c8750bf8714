// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/eventsink/lib/cli"
	"github.com/bureau-foundation/eventsink/lib/collector"
	"github.com/bureau-foundation/eventsink/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("eventsink-collector", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to eventsink.yaml (default: $EVENTSINK_CONFIG, then built-in defaults)")
	flagSet.StringVarP(&listen, "listen", "l", "", "listen address (overrides collector.listen_address)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("eventsink-collector")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	level, err := cli.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(level).With("command", "collector")

	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Collector.ListenAddress = listen
	}
	if cfg.Collector.Token == "" {
		logger.Warn("collector token not set; accepting unauthenticated requests")
	}

	store := collector.NewStore(cfg.Collector.MaxBufferBytes)
	feed := collector.NewFeed(cfg.Collector.FeedBuffer, logger)
	handler := collector.NewHandler(collector.Config{
		Store:                store,
		Feed:                 feed,
		Token:                cfg.Collector.Token,
		IncludeDeviceMetrics: cfg.Collector.IncludeDeviceMetrics,
		Logger:               logger,
	})
	server := collector.NewServer(collector.ServerConfig{
		Address:    cfg.Collector.ListenAddress,
		Handler:    handler.Routes(),
		OnShutdown: feed.Close,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting collector",
		"version", version.Info(),
		"environment", cfg.Environment,
		"max_buffer_bytes", cfg.Collector.MaxBufferBytes,
	)
	if err := server.Serve(ctx); err != nil {
		return err
	}
	logger.Info("collector exited",
		"batches", store.Len(),
		"dropped", store.Dropped(),
	)
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `eventsink-collector - reference event sink

Serves:
    POST /eventsink/init      clock sync (receivedTime, repliedTime, settings)
    POST /eventsink/send      store a batch (json or cbor, optional zstd/lz4)
    GET  /eventsink/batches   list stored batches (?session=ID filters)
    GET  /eventsink/watch     websocket feed of stored batch summaries

Usage:
    eventsink-collector [flags]

Flags:
%s
The bearer token is collector.token in the config file, usually written
as ${EVENTSINK_COLLECTOR_TOKEN}.
`, flagSet.FlagUsages())
}
