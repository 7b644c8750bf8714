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

	"github.com/bureau-foundation/eventsink/lib/analytics"
	"github.com/bureau-foundation/eventsink/lib/cli"
	"github.com/bureau-foundation/eventsink/lib/clock"
	"github.com/bureau-foundation/eventsink/lib/device"
	"github.com/bureau-foundation/eventsink/lib/exposure"
	"github.com/bureau-foundation/eventsink/lib/replay"
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
		sinkURL    string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("eventsink-replay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to eventsink.yaml (default: $EVENTSINK_CONFIG, then built-in defaults)")
	flagSet.StringVar(&sinkURL, "sink", "", "event sink base URL (overrides exposure.base_url)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("eventsink-replay")
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
	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(flagSet)
		return fmt.Errorf("expected exactly one script path, got %d arguments", len(args))
	}

	level, err := cli.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := cli.NewCommandLogger(level).With("command", "replay")

	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if sinkURL != "" {
		cfg.Exposure.BaseURL = sinkURL
	}

	script, err := replay.ReadFile(args[0])
	if err != nil {
		return err
	}

	auth := exposure.EnvAuth{}
	if _, ok := auth.Credentials(); !ok {
		logger.Warn("sink credentials incomplete; events will be buffered but not sent",
			"required", "EVENTSINK_CUSTOMER, EVENTSINK_BUSINESS_UNIT, EVENTSINK_SESSION_TOKEN")
	}

	clientConfig, err := cfg.ExposureClientConfig(auth, nil, logger)
	if err != nil {
		return err
	}
	client, err := exposure.NewClient(clientConfig)
	if err != nil {
		return err
	}

	options := cfg.TrackerOptions()
	options.Clock = clock.Real()
	options.Logger = logger
	options.Auth = auth
	options.TimeSync = client
	options.Sink = client
	options.Device = device.NewIdentifier()
	tracker, err := analytics.NewTracker(options)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker.Start(ctx)
	logger.Info("replaying script",
		"version", version.Info(),
		"script", args[0],
		"sessions", len(script.Sessions),
		"sink", cfg.Exposure.BaseURL,
	)

	result, err := replay.Run(ctx, tracker, script, options.Clock, logger)
	logger.Info("replay finished",
		"sessions", result.Sessions,
		"steps", result.Steps,
		"elapsed", result.Elapsed,
		"include_device_metrics", tracker.IncludeDeviceMetrics(),
		"pending", tracker.Registry().HasPendingData(),
	)
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `eventsink-replay - play a telemetry script against an event sink

Usage:
    eventsink-replay [flags] <script.jsonc>

Flags:
%s
Environment:
    EVENTSINK_CUSTOMER, EVENTSINK_BUSINESS_UNIT, EVENTSINK_SESSION_TOKEN
        sink account; when any is missing nothing is sent
    EVENTSINK_CONFIG
        config file used when --config is not given
`, flagSet.FlagUsages())
}
