// Copyright 2024-2026 Aiku AI

// Command channelguard runs the moderation and mirror core against a dry-run
// gateway. It serves the operator HTTP API (Prometheus metrics and catchup
// triggers) and can replay a JSONL event file through the full dispatch
// pipeline, printing the gateway calls the engines produced.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/channelguard/pkg/automod"
	"github.com/aiku/channelguard/pkg/config"
	"github.com/aiku/channelguard/pkg/dispatch"
	"github.com/aiku/channelguard/pkg/gateway"
	"github.com/aiku/channelguard/pkg/gateway/gatewaytest"
	"github.com/aiku/channelguard/pkg/mirror"
	"github.com/aiku/channelguard/pkg/store"
	"github.com/aiku/channelguard/pkg/watchdog"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	replayPath := flag.String("replay", "", "JSONL event file to replay, then exit")
	exampleConfig := flag.Bool("example-config", false, "print the example config and exit")
	version := flag.Bool("version", false, "print version info and exit")
	flag.Parse()

	if *exampleConfig {
		fmt.Print(config.ExampleConfig)
		return
	}
	if *version {
		fmt.Printf("channelguard %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if err := run(*configPath, *replayPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, replayPath string) error {
	cfg, err := config.LoadBotConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger().Level(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLite(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := config.ValidateMirrorGraph(ctx, st); err != nil {
		return fmt.Errorf("stored mirror configuration is invalid: %w", err)
	}

	client := gatewaytest.New()
	notify := gateway.NewNotifier(client, 0, log)
	am := automod.NewEngine(client, st, nil, log)
	wd := watchdog.NewMonitor(client, st, nil, log)
	mir := mirror.NewEngine(client, st, notify, nil, log)
	mir.CommandPrefix = cfg.CommandPrefix
	d := dispatch.New(client, am, wd, mir, log)

	if replayPath != "" {
		admin := config.NewAdmin(st, log)
		if err := runReplay(ctx, replayPath, d, client, admin, log); err != nil {
			return err
		}
		d.Close()
		return dumpCalls(client)
	}

	srv := newAPIServer(cfg.ListenAddr, mir, log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info().Str("listen_addr", cfg.ListenAddr).Msg("Operator API listening")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("operator API failed: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("Operator API shutdown failed")
	}
	d.Close()
	return nil
}
