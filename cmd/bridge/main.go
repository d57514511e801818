package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fpt/chatbridge/internal/bridge"
	"github.com/fpt/chatbridge/internal/config"
	"github.com/fpt/chatbridge/internal/correlate"
	"github.com/fpt/chatbridge/internal/frontend"
	"github.com/fpt/chatbridge/internal/relay"
	pkgLogger "github.com/fpt/chatbridge/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to bridge config (default: $HOME/.chatbridge/config.json)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config from %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	pkgLogger.SetGlobalLoggerWithConsoleWriter(pkgLogger.LogLevel(cfg.LogLevel), os.Stdout)
	logger := pkgLogger.NewLoggerWithConsoleWriter(pkgLogger.LogLevel(cfg.LogLevel), os.Stdout)

	if cfg.Discord.Token == "" {
		fmt.Fprintln(os.Stderr, "Discord token is required (config discord.token or DISCORD_TOKEN)")
		os.Exit(1)
	}

	store := correlate.NewStore[frontend.ReplyHandle](cfg.TTL())
	prefs := correlate.NewPrefs()
	bus := bridge.NewBus(64)
	hub := relay.NewHub(logger)

	adapter, err := frontend.NewDiscordAdapter(bus.Requests, store, prefs, cfg.Discord, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create discord adapter: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = adapter.Stop() }()

	br := bridge.New(bus, hub, adapter, logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	fmt.Println("chatbridge starting...")
	fmt.Printf("  Relay: %s/ws\n", cfg.ListenAddr)
	fmt.Printf("  Correlation TTL: %s\n", cfg.TTL())
	fmt.Println()

	go store.Run(ctx, cfg.TTL()/2)

	go func() {
		if err := hub.ListenAndServe(ctx, cfg.ListenAddr); err != nil && err != context.Canceled {
			logger.Error("Relay server failed", "error", err)
			cancel()
		}
	}()

	go func() {
		if err := adapter.Start(ctx); err != nil {
			logger.Error("Discord adapter failed", "error", err)
			cancel()
		}
	}()

	if err := br.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
		os.Exit(1)
	}
}
