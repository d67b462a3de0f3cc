package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tailored-agentic-units/statesync/app"
	"github.com/tailored-agentic-units/statesync/observability"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to config file, JSON or YAML (optional)")
		envFile    = flag.String("env", ".env", "Path to dotenv file (skipped when missing)")
		addr       = flag.String("addr", "", "Listen address (overrides config)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	flag.Parse()

	cfg := &app.Config{}
	if *configFile != "" {
		loaded, err := app.LoadConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	if err := app.LoadEnv(cfg, app.EnvPrefix, *envFile); err != nil {
		log.Fatalf("Failed to load environment: %v", err)
	}

	if *addr != "" {
		cfg.Addr = *addr
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observability.RegisterObserver("slog", observability.NewSlogObserver(logger))

	class, routes, err := counterApp()
	if err != nil {
		log.Fatalf("Failed to build state class: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, class, app.WithRoutes(routes))
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	if err := a.Run(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
