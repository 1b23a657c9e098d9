package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"

	"github.com/eraflo/FallGuys/internal/app"
	"github.com/eraflo/FallGuys/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "fallguys.toml", "path to the TOML configuration file")
	listen := flag.String("listen", "", "listen address, overrides the configuration")
	behaviors := flag.String("behaviors", "", "behavior document directory, overrides the configuration")
	profileMode := flag.String("profile", "", "write a cpu or mem profile to the working directory")
	flag.Parse()

	switch *profileMode {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfileAllocs, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		log.Fatalf("unknown profile mode %q", *profileMode)
	}

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *behaviors != "" {
		cfg.BehaviorDir = *behaviors
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(os.Stderr, "[fallguys] ", log.LstdFlags)
	if err := app.Run(ctx, app.Options{Config: cfg, Logger: telemetry.WrapLogger(logger)}); err != nil {
		log.Printf("%v", err)
		stop()
		os.Exit(1)
	}
}
