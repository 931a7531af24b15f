package main

import (
	"flag"
	"log"
	"os"

	"KellyMux/internal/di"
	"KellyMux/pkg/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "config file path (defaults only when empty)")
	ingestAddr := flag.String("ingest-addr", "", "override ingest listen address")
	outputAddr := flag.String("output-addr", "", "override output listen address")
	adminAddr := flag.String("admin-addr", "", "override admin listen address")
	flag.Parse()

	// Load config
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *ingestAddr != "" {
		cfg.Ingest.Addr = *ingestAddr
	}
	if *outputAddr != "" {
		cfg.Output.Addr = *outputAddr
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}

	log.Printf("env=%s ingest=%s@%s output=%s@%s admin=%s",
		cfg.Environment, cfg.Ingest.Backend, cfg.Ingest.Addr,
		cfg.Output.Backend, cfg.Output.Addr, cfg.Admin.Addr)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
