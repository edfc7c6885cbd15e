package main

import (
	"context"
	"flag"
	"log"
	"os"

	"SabrLSM/internal/di"
	"SabrLSM/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("env=%s kafka=%t redis_queue=%t clickhouse=%t cache=%t",
		cfg.Environment, cfg.Kafka.Enabled, cfg.Queue.Enabled, cfg.ClickHouse.Enabled, cfg.Cache.Enabled)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// blocks until SIGINT/SIGTERM
	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
