package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"signalist/internal/api"
	"signalist/internal/bot"
	"signalist/internal/broker"
	"signalist/internal/events"
	"signalist/internal/execution"
	"signalist/pkg/config"
	"signalist/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	defer store.Close()
	log.Printf("Database ready at %s", cfg.DBPath)

	bus := events.NewBus()

	execCfg := execution.DefaultConfig()
	execCfg.MaxRetries = cfg.MaxRetries
	execCfg.RetryDelay = cfg.RetryDelay
	execCfg.ConfirmTimeout = cfg.ConfirmTimeout
	execCfg.LatencyThreshold = cfg.LatencyThreshold
	execCfg.MaxSpreadPercent = cfg.MaxSpreadPct
	execCfg.MaxSlippagePercent = cfg.MaxSlippagePct

	botCfg := bot.DefaultConfig()
	botCfg.Execution = execCfg
	botCfg.TickInterval = cfg.TickInterval
	botCfg.Retention = cfg.SessionRetention
	botCfg.DefaultBalance = cfg.DefaultBalance
	botCfg.DefaultRiskPct = cfg.DefaultRiskPct
	botCfg.Currency = cfg.Currency
	botCfg.MarginFraction = cfg.MarginFraction
	botCfg.DefaultSeed = cfg.SyntheticSeed
	botCfg.Synthetic = broker.SyntheticConfig{
		StartPrice:    cfg.SyntheticStart,
		Step:          cfg.SyntheticStep,
		SpreadPercent: cfg.SyntheticSpread,
	}

	// Live broker credentials are provisioned per deployment; without a
	// factory every session runs against the paper ledger.
	orch := bot.New(botCfg, bus, store, nil)

	gcCtx, stopGC := context.WithCancel(context.Background())
	go orch.RunGC(gcCtx)

	server := api.NewServer(orch, bus, store)
	server.Synthetic = botCfg.Synthetic
	if cfg.PresetPath != "" {
		presets, err := config.LoadPresets(cfg.PresetPath)
		if err != nil {
			log.Printf("Preset load failed: %v", err)
		} else {
			server.Presets = presets
			log.Printf("Loaded %d strategy presets from %s", len(presets), cfg.PresetPath)
		}
	}
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("API server error: %v", err)
		}
	}()
	log.Printf("API listening on :%s", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down")

	stopGC()
	orch.Shutdown()
}
