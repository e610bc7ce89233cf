// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tagledger/cmd/tagledger/config"
	"github.com/AleutianAI/tagledger/pkg/logging"
	"github.com/AleutianAI/tagledger/services/tagengine/mutate"
	"github.com/AleutianAI/tagledger/services/tagengine/resilient"
	"github.com/AleutianAI/tagledger/services/tagengine/store"
	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "tagledger",
		Short: "A CLI to index, validate, and bulk-edit trade journal tags",
		Long: `Tagledger maintains a durable tag index over a trade journal:
it validates tag spellings, tracks usage and per-tag performance, and
applies bulk mutations (delete, merge, rename, replace) with preview
and rollback.`,
	}
)

// app bundles the wired engine components for one command invocation.
type app struct {
	logger   *slog.Logger
	badger   *store.BadgerStore
	queue    *store.BadgerQueue
	manager  *store.Manager
	engine   *mutate.Engine
	executor *resilient.Executor
	sync     *resilient.SyncQueue
}

func logLevel(name string) logging.Level {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// openApp wires the full stack from the loaded config. Exits the
// process on wiring failures; commands get a working app or nothing.
func openApp() *app {
	cfg := config.Global

	logger := logging.New(logging.Config{
		Level:   logLevel(cfg.Logging.Level),
		Service: "tagledger",
		JSON:    cfg.Logging.JSON,
	})

	badgerStore, err := store.OpenBadger(store.BadgerConfig{
		Path:       cfg.Store.Path,
		SyncWrites: cfg.Store.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Error opening the tag store: %v", err)
	}

	queue, err := store.NewBadgerQueue(badgerStore)
	if err != nil {
		log.Fatalf("Error opening the sync queue: %v", err)
	}

	manager, err := store.NewManager(store.ManagerConfig{
		Store:         badgerStore,
		Logger:        logger,
		SuggestionTTL: time.Duration(cfg.Engine.SuggestionTTLSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("Error creating the index manager: %v", err)
	}

	engine := mutate.NewEngine(mutate.EngineConfig{
		Logger:               logger,
		HistoryLimit:         cfg.Engine.HistoryLimit,
		BlastRadiusThreshold: cfg.Engine.BlastRadiusThreshold,
	})

	syncQueue := resilient.NewSyncQueue(queue, nil, logger)
	executor := resilient.NewExecutor(resilient.ExecutorConfig{
		Logger: logger,
		Queue:  syncQueue,
		Retry: resilient.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
			Multiplier:  cfg.Retry.Multiplier,
			MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		},
	})

	return &app{
		logger:   logger,
		badger:   badgerStore,
		queue:    queue,
		manager:  manager,
		engine:   engine,
		executor: executor,
		sync:     syncQueue,
	}
}

func (a *app) close() {
	if err := a.queue.Close(); err != nil {
		a.logger.Warn("closing sync queue", "error", err)
	}
	if err := a.badger.Close(); err != nil {
		a.logger.Warn("closing tag store", "error", err)
	}
}

// loadTrades reads a JSON array of journal records.
func loadTrades(path string) ([]trade.Trade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading records file: %w", err)
	}
	var trades []trade.Trade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("parsing records file: %w", err)
	}
	return trades, nil
}

func saveTrades(path string, trades []trade.Trade) error {
	data, err := json.MarshalIndent(trades, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing records file: %w", err)
	}
	return nil
}
