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
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tagledger/services/tagengine/resilient"
)

var (
	syncRecords string

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Inspect and drain the offline operation queue",
	}
	syncStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "List operations waiting to be synced",
		Args:  cobra.NoArgs,
		Run:   runSyncStatus,
	}
	syncDrainCmd = &cobra.Command{
		Use:   "drain",
		Short: "Replay queued index updates from the journal records",
		Args:  cobra.NoArgs,
		Run:   runSyncDrain,
	}
)

func init() {
	syncDrainCmd.Flags().StringVar(&syncRecords, "records", "", "path to a JSON file of journal records (required)")
	syncCmd.AddCommand(syncStatusCmd, syncDrainCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSyncStatus(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()

	pending, err := a.sync.Pending(context.Background())
	if err != nil {
		log.Fatalf("Error reading the sync queue: %v", err)
	}
	if len(pending) == 0 {
		fmt.Println("Sync queue is empty.")
		return
	}
	fmt.Printf("%d operations waiting:\n", len(pending))
	for _, op := range pending {
		fmt.Printf("  %-14s scope=%-12s queued=%s attempts=%d\n",
			op.Operation, op.Scope, op.QueuedAt.Format(time.RFC3339), op.Attempts)
	}
}

func runSyncDrain(cmd *cobra.Command, args []string) {
	if syncRecords == "" {
		log.Fatal("the --records flag is required")
	}
	a := openApp()
	defer a.close()

	trades, err := loadTrades(syncRecords)
	if err != nil {
		log.Fatalf("Error loading records: %v", err)
	}

	ctx := context.Background()
	res, err := a.sync.Process(ctx, func(ctx context.Context, op resilient.QueuedOperation) error {
		// Queued index work is replayed as a rebuild from the current
		// journal; the records file already holds the mutated tags.
		_, err := a.manager.BuildAndPersist(ctx, op.Scope, trades, true)
		return err
	})
	if err != nil {
		log.Fatalf("Error draining the sync queue: %v", err)
	}
	fmt.Printf("Drained the sync queue: %d processed, %d succeeded, %d remaining.\n",
		res.Processed, res.Succeeded, res.Remaining)
}
