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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tagledger/services/tagengine/mutate"
	"github.com/AleutianAI/tagledger/services/tagengine/resilient"
	"github.com/AleutianAI/tagledger/services/tagengine/trade"
)

var (
	bulkRecords string
	bulkScope   string
	bulkTarget  string
	dryRun      bool
	withBackup  bool

	bulkCmd = &cobra.Command{
		Use:   "bulk",
		Short: "Apply a bulk tag mutation across journal records",
		Long: `Bulk operations rewrite tags across every matching record in one
pass. Use --dry-run to preview the exact changes first; --backup keeps
a one-level undo restorable with 'tagledger bulk rollback'.`,
	}
	bulkDeleteCmd = &cobra.Command{
		Use:   "delete [tags...]",
		Short: "Remove the given tags from every record that carries them",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runBulk(mutate.Operation{Type: mutate.OpDelete, Tags: args})
		},
	}
	bulkMergeCmd = &cobra.Command{
		Use:   "merge [tags...]",
		Short: "Merge the given tags into --target on every record",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runBulk(mutate.Operation{Type: mutate.OpMerge, Tags: args, Target: bulkTarget})
		},
	}
	bulkRenameCmd = &cobra.Command{
		Use:   "rename [tag]",
		Short: "Rename a single tag to --target on every record",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runBulk(mutate.Operation{Type: mutate.OpRename, Tags: args, Target: bulkTarget})
		},
	}
	bulkReplaceCmd = &cobra.Command{
		Use:   "replace [tags...]",
		Short: "Replace the given tags with the validated --target tag",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runBulk(mutate.Operation{Type: mutate.OpReplace, Tags: args, Target: bulkTarget})
		},
	}
	bulkRollbackCmd = &cobra.Command{
		Use:   "rollback",
		Short: "Restore the records file from its last --backup copy",
		Args:  cobra.NoArgs,
		Run:   runBulkRollback,
	}
)

func init() {
	for _, c := range []*cobra.Command{bulkDeleteCmd, bulkMergeCmd, bulkRenameCmd, bulkReplaceCmd} {
		c.Flags().StringVar(&bulkRecords, "records", "", "path to a JSON file of journal records (required)")
		c.Flags().StringVar(&bulkScope, "scope", "", "scope whose index should be updated after the mutation")
		c.Flags().BoolVar(&dryRun, "dry-run", false, "preview the changes without applying them")
		c.Flags().BoolVar(&withBackup, "backup", false, "keep a one-level undo of the records file")
	}
	for _, c := range []*cobra.Command{bulkMergeCmd, bulkRenameCmd, bulkReplaceCmd} {
		c.Flags().StringVar(&bulkTarget, "target", "", "target tag for the operation (required)")
	}
	bulkRollbackCmd.Flags().StringVar(&bulkRecords, "records", "", "path to the records file to restore (required)")
	bulkRollbackCmd.Flags().StringVar(&bulkScope, "scope", "", "scope whose index should be rebuilt after the restore")

	bulkCmd.AddCommand(bulkDeleteCmd, bulkMergeCmd, bulkRenameCmd, bulkReplaceCmd, bulkRollbackCmd)
	rootCmd.AddCommand(bulkCmd)
}

func backupPath(records string) string {
	return records + ".bak"
}

func runBulk(op mutate.Operation) {
	if bulkRecords == "" {
		log.Fatal("the --records flag is required")
	}
	a := openApp()
	defer a.close()

	trades, err := loadTrades(bulkRecords)
	if err != nil {
		log.Fatalf("Error loading records: %v", err)
	}

	if dryRun {
		res := a.engine.Preview(op, trades)
		printResult(res, true)
		if !res.Success {
			os.Exit(1)
		}
		return
	}

	if withBackup {
		op.CreateBackup = true
		original, err := os.ReadFile(bulkRecords)
		if err != nil {
			log.Fatalf("Error reading records for backup: %v", err)
		}
		if err := os.WriteFile(backupPath(bulkRecords), original, 0644); err != nil {
			log.Fatalf("Error writing backup: %v", err)
		}
	}

	res := a.engine.Execute(op, trades)
	printResult(res, false)
	if !res.Success {
		os.Exit(1)
	}

	if err := saveTrades(bulkRecords, trades); err != nil {
		log.Fatalf("Error saving records: %v", err)
	}

	if bulkScope != "" {
		updateIndex(a, bulkScope, trades, mutate.ChangedRecordIDs(res))
	}
}

// updateIndex applies the mutation's effects to the persisted index.
// Connectivity failures leave the journal updated and queue the index
// refresh for a later 'tagledger sync drain'.
func updateIndex(a *app, scope string, trades []trade.Trade, changed []trade.ID) {
	ctx := context.Background()
	outcome := a.executor.ExecuteWithRetry(ctx, func(ctx context.Context) (any, error) {
		return a.manager.IncrementalUpdate(ctx, scope, trades, changed)
	}, resilient.OpContext{Operation: "index.update", Scope: scope, Mutating: true})

	if !outcome.Success {
		fmt.Fprintf(os.Stderr, "Index update failed (%s); the change was queued for sync.\n", outcome.Code)
		return
	}
	fmt.Printf("Index for %q updated (%d records touched).\n", scope, len(changed))
}

func printResult(res mutate.Result, preview bool) {
	verb := "Changed"
	if preview {
		verb = "Would change"
	}
	for _, e := range res.Errors {
		fmt.Printf("error: %s\n", e)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Printf("%s %d records across tags %v.\n", verb, res.AffectedTrades, res.AffectedTags)
	for _, ch := range res.Changes {
		fmt.Printf("  %s: %v -> %v\n", ch.RecordID, ch.OldTags, ch.NewTags)
	}
}

func runBulkRollback(cmd *cobra.Command, args []string) {
	if bulkRecords == "" {
		log.Fatal("the --records flag is required")
	}
	bak := backupPath(bulkRecords)
	data, err := os.ReadFile(bak)
	if err != nil {
		log.Fatalf("No backup to restore (%v). Re-run the mutation with --backup to keep one.", err)
	}
	if err := os.WriteFile(bulkRecords, data, 0644); err != nil {
		log.Fatalf("Error restoring records: %v", err)
	}
	// Single-level undo: the backup is consumed.
	if err := os.Remove(bak); err != nil {
		log.Printf("Warning: could not remove the consumed backup: %v", err)
	}
	fmt.Printf("Restored %s from its backup.\n", bulkRecords)

	if bulkScope != "" {
		a := openApp()
		defer a.close()
		trades, err := loadTrades(bulkRecords)
		if err != nil {
			log.Fatalf("Error loading restored records: %v", err)
		}
		if _, err := a.manager.BuildAndPersist(context.Background(), bulkScope, trades, true); err != nil {
			log.Fatalf("Error rebuilding index after rollback: %v", err)
		}
		fmt.Printf("Index for %q rebuilt from the restored records.\n", bulkScope)
	}
}
