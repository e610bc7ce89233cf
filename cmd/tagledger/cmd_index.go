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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tagledger/services/tagengine/index"
	"github.com/AleutianAI/tagledger/services/tagengine/resilient"
)

var (
	recordsFile string
	topN        int

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Build, inspect, and maintain the tag index",
	}
	rebuildCmd = &cobra.Command{
		Use:   "rebuild [scope]",
		Short: "Rebuild the tag index for a scope from its journal records",
		Args:  cobra.ExactArgs(1),
		Run:   runRebuild,
	}
	tagsCmd = &cobra.Command{
		Use:   "tags [scope]",
		Short: "List the indexed tags for a scope with usage and performance",
		Args:  cobra.ExactArgs(1),
		Run:   runTags,
	}
	suggestCmd = &cobra.Command{
		Use:   "suggest [scope]",
		Short: "Show the top tags for a scope, ranked by usage and recency",
		Args:  cobra.ExactArgs(1),
		Run:   runSuggest,
	}
	integrityCmd = &cobra.Command{
		Use:   "integrity [scope]",
		Short: "Cross-check the index against the journal records",
		Args:  cobra.ExactArgs(1),
		Run:   runIntegrity,
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup [scope]",
		Short: "Remove indexed tags that no record uses anymore",
		Args:  cobra.ExactArgs(1),
		Run:   runCleanup,
	}
	exportCmd = &cobra.Command{
		Use:   "export [scope]",
		Short: "Export the scope's index as JSON to stdout",
		Args:  cobra.ExactArgs(1),
		Run:   runExport,
	}
	importCmd = &cobra.Command{
		Use:   "import [scope] [file]",
		Short: "Import a previously exported index, replacing the scope's index",
		Args:  cobra.ExactArgs(2),
		Run:   runImport,
	}
)

func init() {
	rebuildCmd.Flags().StringVar(&recordsFile, "records", "", "path to a JSON file of journal records (required)")
	integrityCmd.Flags().StringVar(&recordsFile, "records", "", "path to a JSON file of journal records (required)")
	cleanupCmd.Flags().StringVar(&recordsFile, "records", "", "path to a JSON file of journal records (required)")
	suggestCmd.Flags().IntVar(&topN, "top", 10, "number of suggestions to show")

	indexCmd.AddCommand(rebuildCmd, tagsCmd, suggestCmd, integrityCmd, cleanupCmd, exportCmd, importCmd)
	rootCmd.AddCommand(indexCmd)
}

func mustRecords() string {
	if recordsFile == "" {
		log.Fatal("the --records flag is required")
	}
	return recordsFile
}

func runRebuild(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()
	scope := args[0]

	trades, err := loadTrades(mustRecords())
	if err != nil {
		log.Fatalf("Error loading records: %v", err)
	}

	ctx := context.Background()
	outcome := a.executor.ExecuteWithRetry(ctx, func(ctx context.Context) (any, error) {
		return a.manager.BuildAndPersist(ctx, scope, trades, true)
	}, resilient.OpContext{Operation: "index.rebuild", Scope: scope, Mutating: true})

	if !outcome.Success {
		log.Fatalf("Error rebuilding index (%s): %v", outcome.Code, outcome.Errors)
	}
	idx := outcome.Data.(index.Index)
	fmt.Printf("Rebuilt index for %q: %d tags over %d records\n", scope, len(idx), len(trades))
}

func runTags(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()
	scope := args[0]

	idx, found, err := a.manager.Load(context.Background(), scope)
	if err != nil {
		log.Fatalf("Error loading index: %v", err)
	}
	if !found {
		fmt.Printf("No index for scope %q. Run 'tagledger index rebuild' first.\n", scope)
		return
	}

	fmt.Printf("%-24s %6s %8s %9s %s\n", "TAG", "COUNT", "WINRATE", "AVG P&L", "LAST USED")
	for _, tag := range idx.Tags() {
		e := idx[tag]
		fmt.Printf("%-24s %6d %7.1f%% %9.2f %s\n",
			tag, e.Count, e.Performance.WinRate*100, e.Performance.AveragePnL,
			e.LastUsed.Format(time.DateOnly))
	}
}

func runSuggest(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()

	ranked, err := a.manager.Suggestions(context.Background(), args[0], topN)
	if err != nil {
		log.Fatalf("Error ranking tags: %v", err)
	}
	for i, rt := range ranked {
		fmt.Printf("%2d. %-24s (score %.2f, %d uses)\n", i+1, rt.Tag, rt.Score, rt.Count)
	}
}

func runIntegrity(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()
	scope := args[0]

	trades, err := loadTrades(mustRecords())
	if err != nil {
		log.Fatalf("Error loading records: %v", err)
	}

	report, err := a.manager.ValidateIntegrity(context.Background(), scope, trades)
	if err != nil {
		log.Fatalf("Error validating index: %v", err)
	}

	if report.IsValid {
		fmt.Printf("Index for %q is consistent with %d records.\n", scope, len(trades))
	} else {
		fmt.Printf("Index for %q has problems:\n", scope)
	}
	for _, e := range report.Errors {
		fmt.Printf("  error: %s\n", e)
	}
	for _, w := range report.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	for _, r := range report.Recommendations {
		fmt.Printf("  recommendation: %s\n", r)
	}
	if !report.IsValid {
		os.Exit(1)
	}
}

func runCleanup(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()
	scope := args[0]

	trades, err := loadTrades(mustRecords())
	if err != nil {
		log.Fatalf("Error loading records: %v", err)
	}

	removed, err := a.manager.CleanupOrphanedTags(context.Background(), scope, trades)
	if err != nil {
		log.Fatalf("Error cleaning up: %v", err)
	}
	if len(removed) == 0 {
		fmt.Println("No orphaned tags found.")
		return
	}
	fmt.Printf("Removed %d orphaned tags:\n", len(removed))
	for _, tag := range removed {
		fmt.Printf("  %s\n", tag)
	}
}

func runExport(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()

	data, err := a.manager.ExportData(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Error exporting index: %v", err)
	}
	fmt.Println(string(data))
}

func runImport(cmd *cobra.Command, args []string) {
	a := openApp()
	defer a.close()
	scope := args[0]

	data, err := os.ReadFile(args[1])
	if err != nil {
		log.Fatalf("Error reading import file: %v", err)
	}
	if err := a.manager.ImportData(context.Background(), scope, data); err != nil {
		log.Fatalf("Error importing index: %v", err)
	}
	fmt.Printf("Imported index for scope %q.\n", scope)
}
