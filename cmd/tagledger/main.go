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
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tagledger/cmd/tagledger/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a tagledger.yaml (defaults to ~/.tagledger/tagledger.yaml)")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				log.Fatalf("Error loading config: %v", err)
			}
			config.Global = cfg
			return
		}
		if err := config.Load(); err != nil {
			log.Fatalf("Error loading config: %v", err)
		}
	}
}
