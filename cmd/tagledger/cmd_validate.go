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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tagledger/cmd/tagledger/config"
	"github.com/AleutianAI/tagledger/pkg/validation"
)

var validateCmd = &cobra.Command{
	Use:   "validate [tags...]",
	Short: "Validate a set of tags against the tag grammar",
	Long: `Checks each tag for grammar problems (length, characters, reserved
words), the whole set for duplicates and near-duplicate spellings, and
prints the sanitized form of every tag that has one.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	var opts []validation.SetOption
	if config.Global.Engine.MaxTags > 0 {
		opts = append(opts, validation.WithMaxTags(config.Global.Engine.MaxTags))
	}
	res := validation.ValidateTags(args, opts...)

	for _, issue := range res.Errors {
		fmt.Printf("error   %-22s %s: %s\n", issue.Field, issue.Code, issue.Message)
	}
	for _, issue := range res.Warnings {
		fmt.Printf("warning %-22s %s: %s\n", issue.Field, issue.Code, issue.Message)
	}

	if len(res.Sanitized) > 0 {
		fmt.Printf("sanitized: %v\n", res.Sanitized)
	}
	if res.IsValid {
		fmt.Println("OK")
		return
	}
	os.Exit(1)
}
