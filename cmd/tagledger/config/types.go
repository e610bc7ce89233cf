// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
)

type TagledgerConfig struct {
	// Store: where the tag index database lives
	Store StoreConfig `yaml:"store"`

	// Logging: output level and format
	Logging LoggingConfig `yaml:"logging"`

	// Engine: mutation engine tunables
	Engine EngineConfig `yaml:"engine"`

	// Retry: resilience settings for store operations
	Retry RetryConfig `yaml:"retry"`
}

type StoreConfig struct {
	Path       string `yaml:"path" validate:"required"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type EngineConfig struct {
	MaxTags              int `yaml:"max_tags" validate:"gt=0,lte=100"`
	HistoryLimit         int `yaml:"history_limit" validate:"gt=0,lte=100"`
	BlastRadiusThreshold int `yaml:"blast_radius_threshold" validate:"gt=0"`
	SuggestionTTLSeconds int `yaml:"suggestion_ttl_seconds" validate:"gt=0"`
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelayMS int     `yaml:"base_delay_ms" validate:"gt=0"`
	Multiplier  float64 `yaml:"multiplier" validate:"gt=1"`
	MaxDelayMS  int     `yaml:"max_delay_ms" validate:"gt=0"`
}

func DefaultConfig() TagledgerConfig {
	dataDir := "tagledger"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".tagledger", "data")
	}
	return TagledgerConfig{
		Store: StoreConfig{
			Path:       dataDir,
			SyncWrites: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Engine: EngineConfig{
			MaxTags:              20,
			HistoryLimit:         10,
			BlastRadiusThreshold: 20,
			SuggestionTTLSeconds: 300,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 500,
			Multiplier:  2.0,
			MaxDelayMS:  10000,
		},
	}
}
