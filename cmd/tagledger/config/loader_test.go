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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, cfg TagledgerConfig) string {
	t.Helper()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tagledger.yaml")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestLoadFileRoundTrip(t *testing.T) {
	want := DefaultConfig()
	want.Store.Path = "/tmp/tags"
	want.Logging.Level = "debug"

	got, err := LoadFile(writeConfig(t, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadFileRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TagledgerConfig)
	}{
		{"empty store path", func(c *TagledgerConfig) { c.Store.Path = "" }},
		{"bad log level", func(c *TagledgerConfig) { c.Logging.Level = "verbose" }},
		{"zero max tags", func(c *TagledgerConfig) { c.Engine.MaxTags = 0 }},
		{"zero retry attempts", func(c *TagledgerConfig) { c.Retry.MaxAttempts = 0 }},
		{"multiplier below one", func(c *TagledgerConfig) { c.Retry.Multiplier = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := LoadFile(writeConfig(t, cfg))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfigIsValid(t *testing.T) {
	got, err := LoadFile(writeConfig(t, DefaultConfig()))
	require.NoError(t, err)
	assert.Equal(t, 20, got.Engine.MaxTags)
	assert.Equal(t, 3, got.Retry.MaxAttempts)
}
