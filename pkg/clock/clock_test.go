// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceFiresExpiredWaiters(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	ch := fc.After(100 * time.Millisecond)
	assert.Equal(t, 1, fc.PendingWaiters())

	// Not enough time elapsed yet.
	fc.Advance(50 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("waiter fired early")
	default:
	}

	fc.Advance(50 * time.Millisecond)
	select {
	case fired := <-ch:
		assert.Equal(t, start.Add(100*time.Millisecond), fired)
	default:
		t.Fatal("waiter did not fire at deadline")
	}
	assert.Equal(t, 0, fc.PendingWaiters())
}

func TestFakeAfterZeroFiresImmediately(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	select {
	case <-fc.After(0):
	default:
		t.Fatal("zero-duration After should fire immediately")
	}
}

func TestFakeNowTracksAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)
	fc.Advance(3 * time.Hour)
	require.Equal(t, start.Add(3*time.Hour), fc.Now())
}

func TestRealClockNow(t *testing.T) {
	c := New()
	before := time.Now()
	now := c.Now()
	after := time.Now()
	assert.False(t, now.Before(before))
	assert.False(t, now.After(after))
}
