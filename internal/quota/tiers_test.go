// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package quota

import (
	"errors"
	"testing"
)

func TestParseTier(t *testing.T) {
	for _, raw := range []string{
		"quality_360p", "quality_480p", "quality_720p", "quality_1080p",
		"audio_standard", "audio_hq",
	} {
		if _, err := ParseTier(raw); err != nil {
			t.Errorf("ParseTier(%q) failed: %v", raw, err)
		}
	}

	if _, err := ParseTier("quality_4k"); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("ParseTier(quality_4k) = %v, want ErrUnknownTier", err)
	}
	if _, err := ParseTier(""); !errors.Is(err, ErrUnknownTier) {
		t.Errorf("ParseTier(\"\") = %v, want ErrUnknownTier", err)
	}
}

func TestTierAllowed(t *testing.T) {
	tests := []struct {
		tier    Tier
		premium bool
		want    bool
	}{
		{Quality360, false, true},
		{Quality480, false, true},
		{Quality720, false, false},
		{Quality1080, false, false},
		{Quality720, true, true},
		{Quality1080, true, true},
		{AudioStandard, false, true},
		{AudioHQ, false, false},
		{AudioHQ, true, true},
	}

	for _, tt := range tests {
		if got := TierAllowed(tt.tier, tt.premium); got != tt.want {
			t.Errorf("TierAllowed(%v, premium=%v) = %v, want %v",
				tt.tier, tt.premium, got, tt.want)
		}
	}
}

func TestClampTier(t *testing.T) {
	tests := []struct {
		tier    Tier
		premium bool
		want    Tier
	}{
		{Quality1080, false, Quality480},
		{Quality720, false, Quality480},
		{Quality360, false, Quality360},
		{Quality1080, true, Quality1080},
		{AudioHQ, false, AudioStandard},
		{AudioHQ, true, AudioHQ},
	}

	for _, tt := range tests {
		if got := ClampTier(tt.tier, tt.premium); got != tt.want {
			t.Errorf("ClampTier(%v, premium=%v) = %v, want %v",
				tt.tier, tt.premium, got, tt.want)
		}
	}
}

func TestIsAudio(t *testing.T) {
	if !AudioHQ.IsAudio() || !AudioStandard.IsAudio() {
		t.Error("audio tiers should report IsAudio")
	}
	if Quality720.IsAudio() {
		t.Error("video tier should not report IsAudio")
	}
}
