// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package quota

import "errors"

// ErrUnknownTier is returned when a tier string is not in the
// catalogue.
var ErrUnknownTier = errors.New("unknown quality tier")

// Tier identifies a deliverable quality level.
type Tier string

// The quality tier catalogue. Video and audio tiers are ranked
// independently.
const (
	Quality360  Tier = "quality_360p"
	Quality480  Tier = "quality_480p"
	Quality720  Tier = "quality_720p"
	Quality1080 Tier = "quality_1080p"

	AudioStandard Tier = "audio_standard"
	AudioHQ       Tier = "audio_hq"
)

// videoRank orders video tiers from lowest to highest.
var videoRank = map[Tier]int{
	Quality360:  1,
	Quality480:  2,
	Quality720:  3,
	Quality1080: 4,
}

// audioRank orders audio tiers from lowest to highest.
var audioRank = map[Tier]int{
	AudioStandard: 1,
	AudioHQ:       2,
}

// Entitlement ceilings per plan.
const (
	freeVideoCeiling    = Quality480
	freeAudioCeiling    = AudioStandard
	premiumVideoCeiling = Quality1080
	premiumAudioCeiling = AudioHQ
)

// ParseTier validates a raw tier string.
func ParseTier(raw string) (Tier, error) {
	t := Tier(raw)
	if _, ok := videoRank[t]; ok {
		return t, nil
	}
	if _, ok := audioRank[t]; ok {
		return t, nil
	}
	return "", ErrUnknownTier
}

// IsAudio reports whether a tier is an audio tier.
func (t Tier) IsAudio() bool {
	_, ok := audioRank[t]
	return ok
}

// TierAllowed reports whether a plan may request the given tier.
func TierAllowed(t Tier, premium bool) bool {
	if t.IsAudio() {
		ceiling := freeAudioCeiling
		if premium {
			ceiling = premiumAudioCeiling
		}
		return audioRank[t] <= audioRank[ceiling]
	}

	rank, ok := videoRank[t]
	if !ok {
		return false
	}
	ceiling := freeVideoCeiling
	if premium {
		ceiling = premiumVideoCeiling
	}
	return rank <= videoRank[ceiling]
}

// Ceilings returns the video and audio ceilings for a plan.
func Ceilings(premium bool) (video, audio Tier) {
	if premium {
		return premiumVideoCeiling, premiumAudioCeiling
	}
	return freeVideoCeiling, freeAudioCeiling
}

// ClampTier lowers a requested tier to the plan ceiling when it
// exceeds it.
func ClampTier(t Tier, premium bool) Tier {
	if TierAllowed(t, premium) {
		return t
	}
	video, audio := Ceilings(premium)
	if t.IsAudio() {
		return audio
	}
	return video
}
