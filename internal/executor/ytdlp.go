// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/clipstream/clipstream/internal/logging"
)

// YTDLPExtractor shells out to yt-dlp. Commands inherit the caller's
// context, so job timeouts and shutdown kill the child process.
type YTDLPExtractor struct {
	binary string
	log    zerolog.Logger
}

// NewYTDLPExtractor creates an extractor invoking the given binary.
// An empty binary defaults to "yt-dlp" on PATH.
func NewYTDLPExtractor(binary string) *YTDLPExtractor {
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YTDLPExtractor{
		binary: binary,
		log:    logging.With().Str("component", "ytdlp").Logger(),
	}
}

// probeOutput is the subset of yt-dlp's JSON dump the probe needs.
type probeOutput struct {
	Title           string  `json:"title"`
	Duration        float64 `json:"duration"`
	FilesizeApprox  int64   `json:"filesize_approx"`
	Filesize        int64   `json:"filesize"`
	IsLive          bool    `json:"is_live"`
	AvailabilityRaw string  `json:"availability"`
}

func watchURL(mediaID string) string {
	return "https://www.youtube.com/watch?v=" + mediaID
}

// Probe fetches metadata without downloading any media bytes.
func (y *YTDLPExtractor) Probe(ctx context.Context, mediaID string) (*Metadata, error) {
	args := []string{
		"--dump-single-json",
		"--no-download",
		"--no-playlist",
		"--no-warnings",
		watchURL(mediaID),
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("probe %s: %w: %s", mediaID, err, truncate(stderr.String(), 300))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("probe %s: parse metadata: %w", mediaID, err)
	}
	if out.IsLive {
		return nil, fmt.Errorf("probe %s: live streams are not supported", mediaID)
	}

	size := out.Filesize
	if size == 0 {
		size = out.FilesizeApprox
	}

	y.log.Debug().
		Str("media_id", mediaID).
		Float64("duration_s", out.Duration).
		Dur("elapsed", time.Since(start)).
		Msg("probe complete")

	return &Metadata{
		Title:         out.Title,
		Duration:      time.Duration(out.Duration * float64(time.Second)),
		EstimatedSize: size,
	}, nil
}

// Fetch downloads the media item to req.DestPath. Audio tiers are
// extracted to mp3, so the artifact lands next to DestPath with a
// different extension.
func (y *YTDLPExtractor) Fetch(ctx context.Context, req FetchRequest) error {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--quiet",
		"--no-progress",
		"-o", req.DestPath,
	}
	if req.MaxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(req.MaxBytes, 10))
	}
	args = append(args, formatArgs(req.Quality)...)
	args = append(args, watchURL(req.MediaID))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, y.binary, args...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("fetch %s: %w: %s", req.MediaID, err, truncate(stderr.String(), 300))
	}

	y.log.Debug().
		Str("media_id", req.MediaID).
		Str("quality", req.Quality).
		Dur("elapsed", time.Since(start)).
		Msg("fetch complete")
	return nil
}

// formatArgs maps a delivery tier to yt-dlp format selection.
func formatArgs(quality string) []string {
	switch quality {
	case "audio_standard":
		return []string{"-x", "--audio-format", "mp3", "--audio-quality", "5"}
	case "audio_hq":
		return []string{"-x", "--audio-format", "mp3", "--audio-quality", "0"}
	case "quality_360p":
		return videoFormat(360)
	case "quality_480p":
		return videoFormat(480)
	case "quality_720p":
		return videoFormat(720)
	case "quality_1080p":
		return videoFormat(1080)
	default:
		return videoFormat(480)
	}
}

func videoFormat(height int) []string {
	sel := fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", height, height)
	return []string{"-f", sel, "--merge-output-format", "mp4"}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
