// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// alternateExtensions are the extensions an extractor may substitute
// when producing audio artifacts. Cleanup must try all of them, since
// the tool decides the final container, not us.
var alternateExtensions = []string{".mp3", ".m4a", ".webm", ".ogg"}

// scratchName derives a unique scratch file name from the job inputs
// and the current time. Two jobs for the same media never collide.
func scratchName(mediaID, quality, identity string, now time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", mediaID, quality, identity, now.UnixNano())))
	return hex.EncodeToString(h[:16])
}

// removeArtifacts deletes the scratch file and every alternate
// extension sibling. Missing files are not errors; the extractor may
// have produced any subset of them.
func removeArtifacts(basePath string) {
	os.Remove(basePath)

	stem := strings.TrimSuffix(basePath, filepath.Ext(basePath))
	for _, ext := range alternateExtensions {
		os.Remove(stem + ext)
	}
}

// unsafeFilenameChars matches characters stripped from delivered
// filenames.
var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename makes a media title safe to use as a delivered
// filename. Control characters and path separators are removed and
// the result is length-bounded.
func SanitizeFilename(title string) string {
	name := unsafeFilenameChars.ReplaceAllString(title, "")
	name = strings.TrimSpace(name)
	name = strings.Trim(name, ".")
	if len(name) > 150 {
		name = name[:150]
	}
	if name == "" {
		name = "media"
	}
	return name
}

// SweepScratch removes scratch files older than maxAge. Returns the
// number of files removed. Subdirectories are left alone.
func SweepScratch(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	cutoff := now.Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
