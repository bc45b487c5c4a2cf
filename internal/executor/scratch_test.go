// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package executor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScratchNameUnique(t *testing.T) {
	n1 := scratchName("dQw4w9WgXcQ", "quality_480p", "user1", time.Now())
	n2 := scratchName("dQw4w9WgXcQ", "quality_480p", "user1", time.Now().Add(time.Nanosecond))
	if n1 == n2 {
		t.Error("same inputs at different times must produce different names")
	}

	n3 := scratchName("dQw4w9WgXcQ", "quality_480p", "user2", time.Unix(0, 1))
	n4 := scratchName("dQw4w9WgXcQ", "quality_480p", "user1", time.Unix(0, 1))
	if n3 == n4 {
		t.Error("different identities must produce different names")
	}
}

func TestRemoveArtifactsCoversAlternateExtensions(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "abc123.mp4")

	for _, name := range []string{"abc123.mp4", "abc123.mp3", "abc123.m4a", "abc123.webm", "abc123.ogg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	removeArtifacts(base)

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("files left after removeArtifacts: %d", len(entries))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{`Weird <em>/chars\|?*`, "Weird emchars"},
		{"  padded  ", "padded"},
		{"trailing dots...", "trailing dots"},
		{"", "media"},
		{"///", "media"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(string(make([]byte, 0, 300)) + stringOfLen(300))
	if len(long) > 150 {
		t.Errorf("sanitized length = %d, want at most 150", len(long))
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestSweepScratch(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "old.mp4")
	newFile := filepath.Join(dir, "new.mp4")
	os.WriteFile(oldFile, []byte("x"), 0o644)
	os.WriteFile(newFile, []byte("x"), 0o644)

	past := time.Now().Add(-2 * time.Hour)
	os.Chtimes(oldFile, past, past)

	removed, err := SweepScratch(dir, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SweepScratch: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Error("fresh file should survive the sweep")
	}
}
