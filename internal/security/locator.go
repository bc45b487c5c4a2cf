// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package security

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Locator validation errors.
var (
	ErrLocatorEmpty     = errors.New("locator is empty")
	ErrLocatorTooLong   = errors.New("locator exceeds maximum length")
	ErrLocatorScheme    = errors.New("locator scheme must be http or https")
	ErrLocatorHost      = errors.New("locator host is not an allowed media host")
	ErrLocatorPath      = errors.New("locator path is not a recognized media path")
	ErrLocatorMediaID   = errors.New("locator media ID is malformed")
	ErrLocatorPlaylist  = errors.New("playlist and channel locators are not supported")
	ErrLocatorMalicious = errors.New("locator contains a disallowed pattern")
)

// allowedHosts are the host names a locator may carry. Subdomain
// wildcards are deliberately not used; each accepted host is listed.
var allowedHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// mediaIDPattern matches a valid 11-character media ID. Anything
// shorter, longer, or containing other characters is rejected.
var mediaIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidateLocator checks that a raw locator string is a well-formed
// single-video URL on an allowed host and returns the extracted
// 11-character media ID.
//
// Playlists, channels, and any URL whose media ID is not exactly 11
// characters are rejected. maxLen bounds the raw string before any
// parsing happens.
func ValidateLocator(raw string, maxLen int) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrLocatorEmpty
	}
	if maxLen > 0 && len(raw) > maxLen {
		return "", ErrLocatorTooLong
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrLocatorHost
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", ErrLocatorScheme
	}

	host := strings.ToLower(u.Hostname())
	if !allowedHosts[host] {
		return "", ErrLocatorHost
	}

	query := u.Query()
	if query.Has("list") {
		return "", ErrLocatorPlaylist
	}

	// Short-link form: youtu.be/<id>
	if host == "youtu.be" {
		id := strings.Trim(u.Path, "/")
		if strings.Contains(id, "/") {
			return "", ErrLocatorPath
		}
		if !mediaIDPattern.MatchString(id) {
			return "", ErrLocatorMediaID
		}
		return id, nil
	}

	path := u.Path
	switch {
	case path == "/watch":
		id := query.Get("v")
		if !mediaIDPattern.MatchString(id) {
			return "", ErrLocatorMediaID
		}
		return id, nil

	case strings.HasPrefix(path, "/shorts/"):
		id := strings.Trim(strings.TrimPrefix(path, "/shorts/"), "/")
		if !mediaIDPattern.MatchString(id) {
			return "", ErrLocatorMediaID
		}
		return id, nil

	case strings.HasPrefix(path, "/playlist") || strings.HasPrefix(path, "/channel/") ||
		strings.HasPrefix(path, "/@"):
		return "", ErrLocatorPlaylist

	default:
		return "", ErrLocatorPath
	}
}
