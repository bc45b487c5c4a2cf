// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package security

import "regexp"

// maliciousPatterns is the input denylist checked before any locator
// parsing. A hit is recorded as a trust violation, not just a
// rejection.
var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(javascript|vbscript|onload|onerror|onclick)`),
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)<\s*iframe`),
	regexp.MustCompile(`(?i)(eval|settimeout|setinterval)\s*\(`),
	regexp.MustCompile(`(?i)(document\.|window\.|location\.)`),
	regexp.MustCompile(`(?i)(union\s+select|drop\s+table|delete\s+from)`),
}

// ContainsMaliciousPattern reports whether the input matches any entry
// of the denylist.
func ContainsMaliciousPattern(input string) bool {
	for _, p := range maliciousPatterns {
		if p.MatchString(input) {
			return true
		}
	}
	return false
}
