// Clipstream - Multi-Tenant Media Fetch Service
// Copyright 2026 Clipstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/clipstream/clipstream

package executor

import (
	"errors"
	"fmt"
)

// FailureKind is the closed taxonomy of job failures. Every failed
// job maps to exactly one kind; callers switch on it to decide what
// to tell the requester.
type FailureKind string

// Job failure kinds.
const (
	FailureInvalidInput     FailureKind = "invalid_input"
	FailureMetadata         FailureKind = "metadata_failure"
	FailureDurationExceeded FailureKind = "duration_exceeded"
	FailureFileTooLarge     FailureKind = "file_too_large"
	FailureExtraction       FailureKind = "extraction_failure"
	FailureTimeout          FailureKind = "timeout"
	FailureCanceled         FailureKind = "canceled"
)

// JobError carries the failure kind alongside the underlying cause.
type JobError struct {
	Kind  FailureKind
	cause error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

// Unwrap exposes the underlying cause.
func (e *JobError) Unwrap() error {
	return e.cause
}

// failure builds a JobError.
func failure(kind FailureKind, cause error) *JobError {
	return &JobError{Kind: kind, cause: cause}
}

// KindOf extracts the failure kind from an error. Errors outside the
// taxonomy map to FailureExtraction.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return FailureExtraction
}
