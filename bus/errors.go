// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"fmt"

	"github.com/flotilla-foundation/flotilla/lib/redact"
)

// ErrUnavailable marks connection-level failures: broker unreachable,
// handshake timeout, or authentication rejection. Connect retries with
// backoff before surfacing it; once surfaced it is fatal to the node.
var ErrUnavailable = errors.New("bus unavailable")

// UnavailableError carries the context of an exhausted connect loop.
type UnavailableError struct {
	// URL is the broker address with credentials already scrubbed.
	URL string

	// Attempts is how many dials were made before giving up.
	Attempts int

	// Err is the final dial error.
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("bus: connecting to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) match the typed error.
func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// IsUnavailable reports whether err represents a bus connection
// failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// unavailable builds an UnavailableError, scrubbing credentials from
// the URL so the error is safe to log and relay.
func unavailable(url string, attempts int, err error) *UnavailableError {
	return &UnavailableError{URL: redact.URL(url), Attempts: attempts, Err: err}
}
