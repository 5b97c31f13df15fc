// Package apperr holds the cross-cutting error sentinels that classify
// failures by cause rather than by type, so the HTTP adapter can map any
// error back to a status class with a single errors.Is switch.
package apperr

import "errors"

// ErrConfiguration marks a missing-credential or unparseable-env failure.
// Callers report it as a 500-class condition.
var ErrConfiguration = errors.New("configuration error")

// ErrValidation marks a request rejected before any I/O: a non-positive
// account id, or an explicit start after end. Callers report it as a
// 400-class condition.
var ErrValidation = errors.New("validation error")

// ErrTruncated marks pagination suspected unstable (a repeated page
// signature, or the hard page ceiling). It is logged, never returned as an
// error, and forces the day-sync record to partial.
var ErrTruncated = errors.New("pagination truncation suspected")
