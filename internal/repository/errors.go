// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as handlers
// to distinguish between failure scenarios without inspecting driver
// errors. For example, ErrNotFound maps to an HTTP 404 while ErrConflict
// signals a duplicate registration and maps to 409.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row. Handlers
// should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with an existing
// unique row, such as registering a username or email that is
// already taken. Handlers should translate this into an HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrSessionNotFound is returned by session lookups when no live,
// unexpired session matches. It deliberately covers revoked, expired,
// missing and inactive-user cases alike so callers cannot leak which
// check failed. Handlers translate it into an HTTP 401.
var ErrSessionNotFound = errors.New("session not found")
