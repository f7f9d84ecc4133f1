// Package repository persists the audit records of the engine: the
// authorization sessions of the institutional path and the journal of
// terminal reservation outcomes. Sentinel errors let handlers map failure
// scenarios onto HTTP responses without inspecting driver errors.
package repository

import "errors"

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")
