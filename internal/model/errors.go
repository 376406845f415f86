// internal/model/errors.go
package model

import "errors"

// Sentinel errors for policy discrimination. Handlers map these to HTTP
// status codes without inspecting storage internals.
var (
	ErrNotFound    = errors.New("not found")
	ErrAlreadySent = errors.New("message already sent")
	ErrDuplicate   = errors.New("duplicate binding key")
)
