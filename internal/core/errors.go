package core

import "errors"

var (
	// ErrValidation marks requests missing required fields.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks requests acting on a resource owned by another user.
	ErrForbidden = errors.New("forbidden")
	// ErrDownstream marks failures of the generation endpoint: transport, timeout or malformed reply.
	ErrDownstream = errors.New("generation failed")
)
