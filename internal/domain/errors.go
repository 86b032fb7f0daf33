package domain

import "errors"

// Errors returned by reasoning clients and the response parser. Callers use
// errors.Is to decide whether an attempt may be retried.
var (
	ErrRateLimited       = errors.New("reasoning service rate limit exceeded")
	ErrTimeout           = errors.New("reasoning service timed out")
	ErrMalformedResponse = errors.New("malformed reasoning response")
	ErrSchemaViolation   = errors.New("reasoning response violates schema")
	ErrUnauthorized      = errors.New("reasoning service rejected credentials")
	ErrBadRequest        = errors.New("reasoning service rejected request")
)

// Store errors.
var (
	ErrEventNotFound   = errors.New("event not found")
	ErrAlreadyEnriched = errors.New("event already enriched")
)
