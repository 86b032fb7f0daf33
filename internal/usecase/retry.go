package usecase

import (
	"errors"
	"time"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// FailureKind classifies a failed reasoning attempt.
type FailureKind int

const (
	FailureTransport FailureKind = iota
	FailureRateLimited
	FailureTimeout
	FailureMalformed
	FailureSchema
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureTimeout:
		return "timeout"
	case FailureMalformed:
		return "malformed"
	case FailureSchema:
		return "schema"
	case FailurePermanent:
		return "permanent"
	}
	return "transport"
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeTransient
	outcomePermanent
)

// attemptOutcome is the tagged result of a single reasoning attempt.
type attemptOutcome struct {
	kind    outcomeKind
	failure FailureKind
	result  domain.EnrichmentResult
	err     error
}

// classifyAttempt maps a reasoner response onto an attemptOutcome. Credential
// and request rejections are permanent; everything else may be retried.
func classifyAttempt(raw []byte, err error) attemptOutcome {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrBadRequest):
			return attemptOutcome{kind: outcomePermanent, failure: FailurePermanent, err: err}
		case errors.Is(err, domain.ErrRateLimited):
			return attemptOutcome{kind: outcomeTransient, failure: FailureRateLimited, err: err}
		case errors.Is(err, domain.ErrTimeout):
			return attemptOutcome{kind: outcomeTransient, failure: FailureTimeout, err: err}
		case errors.Is(err, domain.ErrMalformedResponse):
			return attemptOutcome{kind: outcomeTransient, failure: FailureMalformed, err: err}
		case errors.Is(err, domain.ErrSchemaViolation):
			return attemptOutcome{kind: outcomeTransient, failure: FailureSchema, err: err}
		}
		return attemptOutcome{kind: outcomeTransient, failure: FailureTransport, err: err}
	}

	res, err := domain.ParseEnrichment(raw)
	if err != nil {
		if errors.Is(err, domain.ErrSchemaViolation) {
			return attemptOutcome{kind: outcomeTransient, failure: FailureSchema, err: err}
		}
		return attemptOutcome{kind: outcomeTransient, failure: FailureMalformed, err: err}
	}
	return attemptOutcome{kind: outcomeSuccess, result: res}
}

// Backoff returns the wait after a failed attempt (0-based). Rate limits back
// off four times longer than other transient failures.
func Backoff(attempt int, kind FailureKind, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	shift := attempt
	if kind == FailureRateLimited {
		shift += 2
	}
	return base * time.Duration(1<<shift)
}
