// Package registry looks up API keys in the remote key registry.
//
// Clients perform exactly one upstream call per Lookup and never retry; retry and
// caching policy belongs to the caller (see package keycache).
package registry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks network failures, timeouts, throttling and 5xx responses.
	ErrUnavailable = errors.New("key registry unavailable")
	// ErrMalformed marks a registry response that could not be parsed.
	ErrMalformed = errors.New("key registry response malformed")
)

// Record is the registry's verdict on a single key at a point in time.
type Record struct {
	Key       string
	Valid     bool
	CheckedAt time.Time
}

// Client performs a single lookup against the registry.
type Client interface {
	Lookup(ctx context.Context, key string) (Record, error)
}

// Waiter throttles outbound registry calls.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Lookup outcomes reported to metrics.
const (
	outcomeValid       = "valid"
	outcomeInvalid     = "invalid"
	outcomeUnavailable = "unavailable"
	outcomeMalformed   = "malformed"
)

func outcomeOf(rec Record, err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return outcomeMalformed
	case err != nil:
		return outcomeUnavailable
	case rec.Valid:
		return outcomeValid
	default:
		return outcomeInvalid
	}
}
