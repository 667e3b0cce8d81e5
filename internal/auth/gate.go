// Package auth guards crawl operations behind registry-validated API keys.
package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgate/internal/apperr"
	"github.com/JakeFAU/crawlgate/internal/hash/sha256"
	"github.com/JakeFAU/crawlgate/internal/metrics"
)

// HeaderAPIKey carries the client's key.
const HeaderAPIKey = "X-API-Key"

// Client-facing messages. Unknown and revoked keys share one message.
const (
	msgMissingKey  = "missing " + HeaderAPIKey + " header"
	msgInvalidKey  = "invalid API key"
	msgUnavailable = "key registry unavailable; try again later"
)

// Auth decisions reported to metrics.
const (
	decisionAllowed     = "allowed"
	decisionMissing     = "missing"
	decisionDenied      = "denied"
	decisionUnavailable = "unavailable"
)

// Validator answers whether a key is currently valid.
type Validator interface {
	Validate(ctx context.Context, key string) (bool, error)
}

// Gate turns validator outcomes into auth errors.
type Gate struct {
	validator Validator
	logger    *zap.Logger
}

// NewGate builds a Gate over v.
func NewGate(v Validator, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{validator: v, logger: logger.Named("auth")}
}

// KeyFromRequest returns the API key header value, or "" when absent.
func KeyFromRequest(r *http.Request) string {
	return r.Header.Get(HeaderAPIKey)
}

// Authorize returns nil when key may proceed, or an *apperr.Error of kind
// Unauthenticated, Unauthorized or AuthBackendUnavailable.
func (g *Gate) Authorize(ctx context.Context, key string) error {
	valid, err := g.Check(ctx, key)
	if err != nil {
		return err
	}
	if !valid {
		metrics.ObserveAuthDecision(decisionDenied)
		g.logger.Debug("key rejected", zap.String("key_fp", sha256.Short(key)))
		return apperr.New(apperr.Unauthorized, msgInvalidKey)
	}
	metrics.ObserveAuthDecision(decisionAllowed)
	return nil
}

// Check reports key validity without treating an invalid key as an error.
// It fails only for a missing key or an unavailable registry.
func (g *Gate) Check(ctx context.Context, key string) (bool, error) {
	if key == "" {
		metrics.ObserveAuthDecision(decisionMissing)
		return false, apperr.New(apperr.Unauthenticated, msgMissingKey)
	}
	valid, err := g.validator.Validate(ctx, key)
	if err != nil {
		metrics.ObserveAuthDecision(decisionUnavailable)
		g.logger.Warn("key validation failed",
			zap.String("key_fp", sha256.Short(key)),
			zap.Error(err),
		)
		return false, apperr.Wrap(apperr.AuthBackendUnavailable, msgUnavailable, err)
	}
	return valid, nil
}
