package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlgate/internal/apperr"
)

type stubValidator struct {
	valid map[string]bool
	err   error
	calls int
}

func (s *stubValidator) Validate(_ context.Context, key string) (bool, error) {
	s.calls++
	if s.err != nil {
		return false, s.err
	}
	return s.valid[key], nil
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		key      string
		err      error
		wantKind apperr.Kind
		wantCall bool
	}{
		{name: "missing key", key: "", wantKind: apperr.Unauthenticated},
		{name: "valid key", key: "good", wantCall: true},
		{name: "unknown key", key: "unknown", wantKind: apperr.Unauthorized, wantCall: true},
		{name: "revoked key", key: "revoked", wantKind: apperr.Unauthorized, wantCall: true},
		{name: "registry down", key: "good", err: errors.New("registry down"), wantKind: apperr.AuthBackendUnavailable, wantCall: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := &stubValidator{valid: map[string]bool{"good": true, "revoked": false}, err: tt.err}
			gate := NewGate(v, nil)

			err := gate.Authorize(context.Background(), tt.key)
			if tt.wantKind == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			}
			assert.Equal(t, tt.wantCall, v.calls == 1)
		})
	}
}

func TestUnknownAndRevokedKeysAreIndistinguishable(t *testing.T) {
	t.Parallel()

	gate := NewGate(&stubValidator{valid: map[string]bool{"revoked": false}}, nil)
	unknown := apperr.EnvelopeFor(gate.Authorize(context.Background(), "never-issued"))
	revoked := apperr.EnvelopeFor(gate.Authorize(context.Background(), "revoked"))
	assert.Equal(t, unknown, revoked)
}

func TestCheckReturnsInvalidWithoutError(t *testing.T) {
	t.Parallel()

	gate := NewGate(&stubValidator{}, nil)
	valid, err := gate.Check(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = gate.Check(context.Background(), "")
	assert.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestKeyFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/auth/validate-key", nil)
	assert.Empty(t, KeyFromRequest(req))
	req.Header.Set(HeaderAPIKey, "CaseSensitive-Key")
	assert.Equal(t, "CaseSensitive-Key", KeyFromRequest(req))
}
