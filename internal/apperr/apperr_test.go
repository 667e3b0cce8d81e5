package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKindStatus(t *testing.T) {
	t.Parallel()

	tests := map[Kind]int{
		Unauthenticated:        http.StatusUnauthorized,
		Unauthorized:           http.StatusForbidden,
		AuthBackendUnavailable: http.StatusServiceUnavailable,
		InvalidRequest:         http.StatusUnprocessableEntity,
		EngineTimeout:          http.StatusGatewayTimeout,
		EngineError:            http.StatusBadGateway,
		InvalidTarget:          http.StatusBadGateway,
		Internal:               http.StatusInternalServerError,
		Kind("other"):          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.Status(), "kind %s", kind)
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	t.Parallel()

	base := New(Unauthorized, "invalid API key")
	wrapped := fmt.Errorf("authorize: %w", base)
	assert.Equal(t, Unauthorized, KindOf(wrapped))
	assert.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := Wrap(AuthBackendUnavailable, "key registry unavailable", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "auth_backend_unavailable")
}

func TestWriteHidesInternalDetail(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Write(rec, zap.NewNop(), errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, Internal, env.Error)
	assert.NotContains(t, env.Message, "password")
}

func TestWriteKnownKind(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	Write(rec, nil, New(InvalidRequest, "url must be an absolute http(s) URL"))

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, Envelope{Error: InvalidRequest, Message: "url must be an absolute http(s) URL"}, env)
}
