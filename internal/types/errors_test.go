package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindHTTPStatusCode(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{ErrConfigInvalid, http.StatusBadRequest},
		{ErrMalformedRequest, http.StatusBadRequest},
		{ErrNotSupported, http.StatusBadRequest},
		{ErrConfigNotFound, http.StatusNotFound},
		{ErrModelNotFound, http.StatusNotFound},
		{ErrTaskNotFound, http.StatusNotFound},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrBackendUnavailable, http.StatusBadGateway},
		{ErrBackendRejected, http.StatusBadGateway},
		{ErrTimeout, http.StatusBadGateway},
		{ErrInvalidCredential, http.StatusBadGateway},
		{ErrMissingCredential, http.StatusInternalServerError},
		{ErrDeleteFailed, http.StatusInternalServerError},
		{ErrNoModelConfigured, http.StatusInternalServerError},
		{ErrInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.HTTPStatusCode())
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := New(ErrTimeout, "generate timed out")
	wrapped := fmt.Errorf("proxy: %w", base)

	assert.Equal(t, ErrTimeout, KindOf(wrapped))
	assert.True(t, Is(wrapped, ErrTimeout))
	assert.Equal(t, ErrInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, ErrInternal))
}

func TestNewEnvelope(t *testing.T) {
	t.Run("rejected carries body as details", func(t *testing.T) {
		env := NewEnvelope(Rejected(404, `{"error":"model not found"}`), "req-1")
		assert.Equal(t, ErrBackendRejected, env.Kind)
		assert.Equal(t, "backend returned HTTP 404", env.Error)
		assert.Equal(t, []string{`{"error":"model not found"}`}, env.Details)
		assert.NotEmpty(t, env.Suggestion)
		assert.Equal(t, "req-1", env.RequestID)
	})

	t.Run("invalid config lists every violation", func(t *testing.T) {
		env := NewEnvelope(Invalid([]string{"a", "b"}), "")
		assert.Equal(t, ErrConfigInvalid, env.Kind)
		assert.Equal(t, []string{"a", "b"}, env.Details)
	})

	t.Run("foreign errors hide their text", func(t *testing.T) {
		env := NewEnvelope(errors.New("open /secret/path: denied"), "")
		assert.Equal(t, ErrInternal, env.Kind)
		assert.Equal(t, "internal error", env.Error)
	})

	t.Run("explicit suggestion wins", func(t *testing.T) {
		env := NewEnvelope(New(ErrModelNotFound, "nope").WithSuggestion("pull it first"), "")
		assert.Equal(t, "pull it first", env.Suggestion)
	})
}

func TestEnvelopeJSONKeys(t *testing.T) {
	data, err := json.Marshal(NewEnvelope(New(ErrTimeout, "backend generate timed out"), "req-1"))
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "Timeout", out["errorKind"])
	assert.Equal(t, "backend generate timed out", out["error"])
	assert.Equal(t, "req-1", out["requestId"])
	assert.NotEmpty(t, out["suggestion"])
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(ErrBackendUnavailable, cause, "backend unreachable")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "BackendUnavailable")
	assert.Contains(t, err.Error(), "refused")
}
