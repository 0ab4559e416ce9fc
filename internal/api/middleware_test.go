package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santa-tracker/santa-gateway/internal/config"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(), Logger())
	r.Use(handlers...)
	return r
}

func TestRequestID(t *testing.T) {
	r := newRouter()
	r.GET("/ping", func(c *gin.Context) { Success(c, gin.H{"id": RequestIDOf(c)}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), "abc-123")
}

func TestErrorEnvelope(t *testing.T) {
	r := newRouter()
	r.GET("/missing", func(c *gin.Context) {
		Error(c, types.New(types.ErrModelNotFound, "Model 'x' not found"))
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "Model 'x' not found", env.Error)
	assert.Equal(t, types.ErrModelNotFound, env.Kind)
	assert.NotEmpty(t, env.Suggestion)
	assert.NotEmpty(t, env.RequestID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestCORS(t *testing.T) {
	enabled := true
	r := newRouter(CORS(func() bool { return enabled }))
	r.GET("/api/config", func(c *gin.Context) { Success(c, gin.H{}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/config", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")

	enabled = false
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBindJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
	}{
		{"valid", `{"model":"phi3"}`, false, false},
		{"invalid", `{"model":`, false, true},
		{"empty rejected", "", false, true},
		{"empty allowed", "  ", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst struct {
				Model string `json:"model"`
			}
			err := BindJSON(c, &dst, tt.allowEmpty)
			if tt.wantErr {
				assert.True(t, types.Is(err, types.ErrMalformedRequest))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{}, "/api/generate")
		assert.False(t, rl.Enabled())
	})

	t.Run("limits POSTs to listed paths", func(t *testing.T) {
		rl := NewRateLimiter(config.RateLimitConfig{RequestsPerMinute: 1, Burst: 2, ClientTTL: 60}, "/api/generate")
		r := newRouter(rl.Middleware())
		r.POST("/api/generate", func(c *gin.Context) { Success(c, gin.H{}) })
		r.GET("/api/generate", func(c *gin.Context) { Success(c, gin.H{}) })

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/generate", nil))
			codes = append(codes, w.Code)
			if w.Code == http.StatusTooManyRequests {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
		}
		assert.Equal(t, []int{200, 200, 429}, codes)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/generate", nil))
		assert.Equal(t, http.StatusOK, w.Code, "GET is not limited")
	})
}
