package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/santa-tracker/santa-gateway/internal/api"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/metrics"
	"github.com/santa-tracker/santa-gateway/internal/types"
)

const (
	defaultPassthroughTimeout = 120 * time.Second
	maxUpstreamErrorBody      = 512

	suggestInstallModel = "Make sure Ollama is properly installed and the model is available"
	suggestStartOllama  = "Make sure Ollama is running with 'ollama serve'"
)

// passthrough forwards unmatched /api/* requests to the local backend
type passthrough struct {
	proxy   *httputil.ReverseProxy
	timeout time.Duration
}

func newPassthrough(baseURL string, timeout time.Duration) (*passthrough, error) {
	target, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", baseURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultPassthroughTimeout
	}

	p := &passthrough{timeout: timeout}
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.Host = target.Host
		},
		ModifyResponse: rejectUpstreamErrors,
		ErrorHandler:   p.handleError,
	}
	return p, nil
}

func (p *passthrough) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()
	p.proxy.ServeHTTP(w, r.WithContext(ctx))
}

// rejectUpstreamErrors turns backend error statuses into gateway envelopes
func rejectUpstreamErrors(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamErrorBody))
	return &types.Error{
		Kind:       types.ErrBackendRejected,
		Message:    "Ollama HTTP error: " + http.StatusText(resp.StatusCode),
		Suggestion: suggestInstallModel,
		Status:     resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func (p *passthrough) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(r.Context().Err(), context.Canceled) {
		logger.WithField("path", r.URL.Path).Debug("Passthrough request cancelled by client")
		return
	}

	e, ok := types.AsError(err)
	switch {
	case ok:
	case errors.Is(err, context.DeadlineExceeded):
		e = types.Wrap(types.ErrTimeout, err, "Ollama request timed out").WithSuggestion(suggestStartOllama)
	default:
		e = types.Wrap(types.ErrBackendUnavailable, err, "Ollama not available").WithSuggestion(suggestStartOllama)
	}

	metrics.BackendError("passthrough", e.Kind.String())
	logger.WithField("path", r.URL.Path).WithError(err).Warn("Passthrough request failed")

	env := types.NewEnvelope(e, w.Header().Get("X-Request-ID"))
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(env.Kind.HTTPStatusCode())
	json.NewEncoder(w).Encode(env)
}

// handleNoRoute forwards unknown API paths to the backend and serves
// everything else from the web root
func (s *Server) handleNoRoute(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		if s.passthrough == nil {
			api.Error(c, types.New(types.ErrNotSupported, "API passthrough is not supported for %s provider", s.client.Provider()))
			return
		}
		s.passthrough.ServeHTTP(c.Writer, c.Request)
		return
	}

	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	s.static.ServeHTTP(c.Writer, c.Request)
}
