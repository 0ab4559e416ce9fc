package server

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/santa-tracker/santa-gateway/internal/api"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/monitor"
	"github.com/santa-tracker/santa-gateway/internal/personalization"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/santa-tracker/santa-gateway/internal/version"
)

// BackendStatus is the liveness report of the configured backend. An
// unreachable backend is reported, not returned as an error.
type BackendStatus struct {
	Provider        configstore.ProviderType `json:"provider"`
	Status          string                   `json:"status"` // online, offline
	Online          bool                     `json:"online"`
	Version         string                   `json:"version,omitempty"`
	URL             string                   `json:"url"`
	CredentialValid *bool                    `json:"credentialValid,omitempty"`
	DefaultModel    string                   `json:"defaultModel,omitempty"`
	Error           string                   `json:"error,omitempty"`
	Kind            types.ErrorKind          `json:"errorKind,omitempty"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                  `json:"status"` // healthy, degraded
	Timestamp string                  `json:"timestamp"`
	Version   string                  `json:"version"`
	Provider  configstore.ProviderType `json:"provider"`
	Backend   BackendStatus           `json:"backend"`
	Host      *monitor.HostResources  `json:"host,omitempty"`
}

// probeBackend asks the backend for its status
func (s *Server) probeBackend(ctx context.Context) BackendStatus {
	status := BackendStatus{
		Provider:     s.client.Provider(),
		Status:       "offline",
		URL:          s.client.BaseURL(),
		DefaultModel: s.deps.Store.Snapshot().AIProvider.DefaultModel,
	}

	st, err := s.client.Status(ctx)
	if err != nil {
		env := types.NewEnvelope(err, "")
		status.Error = env.Error
		status.Kind = env.Kind
		if env.Kind == types.ErrMissingCredential || env.Kind == types.ErrInvalidCredential {
			valid := false
			status.CredentialValid = &valid
		}
		return status
	}

	status.Status = "online"
	status.Online = st.Online
	status.Version = st.Version
	status.CredentialValid = st.CredentialValid
	if st.URL != "" {
		status.URL = st.URL
	}
	return status
}

// handleHealth always answers 200; a down backend only degrades the status
func (s *Server) handleHealth(c *gin.Context) {
	backendStatus := s.probeBackend(c.Request.Context())

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version.GetVersion(),
		Provider:  backendStatus.Provider,
		Backend:   backendStatus,
	}
	if !backendStatus.Online {
		resp.Status = "degraded"
	}
	if s.deps.Monitor != nil {
		host := s.deps.Monitor.Snapshot()
		resp.Host = &host
	}
	api.Success(c, resp)
}

func (s *Server) handleBackendStatus(c *gin.Context) {
	api.Success(c, s.probeBackend(c.Request.Context()))
}

// handleOllamaStatus keeps the status shape of the first tracker release
func (s *Server) handleOllamaStatus(c *gin.Context) {
	st := s.probeBackend(c.Request.Context())

	resp := gin.H{"status": "offline", "url": st.URL}
	if st.Online {
		resp["status"] = "running"
		resp["version"] = st.Version
	}
	if st.Error != "" {
		resp["error"] = st.Error
	}
	api.Success(c, resp)
}

// handleCloudStatus keeps the status shape of the cloud tracker release
func (s *Server) handleCloudStatus(c *gin.Context) {
	st := s.probeBackend(c.Request.Context())

	keyValid := st.Online
	if st.CredentialValid != nil {
		keyValid = st.Online && *st.CredentialValid
	}
	resp := gin.H{
		"status":       "offline",
		"apiKeyValid":  keyValid,
		"error":        nil,
		"url":          st.URL,
		"defaultModel": st.DefaultModel,
	}
	if keyValid {
		resp["status"] = "online"
	}
	if st.Error != "" {
		resp["error"] = st.Error
	}
	api.Success(c, resp)
}

func (s *Server) handleFamily(c *gin.Context) {
	if s.deps.Family == nil {
		api.Success(c, personalization.Summarize(nil))
		return
	}
	api.Success(c, s.deps.Family.Summary())
}

func (s *Server) handleFamilyReload(c *gin.Context) {
	if s.deps.Family == nil {
		api.Error(c, types.New(types.ErrNotSupported, "Personalization is disabled"))
		return
	}

	hasData := s.deps.Family.Reload()
	message := "Family database reloaded successfully! 🎄"
	if !hasData {
		message = "No family data found at " + s.deps.Family.Path()
	}
	api.Success(c, gin.H{"status": "reloaded", "hasData": hasData, "message": message})
}

// handleLogs returns recent log entries, oldest first
func (s *Server) handleLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries := []logger.TailEntry{}
	if s.deps.Tail != nil {
		entries = s.deps.Tail.Entries(limit, c.Query("level"))
	}
	api.Success(c, gin.H{"entries": entries})
}

// handleDevtools answers the Chrome devtools probe so it stays out of the
// 404 logs
func (s *Server) handleDevtools(c *gin.Context) {
	api.Success(c, gin.H{})
}
