package server

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/santa-tracker/santa-gateway/internal/api"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/types"
	"github.com/santa-tracker/santa-gateway/internal/websocket"
)

const jsonContentType = "application/json; charset=utf-8"

// handleGetConfig returns the whole document as stored, unknown keys included
func (s *Server) handleGetConfig(c *gin.Context) {
	c.Data(http.StatusOK, jsonContentType, s.deps.Store.Raw())
}

func (s *Server) handleConfigStatus(c *gin.Context) {
	api.Success(c, s.deps.Store.Status())
}

func (s *Server) handleSaveConfig(c *gin.Context) {
	body, err := api.ReadBody(c)
	if err != nil {
		api.Error(c, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		api.BadRequest(c, "Request body is required")
		return
	}

	if err := s.deps.Store.SaveRaw(body); err != nil {
		api.Error(c, err)
		return
	}

	logger.WithField("path", s.deps.Store.Path()).Info("Configuration saved")
	s.deps.Hub.Emit(websocket.EventTypeConfigSaved, gin.H{"section": ""})
	api.Success(c, gin.H{"status": "success", "message": "Configuration saved"})
}

// handleValidateConfig always answers 200, reporting problems in the body
func (s *Server) handleValidateConfig(c *gin.Context) {
	body, err := api.ReadBody(c)
	if err != nil {
		api.Error(c, err)
		return
	}

	valid, errs := configstore.Validate(body)
	if errs == nil {
		errs = []string{}
	}
	api.Success(c, gin.H{"valid": valid, "errors": errs})
}

func (s *Server) handleGetSection(c *gin.Context) {
	section, err := s.deps.Store.GetSection(c.Param("section"))
	if err != nil {
		api.Error(c, err)
		return
	}
	c.Data(http.StatusOK, jsonContentType, section)
}

func (s *Server) handleUpdateSection(c *gin.Context) {
	name := c.Param("section")
	body, err := api.ReadBody(c)
	if err != nil {
		api.Error(c, err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		api.Error(c, types.New(types.ErrMalformedRequest, "Request body is required"))
		return
	}

	if err := s.deps.Store.SetSection(name, body); err != nil {
		api.Error(c, err)
		return
	}

	logger.WithField("section", name).Info("Configuration section updated")
	s.deps.Hub.Emit(websocket.EventTypeConfigSaved, gin.H{"section": name})
	api.Success(c, gin.H{"status": "success", "message": "Updated " + name})
}
