package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/santa-tracker/santa-gateway/internal/api"
	"github.com/santa-tracker/santa-gateway/internal/pull"
)

// modelRequest is the body of the switch and pull endpoints
type modelRequest struct {
	Model string `json:"model"`
}

func (s *Server) handleListModels(c *gin.Context) {
	entries, err := s.deps.Registry.List(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, gin.H{"models": entries})
}

func (s *Server) handleModelHealth(c *gin.Context) {
	results, err := s.deps.Registry.HealthCheck(c.Request.Context())
	if err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, results)
}

// handleCurrentModel answers with both spellings the UI versions read
func (s *Server) handleCurrentModel(c *gin.Context) {
	current := s.deps.Proxy.CurrentModel()
	api.Success(c, gin.H{"currentModel": current, "current_model": current})
}

func (s *Server) handleSwitchModel(c *gin.Context) {
	var req modelRequest
	if err := api.BindJSON(c, &req, false); err != nil {
		api.Error(c, err)
		return
	}

	result, err := s.deps.Proxy.SwitchModel(c.Request.Context(), req.Model)
	if err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, result)
}

func (s *Server) handlePullModel(c *gin.Context) {
	var req modelRequest
	if err := api.BindJSON(c, &req, false); err != nil {
		api.Error(c, err)
		return
	}

	task, existing, err := s.deps.Proxy.PullModel(req.Model)
	if err != nil {
		api.Error(c, err)
		return
	}

	message := fmt.Sprintf("Started pulling model '%s'", task.Model)
	if existing {
		message = fmt.Sprintf("Model '%s' is already being pulled", task.Model)
	}
	api.Success(c, gin.H{
		"status":   "started",
		"message":  message,
		"existing": existing,
		"task":     task,
	})
}

func (s *Server) handleListPulls(c *gin.Context) {
	tasks := s.deps.Proxy.Pulls().List()
	if tasks == nil {
		tasks = []pull.Task{}
	}
	api.Success(c, gin.H{"pulls": tasks})
}

func (s *Server) handleGetPull(c *gin.Context) {
	task, err := s.deps.Proxy.Pulls().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, task)
}

func (s *Server) handleCancelPull(c *gin.Context) {
	task, err := s.deps.Proxy.Pulls().Cancel(c.Param("id"))
	if err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, task)
}

func (s *Server) handleDeleteModel(c *gin.Context) {
	name := c.Param("name")
	if err := s.deps.Proxy.DeleteModel(c.Request.Context(), name); err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Deleted model '%s'", name),
	})
}
