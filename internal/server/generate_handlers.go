package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/santa-tracker/santa-gateway/internal/api"
	"github.com/santa-tracker/santa-gateway/internal/proxy"
	"github.com/santa-tracker/santa-gateway/internal/storage"
)

// generateBody accepts both the current and the legacy prompt kind key
type generateBody struct {
	proxy.GenerateRequest
	PromptType string `json:"prompt_type,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the subset of an OpenAI request the legacy
// endpoint reads. The requested model is ignored; the configured one is
// used.
type chatCompletionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   interface{}  `json:"usage"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var body generateBody
	if err := api.BindJSON(c, &body, true); err != nil {
		api.Error(c, err)
		return
	}
	req := body.GenerateRequest
	if req.PromptKind == "" {
		req.PromptKind = body.PromptType
	}

	result, err := s.deps.Proxy.Generate(c.Request.Context(), req)
	if err != nil {
		api.Error(c, err)
		return
	}
	api.Success(c, result)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", 20)
	if err != nil {
		api.BadRequest(c, "limit must be a non-negative integer")
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		api.BadRequest(c, "offset must be a non-negative integer")
		return
	}

	records, err := s.deps.Proxy.History(c.Request.Context(), limit, offset)
	if err != nil {
		api.Error(c, err)
		return
	}
	if records == nil {
		records = []*storage.GenerationRecord{}
	}
	api.Success(c, gin.H{"history": records})
}

// handleChatCompletions serves the OpenAI-shaped endpoint older tracker
// pages call. The prompt kind is guessed from the first user message.
func (s *Server) handleChatCompletions(c *gin.Context) {
	var req chatCompletionRequest
	if err := api.BindJSON(c, &req, true); err != nil {
		api.Error(c, err)
		return
	}

	userMessage := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			userMessage = m.Content
			break
		}
	}

	result, err := s.deps.Proxy.Generate(c.Request.Context(), proxy.GenerateRequest{
		PromptKind: string(proxy.InferPromptKind(userMessage)),
	})
	if err != nil {
		api.Error(c, err)
		return
	}

	var usage interface{} = gin.H{}
	if result.Usage != nil {
		usage = result.Usage
	}
	api.Success(c, chatCompletionResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   result.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: result.Response},
			FinishReason: "stop",
		}},
		Usage: usage,
	})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
