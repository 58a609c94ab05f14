package proxy

import (
	"encoding/json"
	"io"
	"log"

	"studypal-backend/callable"
	"studypal-backend/quota"
	"studypal-backend/usage"

	"github.com/gin-gonic/gin"
)

// Handler carries the shared dependencies of all proxy endpoints.
type Handler struct {
	quota *quota.Validator
	usage *usage.Repository
}

func NewHandler(q *quota.Validator, u *usage.Repository) *Handler {
	return &Handler{quota: q, usage: u}
}

// RegisterRoutes mounts every proxy endpoint behind the auth middleware.
func (h *Handler) RegisterRoutes(authed *gin.RouterGroup) {
	authed.POST("/proxy/openai", h.openAI)
	authed.POST("/proxy/openai-v2", h.openAIV2)
	authed.POST("/proxy/vision", h.vision)
	authed.POST("/proxy/deepseek", h.deepSeek)
	authed.POST("/proxy/gemini", h.gemini)
	authed.POST("/ocr", h.ocr)
}

func caller(c *gin.Context) (int, bool) {
	id, ok := callable.UserID(c)
	if !ok {
		callable.Abort(c, callable.New(callable.Unauthenticated, "authentication required"))
	}
	return id, ok
}

// bindData unwraps the {"data": {...}, ...aux} envelope, returning the data
// object and any aux fields sent beside it. Bodies without the envelope are
// treated as the data object itself so plain HTTP clients also work.
func bindData(c *gin.Context) (json.RawMessage, map[string]json.RawMessage, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		callable.Abort(c, callable.New(callable.InvalidArgument, "request body is required"))
		return nil, nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		callable.Abort(c, callable.New(callable.InvalidArgument, "request body must be JSON"))
		return nil, nil, false
	}
	if raw, found := fields["data"]; found && len(raw) > 0 && string(raw) != "null" {
		delete(fields, "data")
		return raw, fields, true
	}
	return json.RawMessage(body), nil, true
}

// auxString reads a string-valued aux field, empty when absent or not a string.
func auxString(aux map[string]json.RawMessage, key string) string {
	var s string
	if raw, found := aux[key]; found {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// respond wraps a successful result in the callable envelope.
func respond(c *gin.Context, result any) {
	c.JSON(200, gin.H{"data": result})
}

// checkQuota runs the counter for a provider and aborts on denial.
func (h *Handler) checkQuota(c *gin.Context, userID int, provider string) bool {
	if err := h.quota.Check(c.Request.Context(), userID, provider); err != nil {
		callable.Abort(c, err)
		return false
	}
	return true
}

// recordUsage persists a usage row; failures are logged, never surfaced.
func (h *Handler) recordUsage(userID int, provider, model string, promptTokens, completionTokens int) {
	if h.usage == nil {
		return
	}
	if err := h.usage.Record(userID, provider, model, promptTokens, completionTokens); err != nil {
		log.Printf("[proxy][usage] record failed user=%d provider=%s: %v", userID, provider, err)
	}
}
