package proxy

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"studypal-backend/callable"
	"studypal-backend/config"

	"github.com/gin-gonic/gin"
)

// Overridable in tests.
var openAIBaseURL = "https://api.openai.com/v1"

// largePayloadBytes flags requests that likely embed images.
const largePayloadBytes = 10 << 20

type openAIRequest struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
}

func validateChatPayload(data json.RawMessage) *callable.Error {
	var req openAIRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return callable.New(callable.InvalidArgument, "payload must be a JSON object")
	}
	if req.Model == "" || len(req.Messages) == 0 {
		var received any
		_ = json.Unmarshal(data, &received)
		return callable.NewWithDetails(callable.InvalidArgument,
			"model and messages are required",
			gin.H{"received": received})
	}
	return nil
}

// openAI forwards a chat completion request with the server-held credential.
func (h *Handler) openAI(c *gin.Context) {
	h.forwardOpenAI(c, openAIBaseURL+"/chat/completions")
}

// openAIV2 additionally honors an "endpoint" override selecting the API
// path, sent as an aux field beside data (or inside data as a fallback).
func (h *Handler) openAIV2(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	data, aux, ok := bindData(c)
	if !ok {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		callable.Abort(c, callable.New(callable.InvalidArgument, "payload must be a JSON object"))
		return
	}
	endpoint := auxString(aux, "endpoint")
	if raw, found := fields["endpoint"]; found {
		if endpoint == "" {
			var e string
			if err := json.Unmarshal(raw, &e); err == nil {
				endpoint = e
			}
		}
		delete(fields, "endpoint")
	}
	if endpoint == "" {
		endpoint = "chat/completions"
	}
	endpoint = strings.TrimPrefix(endpoint, "/")
	body, err := json.Marshal(fields)
	if err != nil {
		callable.Abort(c, callable.New(callable.Internal, "failed to rebuild payload"))
		return
	}
	h.doOpenAI(c, userID, fmt.Sprintf("%s/%s", openAIBaseURL, endpoint), body)
}

func (h *Handler) forwardOpenAI(c *gin.Context, url string) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	data, _, ok := bindData(c)
	if !ok {
		return
	}
	h.doOpenAI(c, userID, url, data)
}

func (h *Handler) doOpenAI(c *gin.Context, userID int, url string, body []byte) {
	if ce := validateChatPayload(body); ce != nil {
		callable.Abort(c, ce)
		return
	}
	if !h.checkQuota(c, userID, "openai") {
		return
	}
	key, err := config.OpenAIKey()
	if err != nil {
		callable.Abort(c, callable.New(callable.FailedPrecondition, "OpenAI API key is not configured"))
		return
	}
	if len(body) > largePayloadBytes {
		log.Printf("[proxy][openai] large payload user=%d bytes=%d", userID, len(body))
	}
	call := VendorCall{
		Name:       "openai",
		URL:        url,
		Auth:       AuthBearer,
		Credential: key,
		Timeout:    90 * time.Second,
	}
	resp, err := call.Do(c.Request.Context(), body)
	if err != nil {
		callable.Abort(c, err)
		return
	}
	h.recordOpenAIUsage(userID, resp)
	respond(c, resp)
}

// recordOpenAIUsage extracts the token usage block the API reports.
func (h *Handler) recordOpenAIUsage(userID int, resp json.RawMessage) {
	var parsed struct {
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return
	}
	h.recordUsage(userID, "openai", parsed.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
}
