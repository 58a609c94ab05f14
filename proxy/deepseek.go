package proxy

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"studypal-backend/callable"
	"studypal-backend/config"

	"github.com/gin-gonic/gin"
)

// Overridable in tests.
var deepSeekURL = "https://api.deepseek.com/v1/chat/completions"

// fallbackStudyAid is served when the vendor is unreachable or degraded, so
// the client flow can complete with placeholder content.
func fallbackStudyAid(reason string) gin.H {
	content, _ := json.Marshal(gin.H{
		"name":            "Simple mnemonic",
		"description":     "A basic memory aid generated while the service was unavailable.",
		"type":            defaultType,
		"tags":            []string{"auto-generated"},
		"contentKeywords": []string{"memory", "study"},
		"flashcards": []gin.H{{
			"front": "What is a mnemonic?",
			"back":  "A pattern that helps you remember information.",
		}},
	})
	return gin.H{
		"choices": []gin.H{{
			"message": gin.H{
				"role":    "assistant",
				"content": string(content),
			},
		}},
		"error_info": gin.H{
			"degraded": true,
			"reason":   reason,
		},
	}
}

// deepSeek forwards a chat completion to DeepSeek and sanitizes the JSON the
// model returns. Vendor failures degrade to a canned study aid instead of
// erroring, because the calling flow treats this content as best-effort.
func (h *Handler) deepSeek(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	data, _, ok := bindData(c)
	if !ok {
		return
	}
	if ce := validateChatPayload(data); ce != nil {
		callable.Abort(c, ce)
		return
	}
	if !h.checkQuota(c, userID, "deepseek") {
		return
	}
	key, err := config.DeepSeekKey()
	if err != nil || !strings.HasPrefix(key, "sk-") {
		log.Printf("[proxy][deepseek] credential missing or malformed, serving fallback")
		respond(c, fallbackStudyAid("credential not configured"))
		return
	}

	call := VendorCall{
		Name:       "deepseek",
		URL:        deepSeekURL,
		Auth:       AuthBearer,
		Credential: key,
		Timeout:    90 * time.Second,
	}
	resp, err := call.Do(c.Request.Context(), data)
	if err != nil {
		log.Printf("[proxy][deepseek] user=%d degraded to fallback: %v", userID, err)
		respond(c, fallbackStudyAid(err.Error()))
		return
	}
	h.recordDeepSeekUsage(userID, resp)
	respond(c, sanitizeDeepSeekResponse(resp))
}

// sanitizeDeepSeekResponse repairs the JSON inside the first choice's message
// content in place. Anything unexpected passes through untouched.
func sanitizeDeepSeekResponse(resp json.RawMessage) json.RawMessage {
	var parsed map[string]any
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return resp
	}
	choices, _ := parsed["choices"].([]any)
	if len(choices) == 0 {
		return resp
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	content, _ := message["content"].(string)
	if content == "" {
		return resp
	}
	repaired, ok := RepairModelJSON(content)
	if !ok {
		log.Printf("[proxy][deepseek] content not repairable, passing through")
		return resp
	}
	message["content"] = BackfillStudyAid(repaired)
	out, err := json.Marshal(parsed)
	if err != nil {
		return resp
	}
	return out
}

func (h *Handler) recordDeepSeekUsage(userID int, resp json.RawMessage) {
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
	h.recordUsage(userID, "deepseek", parsed.Model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
}
