package proxy

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"studypal-backend/callable"
	"studypal-backend/config"
	"studypal-backend/usage"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultGeminiModel = "gemini-2.5-flash-preview-04-17"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// Both overridable in tests: a non-empty geminiBaseURL replaces the
// location-scoped Vertex host.
var (
	geminiBaseURL     = ""
	geminiTokenSource = func(c *gin.Context) (oauth2.TokenSource, error) {
		return google.DefaultTokenSource(c.Request.Context(), cloudPlatformScope)
	}
)

type geminiRequest struct {
	Contents         json.RawMessage `json:"contents"`
	Model            string          `json:"model"`
	GenerationConfig json.RawMessage `json:"generation_config"`
}

// gemini forwards a generate-content request to Vertex AI using the service
// account the process runs as.
func (h *Handler) gemini(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	data, _, ok := bindData(c)
	if !ok {
		return
	}
	var req geminiRequest
	if err := json.Unmarshal(data, &req); err != nil {
		callable.Abort(c, callable.New(callable.InvalidArgument, "payload must be a JSON object"))
		return
	}
	if len(req.Contents) == 0 {
		callable.Abort(c, callable.New(callable.InvalidArgument, "contents is required"))
		return
	}
	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}
	genConfig := req.GenerationConfig
	if len(genConfig) == 0 {
		genConfig, _ = json.Marshal(gin.H{"temperature": 0.7, "max_output_tokens": 1000})
	}

	if !h.checkQuota(c, userID, "gemini") {
		return
	}

	project := config.GoogleProject()
	if project == "" {
		callable.Abort(c, callable.New(callable.FailedPrecondition, "Google Cloud project is not configured"))
		return
	}
	ts, err := geminiTokenSource(c)
	if err != nil {
		callable.Abort(c, callable.New(callable.Internal, "failed to obtain Google credentials"))
		return
	}
	token, err := ts.Token()
	if err != nil {
		callable.Abort(c, callable.New(callable.Internal, "failed to obtain Google access token"))
		return
	}

	location := config.GeminiLocation()
	base := geminiBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	}
	url := fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent",
		base, project, location, model)
	body, _ := json.Marshal(gin.H{
		"contents":          req.Contents,
		"generation_config": genConfig,
	})

	call := VendorCall{
		Name:       "gemini",
		URL:        url,
		Auth:       AuthBearer,
		Credential: token.AccessToken,
		Timeout:    90 * time.Second,
	}
	resp, err := call.Do(c.Request.Context(), body)
	if err != nil {
		callable.Abort(c, err)
		return
	}

	text, promptTokens, completionTokens := parseGeminiResponse(resp)
	if completionTokens == 0 && text != "" {
		completionTokens = usage.EstimateTokens(text)
	}
	h.recordUsage(userID, "gemini", model, promptTokens, completionTokens)
	log.Printf("[proxy][gemini] user=%d model=%s tokens=%d/%d", userID, model, promptTokens, completionTokens)
	respond(c, gin.H{
		"text":  text,
		"model": model,
		"usage": gin.H{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	})
}

func parseGeminiResponse(resp json.RawMessage) (string, int, int) {
	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", 0, 0
	}
	text := ""
	if len(parsed.Candidates) > 0 && len(parsed.Candidates[0].Content.Parts) > 0 {
		text = parsed.Candidates[0].Content.Parts[0].Text
	}
	return text, parsed.UsageMetadata.PromptTokenCount, parsed.UsageMetadata.CandidatesTokenCount
}
