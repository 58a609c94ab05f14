package proxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"studypal-backend/quota"

	"github.com/gin-gonic/gin"
)

type freePlans struct{}

func (freePlans) IsPremiumUser(int) (bool, error) { return false, nil }

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := r.Group("/api", func(c *gin.Context) {
		c.Set("user_id", 1)
		c.Next()
	})
	h.RegisterRoutes(authed)
	return r
}

func newTestHandler() *Handler {
	return NewHandler(quota.NewValidator(quota.NewMemoryCounter(), freePlans{}), nil)
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOpenAI_MissingModelEchoesPayload(t *testing.T) {
	t.Setenv("QUOTA_DISABLE", "1")
	r := newTestRouter(newTestHandler())
	payload := map[string]any{"data": map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}}}
	w := postJSON(r, "/api/proxy/openai", payload)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Error struct {
			Status  string `json:"status"`
			Details struct {
				Received map[string]any `json:"received"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Error.Status != "INVALID_ARGUMENT" {
		t.Errorf("status = %q", resp.Error.Status)
	}
	if _, ok := resp.Error.Details.Received["messages"]; !ok {
		t.Errorf("details should echo the received payload: %s", w.Body.String())
	}
}

func TestOpenAI_ForwardsAndWrapsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"id":"cmpl-1","model":"gpt-4o","choices":[]}`))
	}))
	defer upstream.Close()
	oldBase := openAIBaseURL
	openAIBaseURL = upstream.URL
	defer func() { openAIBaseURL = oldBase }()
	t.Setenv("OPENAI_APIKEY", "sk-test")
	t.Setenv("QUOTA_DISABLE", "1")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/openai", map[string]any{
		"data": map[string]any{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Data.ID != "cmpl-1" {
		t.Errorf("upstream body not wrapped in data envelope: %s", w.Body.String())
	}
}

func TestOpenAI_QuotaDeniedAfterFreeLimit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x"}`))
	}))
	defer upstream.Close()
	oldBase := openAIBaseURL
	openAIBaseURL = upstream.URL
	defer func() { openAIBaseURL = oldBase }()
	t.Setenv("OPENAI_APIKEY", "sk-test")

	r := newTestRouter(newTestHandler())
	body := map[string]any{"data": map[string]any{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hi"}}}}
	for i := 0; i < 10; i++ {
		if w := postJSON(r, "/api/proxy/openai", body); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d (%s)", i+1, w.Code, w.Body.String())
		}
	}
	w := postJSON(r, "/api/proxy/openai", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request 11: status = %d, want 429 (%s)", w.Code, w.Body.String())
	}
}

func TestDeepSeek_FallbackWhenCredentialMissing(t *testing.T) {
	t.Setenv("QUOTA_DISABLE", "1")
	t.Setenv("DEEPSEEK_NEWKEY", "")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/deepseek", map[string]any{
		"data": map[string]any{"model": "deepseek-chat", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 fallback (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			ErrorInfo struct {
				Degraded bool `json:"degraded"`
			} `json:"error_info"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !resp.Data.ErrorInfo.Degraded {
		t.Errorf("expected degraded marker: %s", w.Body.String())
	}
	if len(resp.Data.Choices) == 0 {
		t.Fatalf("fallback must still carry a choice")
	}
	var aid map[string]any
	if err := json.Unmarshal([]byte(resp.Data.Choices[0].Message.Content), &aid); err != nil {
		t.Fatalf("fallback content is not JSON: %v", err)
	}
	if aid["type"] != "concept" {
		t.Errorf("fallback type = %v", aid["type"])
	}
}

func TestDeepSeek_FallbackOnVendorError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer upstream.Close()
	oldURL := deepSeekURL
	deepSeekURL = upstream.URL
	defer func() { deepSeekURL = oldURL }()
	t.Setenv("QUOTA_DISABLE", "1")
	t.Setenv("DEEPSEEK_NEWKEY", "sk-ds-test")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/deepseek", map[string]any{
		"data": map[string]any{"model": "deepseek-chat", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 fallback (%s)", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"degraded":true`)) {
		t.Errorf("expected degraded fallback: %s", w.Body.String())
	}
}

func TestDeepSeek_RepairsChoiceContent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"model": "deepseek-chat",
			"choices": []any{map[string]any{
				"message": map[string]any{"role": "assistant", "content": "```json\n{\"name\":\"Water cycle\"}\n```"},
			}},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	defer upstream.Close()
	oldURL := deepSeekURL
	deepSeekURL = upstream.URL
	defer func() { deepSeekURL = oldURL }()
	t.Setenv("QUOTA_DISABLE", "1")
	t.Setenv("DEEPSEEK_NEWKEY", "sk-ds-test")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/deepseek", map[string]any{
		"data": map[string]any{"model": "deepseek-chat", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		Data struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	var aid map[string]any
	if err := json.Unmarshal([]byte(resp.Data.Choices[0].Message.Content), &aid); err != nil {
		t.Fatalf("content not repaired to JSON: %v", err)
	}
	if aid["name"] != "Water cycle" {
		t.Errorf("name = %v", aid["name"])
	}
	if aid["description"] != defaultDescription {
		t.Errorf("description not backfilled: %v", aid["description"])
	}
}

func TestOpenAIV2_AuxEndpointSelectsPath(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer upstream.Close()
	oldBase := openAIBaseURL
	openAIBaseURL = upstream.URL
	defer func() { openAIBaseURL = oldBase }()
	t.Setenv("OPENAI_APIKEY", "sk-test")
	t.Setenv("QUOTA_DISABLE", "1")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/openai-v2", map[string]any{
		"endpoint": "responses",
		"data":     map[string]any{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if gotPath != "/responses" {
		t.Errorf("upstream path = %q, want /responses", gotPath)
	}
	if _, found := gotBody["endpoint"]; found {
		t.Errorf("endpoint field leaked into the forwarded payload: %v", gotBody)
	}
}

func TestOpenAIV2_InDataEndpointFallback(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer upstream.Close()
	oldBase := openAIBaseURL
	openAIBaseURL = upstream.URL
	defer func() { openAIBaseURL = oldBase }()
	t.Setenv("OPENAI_APIKEY", "sk-test")
	t.Setenv("QUOTA_DISABLE", "1")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/openai-v2", map[string]any{
		"data": map[string]any{
			"endpoint": "embeddings",
			"model":    "gpt-4o",
			"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if gotPath != "/embeddings" {
		t.Errorf("upstream path = %q, want /embeddings", gotPath)
	}
}

func TestOpenAIV2_DefaultsToChatCompletions(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"resp-1"}`))
	}))
	defer upstream.Close()
	oldBase := openAIBaseURL
	openAIBaseURL = upstream.URL
	defer func() { openAIBaseURL = oldBase }()
	t.Setenv("OPENAI_APIKEY", "sk-test")
	t.Setenv("QUOTA_DISABLE", "1")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/openai-v2", map[string]any{
		"data": map[string]any{"model": "gpt-4o", "messages": []any{map[string]any{"role": "user", "content": "hi"}}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if gotPath != "/chat/completions" {
		t.Errorf("upstream path = %q, want /chat/completions", gotPath)
	}
}

func TestVision_AuxFeatureHonored(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"responses":[]}`))
	}))
	defer upstream.Close()
	oldURL := visionURL
	visionURL = upstream.URL
	defer func() { visionURL = oldURL }()
	t.Setenv("QUOTA_DISABLE", "1")
	t.Setenv("GOOGLE_VISION_APIKEY", "vk")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/vision", map[string]any{
		"feature": "LABEL_DETECTION",
		"data":    map[string]any{"imageContent": "AAAA"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	requests, _ := gotBody["requests"].([]any)
	if len(requests) != 1 {
		t.Fatalf("upstream requests = %v", gotBody)
	}
	first, _ := requests[0].(map[string]any)
	features, _ := first["features"].([]any)
	feature, _ := features[0].(map[string]any)
	if feature["type"] != "LABEL_DETECTION" {
		t.Errorf("feature type = %v, want LABEL_DETECTION", feature["type"])
	}
}

func TestVision_RequiresImageOrRequests(t *testing.T) {
	t.Setenv("QUOTA_DISABLE", "1")
	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/vision", map[string]any{"data": map[string]any{}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", w.Code, w.Body.String())
	}
}

func TestVision_WrapsBareImageContent(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"responses":[]}`))
	}))
	defer upstream.Close()
	oldURL := visionURL
	visionURL = upstream.URL
	defer func() { visionURL = oldURL }()
	t.Setenv("QUOTA_DISABLE", "1")
	t.Setenv("GOOGLE_VISION_APIKEY", "vk")

	r := newTestRouter(newTestHandler())
	w := postJSON(r, "/api/proxy/vision", map[string]any{
		"data": map[string]any{"imageContent": "data:image/png;base64,AAAA"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	requests, _ := gotBody["requests"].([]any)
	if len(requests) != 1 {
		t.Fatalf("upstream requests = %v", gotBody)
	}
	first, _ := requests[0].(map[string]any)
	image, _ := first["image"].(map[string]any)
	if image["content"] != "AAAA" {
		t.Errorf("data uri wrapper not stripped: %v", image["content"])
	}
}

func TestBindData_RejectsEmptyBody(t *testing.T) {
	t.Setenv("QUOTA_DISABLE", "1")
	r := newTestRouter(newTestHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/proxy/openai", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
