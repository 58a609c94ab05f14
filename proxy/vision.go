package proxy

import (
	"encoding/json"
	"time"

	"studypal-backend/callable"
	"studypal-backend/config"

	"github.com/gin-gonic/gin"
)

// Overridable in tests.
var visionURL = "https://vision.googleapis.com/v1/images:annotate"

type visionRequest struct {
	Requests     json.RawMessage `json:"requests"`
	ImageContent string          `json:"imageContent"`
	Feature      string          `json:"feature"`
}

// vision forwards an image annotation request. Callers either supply a full
// "requests" array or just the image content, which gets wrapped into a
// text-detection request.
func (h *Handler) vision(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	data, aux, ok := bindData(c)
	if !ok {
		return
	}
	var req visionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		callable.Abort(c, callable.New(callable.InvalidArgument, "payload must be a JSON object"))
		return
	}
	// The feature may ride beside data as an aux field.
	if f := auxString(aux, "feature"); f != "" {
		req.Feature = f
	}

	var body []byte
	switch {
	case len(req.Requests) > 0:
		var err error
		body, err = json.Marshal(gin.H{"requests": req.Requests})
		if err != nil {
			callable.Abort(c, callable.New(callable.Internal, "failed to build request"))
			return
		}
	case req.ImageContent != "":
		feature := req.Feature
		if feature == "" {
			feature = "TEXT_DETECTION"
		}
		content := ExtractBase64(req.ImageContent)
		body, _ = json.Marshal(gin.H{
			"requests": []gin.H{{
				"image": gin.H{"content": content},
				"features": []gin.H{{
					"type":       feature,
					"maxResults": 50,
				}},
			}},
		})
	default:
		callable.Abort(c, callable.New(callable.InvalidArgument, "requests or imageContent is required"))
		return
	}

	if !h.checkQuota(c, userID, "vision") {
		return
	}
	key, err := config.VisionKey()
	if err != nil {
		callable.Abort(c, callable.New(callable.FailedPrecondition, "Vision API key is not configured"))
		return
	}
	call := VendorCall{
		Name:       "vision",
		URL:        visionURL,
		Auth:       AuthQueryKey,
		Credential: key,
		Timeout:    30 * time.Second,
	}
	resp, err := call.Do(c.Request.Context(), body)
	if err != nil {
		callable.Abort(c, err)
		return
	}
	h.recordUsage(userID, "vision", "images:annotate", 0, 0)
	respond(c, resp)
}
