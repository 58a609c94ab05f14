package proxy

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// Default field values backfilled into study-aid objects.
const (
	defaultName        = "Auto-generated study aid"
	defaultDescription = "Automatically generated content"
	defaultType        = "concept"
)

// RepairModelJSON salvages the JSON object a model was asked to produce:
// fenced code blocks are unwrapped and a truncated object gets one
// closing-brace retry. When nothing parses the best candidate text is
// returned with ok=false so the caller can decide.
func RepairModelJSON(content string) (string, bool) {
	candidate := strings.TrimSpace(content)
	if m := fencedJSONPattern.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}
	if json.Valid([]byte(candidate)) && strings.HasPrefix(candidate, "{") {
		return candidate, true
	}
	// Truncated responses commonly lose only the final brace.
	if strings.Contains(candidate, "{") && !strings.HasSuffix(candidate, "}") {
		patched := candidate + "}"
		if json.Valid([]byte(patched)) {
			return patched, true
		}
	}
	return candidate, false
}

// BackfillStudyAid fills the required study-aid fields the model left out.
// Non-object input passes through unchanged.
func BackfillStudyAid(jsonStr string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &obj); err != nil {
		return jsonStr
	}
	if s, _ := obj["name"].(string); s == "" {
		obj["name"] = defaultName
	}
	if s, _ := obj["description"].(string); s == "" {
		obj["description"] = defaultDescription
	}
	if s, _ := obj["type"].(string); s == "" {
		obj["type"] = defaultType
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return jsonStr
	}
	return string(out)
}
