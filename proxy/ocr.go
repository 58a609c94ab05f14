package proxy

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"studypal-backend/callable"
	"studypal-backend/config"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
)

const (
	ocrModel   = "gpt-4.1-mini"
	ocrTimeout = 45 * time.Second
	ocrPrompt  = "You are an OCR engine. Extract all text from the image exactly as written, preserving line breaks. Return only the extracted text with no commentary."
)

type ocrRequest struct {
	ImageData string `json:"imageData"`
}

// ocr extracts text from an image using a vision-capable chat model.
func (h *Handler) ocr(c *gin.Context) {
	userID, ok := caller(c)
	if !ok {
		return
	}
	data, _, ok := bindData(c)
	if !ok {
		return
	}
	var req ocrRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ImageData == "" {
		callable.Abort(c, callable.New(callable.InvalidArgument, "imageData is required"))
		return
	}
	if !h.checkQuota(c, userID, "vision") {
		return
	}
	key, err := config.OpenAIKey()
	if err != nil {
		callable.Abort(c, callable.New(callable.FailedPrecondition, "OpenAI API key is not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ocrTimeout)
	defer cancel()

	client := openai.NewClient(key)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       ocrModel,
		MaxTokens:   1000,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: ocrPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Extract the text from this image.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: EnsureDataURI(req.ImageData),
						},
					},
				},
			},
		},
	})
	if err != nil {
		log.Printf("[proxy][ocr] user=%d completion error: %v", userID, err)
		callable.Abort(c, callable.New(callable.Unavailable, "text extraction failed"))
		return
	}
	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	h.recordUsage(userID, "vision", ocrModel, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	respond(c, gin.H{
		"success": true,
		"text":    text,
		"model":   ocrModel,
	})
}
