package api

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/samcharles93/shardchat/internal/tokenizer"
)

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model               string        `json:"model,omitempty"`
	Messages            []ChatMessage `json:"messages"`
	MaxTokens           *int          `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	Temperature         *float32      `json:"temperature,omitempty"`
	Seed                *int64        `json:"seed,omitempty"`
	Stream              bool          `json:"stream,omitempty"`
}

type ChatMessage struct {
	Role             string `json:"role,omitempty"`
	Content          any    `json:"content,omitempty"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type Choice struct {
	Index        int          `json:"index"`
	Text         *string      `json:"text,omitempty"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason *string      `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is both the response body and, with Object set to a chunk
// type and Usage nil, one SSE event.
type Completion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// toMessages flattens OpenAI content, which may be a string or a list of
// typed parts, into tokenizer messages. Non-text parts are ignored.
func toMessages(in []ChatMessage) ([]tokenizer.Message, error) {
	out := make([]tokenizer.Message, 0, len(in))
	for i, m := range in {
		if m.Role == "" {
			return nil, newInvalidRequest(fmt.Sprintf("messages[%d].role is required", i))
		}
		msg := tokenizer.Message{Role: m.Role}
		switch content := m.Content.(type) {
		case string:
			msg.Content = content
		case nil:
		case []any:
			for _, part := range content {
				pm, ok := part.(map[string]any)
				if !ok {
					continue
				}
				if typ, _ := pm["type"].(string); typ == "text" {
					if text, ok := pm["text"].(string); ok {
						if msg.Content != "" {
							msg.Content += "\n"
						}
						msg.Content += text
					}
				}
			}
		default:
			return nil, newInvalidRequest(fmt.Sprintf("messages[%d].content: unsupported type", i))
		}
		out = append(out, msg)
	}
	return out, nil
}

func decodeJSON[T any](body []byte) (T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return out, newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return out, nil
}
