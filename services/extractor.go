package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"clip-metrics/utils"
)

const (
	// maxPromptTokens bounds each half of the payload, at roughly four characters per token.
	maxPromptTokens = 15000
	charsPerToken   = 4

	extractionPrompt = `The JSON below describes one short-form video from YouTube, TikTok or Instagram.
Return a single JSON object, with no prose around it, holding the most relevant metrics you can find:
likes, comments, views, song_name, artist (only when a song is named), shares,
and any other engagement statistics present (reposts, saves, engagement scores).

JSON data: %s`
)

// Extractor pulls engagement metrics out of a payload whose shape is not known in advance.
type Extractor interface {
	Extract(ctx context.Context, raw []byte) (map[string]any, error)
}

// OpenAIExtractor asks a chat model to pick the metrics out of a payload.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	logger *utils.Logger
}

// NewOpenAIExtractor builds an extractor. An empty baseURL uses the public API.
func NewOpenAIExtractor(apiKey, baseURL, model string, logger *utils.Logger) *OpenAIExtractor {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIExtractor{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger,
	}
}

// Extract splits the payload in two halves to stay inside the model context,
// extracts metrics from each and merges them. Keys from the second half win.
func (e *OpenAIExtractor) Extract(ctx context.Context, raw []byte) (map[string]any, error) {
	head, tail, err := splitPayload(raw)
	if err != nil {
		return nil, fmt.Errorf("extractor: split payload: %w", err)
	}

	merged := make(map[string]any)
	for i, part := range [][]byte{head, tail} {
		result, err := e.extractPart(ctx, truncate(part, maxPromptTokens*charsPerToken))
		if err != nil {
			return nil, fmt.Errorf("extractor: part %d: %w", i+1, err)
		}
		for k, v := range result {
			merged[k] = v
		}
	}

	e.logger.Info("[extractor] Extracted %d metrics", len(merged))
	return merged, nil
}

func (e *OpenAIExtractor) extractPart(ctx context.Context, part string) (map[string]any, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a helpful assistant."},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(extractionPrompt, part)},
		},
		MaxTokens:   200,
		Temperature: 0.5,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	var result map[string]any
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return result, nil
}

// splitPayload halves an object by its (sorted) keys or an array by its items.
func splitPayload(raw []byte) ([]byte, []byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, nil, err
	}

	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		mid := len(keys) / 2
		a, b := make(map[string]any), make(map[string]any)
		for i, k := range keys {
			if i < mid {
				a[k] = t[k]
			} else {
				b[k] = t[k]
			}
		}
		return marshalPair(a, b)
	case []any:
		mid := len(t) / 2
		return marshalPair(t[:mid], t[mid:])
	}
	return nil, nil, errors.New("unsupported payload: expected object or array")
}

func marshalPair(a, b any) ([]byte, []byte, error) {
	ja, err := json.Marshal(a)
	if err != nil {
		return nil, nil, err
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return nil, nil, err
	}
	return ja, jb, nil
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return strings.ToValidUTF8(string(b[:max]), "")
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
