package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient streams chat completions from OpenAI or any compatible
// endpoint.
type OpenAIClient struct {
	client openai.Client
}

var _ Streamer = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client. An empty baseURL targets OpenAI;
// otherwise it is the API root, e.g. "https://api.openai.com/v1/".
func NewOpenAIClient(apiKey, baseURL string, opts ...option.RequestOption) *OpenAIClient {
	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		ro = append(ro, option.WithBaseURL(baseURL))
	}
	ro = append(ro, opts...)
	return &OpenAIClient{client: openai.NewClient(ro...)}
}

// Stream relays every non-empty delta.content. Error events and chunks
// that fail to decode end the stream with an error.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, emit ChunkFunc) error {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messageParams(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		for _, ch := range stream.Current().Choices {
			if ch.Delta.Content == "" {
				continue
			}
			if err := emit(ch.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("llm: stream: %w", err)
	}
	return nil
}

func messageParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
