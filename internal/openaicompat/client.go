package openaicompat

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
)

const providerName = "openai"

// DefaultBaseURL points at Moonshot's OpenAI-compatible endpoint for Kimi.
const DefaultBaseURL = "https://api.moonshot.ai/v1"

// Client implements evaluator.Provider against any OpenAI-compatible chat
// completions endpoint.
type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = "kimi-k2-0711-preview"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Name() string { return providerName }

func (c *Client) Complete(ctx context.Context, req evaluator.Request) (string, error) {
	var messages []openai.ChatCompletionMessage
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", transportError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "no choices"}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "empty content, finish_reason=" + string(resp.Choices[0].FinishReason)}
	}
	return content, nil
}

func transportError(err error) *evaluator.TransportError {
	terr := &evaluator.TransportError{Provider: providerName, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		terr.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		terr.StatusCode = reqErr.HTTPStatusCode
	}
	return terr
}
