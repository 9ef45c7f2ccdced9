package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
)

const providerName = "gemini"

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client implements evaluator.Provider using Google's Gemini API.
type Client struct {
	client   *genai.Client
	modelID  string
	newModel func(req evaluator.Request) generator
}

// NewClient creates a Gemini provider. modelID defaults to gemini-2.5-flash.
func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	c := &Client{client: client, modelID: modelID}
	c.newModel = c.model
	return c, nil
}

func (c *Client) Name() string { return providerName }

// model builds a fresh GenerativeModel per request; models carry the system
// instruction and must not be shared between concurrent evaluations.
func (c *Client) model(req evaluator.Request) generator {
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	model.ResponseMIMEType = "application/json"
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	return model
}

// Complete sends the payload as a single user turn and joins the text parts
// of the first candidate.
func (c *Client) Complete(ctx context.Context, req evaluator.Request) (string, error) {
	resp, err := c.newModel(req).GenerateContent(ctx, genai.Text(req.User))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "blocked: " + strings.TrimPrefix(blocked.Error(), "blocked: ")}
		}
		terr := &evaluator.TransportError{Provider: providerName, Err: err}
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			terr.StatusCode = gerr.Code
		}
		return "", terr
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "no candidates"}
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "empty content, finish_reason=" + candidate.FinishReason.String()}
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "no text parts"}
	}
	return sb.String(), nil
}

// Close releases resources held by the Gemini client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
