package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
)

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	providerName  = "anthropic"
)

type Client struct {
	apiKey string
	model  string
	apiURL string
	client *http.Client
}

func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey: apiKey,
		model:  model,
		apiURL: defaultAPIURL,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(url string) {
	c.apiURL = strings.TrimSuffix(url, "/") + "/v1/messages"
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

type response struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Name() string { return providerName }

// Complete sends the rubric as the system prompt and the transcript payload
// as the single user message.
func (c *Client) Complete(ctx context.Context, req evaluator.Request) (string, error) {
	return c.complete(ctx, req.System, []Message{{Role: "user", Content: req.User}}, req.MaxTokens)
}

func (c *Client) complete(ctx context.Context, system string, messages []Message, maxTokens int) (string, error) {
	reqBody := request{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &evaluator.TransportError{Provider: providerName, Err: fmt.Errorf("api call: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &evaluator.TransportError{Provider: providerName, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			return "", &evaluator.TransportError{
				Provider:   providerName,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s: %s", errResp.Error.Type, errResp.Error.Message),
			}
		}
		return "", &evaluator.TransportError{Provider: providerName, StatusCode: resp.StatusCode, Err: errors.New(string(respBody))}
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", &evaluator.TransportError{Provider: providerName, StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", &evaluator.EmptyResponseError{Provider: providerName, Reason: "no text content, stop_reason=" + apiResp.StopReason}
	}

	return sb.String(), nil
}
