package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// RiskAlert is what a reviewer needs to act on a RISK evaluation.
type RiskAlert struct {
	SessionID      string
	EvaluationID   string
	Topic          string
	Quote          string
	ProtocolSafety int
	Summary        string
}

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostRiskAlert posts a RISK evaluation to the review channel and returns
// the message timestamp.
func (p *Poster) PostRiskAlert(ctx context.Context, alert RiskAlert) (string, error) {
	text := formatRiskMessage(alert)

	body, err := json.Marshal(map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Evaluation " + alert.EvaluationID + " is pending human review.",
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted risk alert to slack", "ts", slackResp.TS, "session_id", alert.SessionID)
	return slackResp.TS, nil
}

func formatRiskMessage(a RiskAlert) string {
	var sb strings.Builder

	sb.WriteString(":rotating_light: *Risk flagged in session*\n")
	fmt.Fprintf(&sb, "*Session:* %s", a.SessionID)
	if a.Topic != "" {
		fmt.Fprintf(&sb, " (%s)", a.Topic)
	}
	sb.WriteString("\n")
	if a.ProtocolSafety > 0 {
		fmt.Fprintf(&sb, "*Protocol safety:* %d/3\n", a.ProtocolSafety)
	}

	quote := strings.Join(strings.Fields(a.Quote), " ")
	fmt.Fprintf(&sb, "*Quote:*\n> %s\n", quote)

	if a.Summary != "" {
		fmt.Fprintf(&sb, "\n%s", a.Summary)
	}
	return sb.String()
}
