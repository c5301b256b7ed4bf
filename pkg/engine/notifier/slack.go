package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Summary is what a detection run reports to Slack.
type Summary struct {
	RunID         string
	Account       string
	Window        string
	Hits          int
	RuleHits      map[string]int
	Artifact      string
	FetchFailures int
	ParseFailures int
}

// SlackClient handles Slack notifications.
type SlackClient struct {
	WebhookURL string
	Channel    string // Optional: Override default channel
	HTTPClient *http.Client
}

// NewSlackClient initializes the Slack integration.
func NewSlackClient(webhookURL string, channel string) *SlackClient {
	return &SlackClient{
		WebhookURL: webhookURL,
		Channel:    channel,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SendDetectionReport posts a run summary. Runs without hits are not sent.
func (s *SlackClient) SendDetectionReport(ctx context.Context, summary Summary) error {
	if s.WebhookURL == "" || summary.Hits == 0 {
		return nil
	}
	return s.send(ctx, s.constructPayload(summary))
}

// constructPayload builds the message blocks.
func (s *SlackClient) constructPayload(summary Summary) map[string]interface{} {
	blocks := []map[string]interface{}{
		{
			"type": "header",
			"text": map[string]interface{}{
				"type": "plain_text",
				"text": fmt.Sprintf("🪤 Snare tripped: %d hit(s)", summary.Hits),
			},
		},
		{
			"type": "context",
			"elements": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Account:* %s | *Window:* %s | *Run:* %s",
						orDash(summary.Account), orDash(summary.Window), orDash(summary.RunID)),
				},
			},
		},
		{
			"type": "divider",
		},
		{
			"type": "section",
			"fields": []map[string]interface{}{
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Rules fired:*\n%s", ruleLines(summary.RuleHits)),
				},
				{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Failures:*\nfetch %d, parse %d", summary.FetchFailures, summary.ParseFailures),
				},
			},
		},
	}

	if summary.Artifact != "" {
		blocks = append(blocks, map[string]interface{}{
			"type": "section",
			"text": map[string]interface{}{
				"type": "mrkdwn",
				"text": fmt.Sprintf("Artifact: `%s`", summary.Artifact),
			},
		})
	}

	payload := map[string]interface{}{
		"blocks": blocks,
	}

	if s.Channel != "" {
		payload["channel"] = s.Channel
	}

	return payload
}

func ruleLines(hits map[string]int) string {
	if len(hits) == 0 {
		return "-"
	}
	names := make([]string, 0, len(hits))
	for n := range hits {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("%s: %d", n, hits[n]))
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (s *SlackClient) send(ctx context.Context, payload map[string]interface{}) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(jsonPayload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status from slack: %d", resp.StatusCode)
	}
	return nil
}
