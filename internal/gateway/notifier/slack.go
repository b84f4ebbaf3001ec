package notifier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts alerts to an incoming webhook. Text is sent as-is, so
// <url|label> links render natively.
type Slack struct {
	WebhookURL string
	Client     *http.Client
	Attempts   int
	Backoff    time.Duration
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 15 * time.Second},
		Attempts:   3,
		Backoff:    time.Second,
	}
}

func (s *Slack) SendText(text string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook url is required")
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode slack message: %w", err)
	}
	return postWithRetry(s.Client, s.WebhookURL, body, s.Attempts, s.Backoff, "slack")
}
