package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// Telegram posts alerts through the Bot API sendMessage call.
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
	APIBase  string
	Attempts int
	Backoff  time.Duration
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 15 * time.Second},
		APIBase:  defaultTelegramAPI,
		Attempts: 3,
		Backoff:  time.Second,
	}
}

// SendText sends text as HTML, retrying failed attempts with a linear backoff.
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram bot token and chat id are required")
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(t.APIBase, "/"), t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.ChatID,
		"text":                     slackLinksToHTML(text),
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("encode telegram message: %w", err)
	}
	return postWithRetry(t.Client, endpoint, body, t.Attempts, t.Backoff, "telegram")
}

var slackLink = regexp.MustCompile(`<(https?://[^|>]+)\|([^>]+)>`)

// slackLinksToHTML escapes text for Telegram HTML mode and turns Slack style
// <url|label> links into anchors.
func slackLinksToHTML(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range slackLink.FindAllStringSubmatchIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		href := text[loc[2]:loc[3]]
		label := text[loc[4]:loc[5]]
		b.WriteString(`<a href="` + html.EscapeString(href) + `">` + html.EscapeString(label) + `</a>`)
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

func postWithRetry(client *http.Client, endpoint string, body []byte, attempts int, backoff time.Duration, channel string) error {
	if client == nil {
		client = http.DefaultClient
	}
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && backoff > 0 {
			time.Sleep(time.Duration(i) * backoff)
		}
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build %s request: %w", channel, err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("%s status=%d", channel, resp.StatusCode)
	}
	return lastErr
}
