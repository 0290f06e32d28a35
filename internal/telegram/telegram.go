// Package telegram posts messages to a chat through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/retry"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// captionLimit is kept under the API's 1024 character cap.
	captionLimit = 1000
)

type Client struct {
	baseURL string
	token   string
	chatID  string
	http    *http.Client
	retry   retry.RetryConfig
	log     logrus.FieldLogger
}

func NewClient(token, chatID string, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		chatID:  chatID,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second},
		log:     log,
	}
}

// WithBaseURL points the client at another API host.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// WithRetry overrides the retry policy.
func (c *Client) WithRetry(cfg retry.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// SendMessage sends HTML text with link previews disabled.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	return c.send(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  c.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
}

// SendPhoto sends a photo with an HTML caption.
func (c *Client) SendPhoto(ctx context.Context, photoURL, caption string) error {
	if r := []rune(caption); len(r) > captionLimit {
		caption = string(r[:captionLimit])
	}
	return c.send(ctx, "sendPhoto", map[string]interface{}{
		"chat_id":    c.chatID,
		"photo":      photoURL,
		"caption":    caption,
		"parse_mode": "HTML",
	})
}

func (c *Client) send(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error make JSON: %w", err)
	}
	log := c.log.WithField("method", method)

	err = retry.WithRetry(ctx, c.retry, log, func(ctx context.Context) error {
		return c.post(ctx, method, body)
	})
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	log.Debug("message sent to Telegram")
	return nil
}

func (c *Client) post(ctx context.Context, method string, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	if retry.RetryableStatus(resp.StatusCode) {
		return err
	}
	return retry.Permanent(err)
}
