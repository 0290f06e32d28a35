// Package openai ranks candidates through an OpenAI-compatible chat completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/deusflow/curator/internal/retry"
	"github.com/deusflow/curator/internal/selector"
)

const DefaultModel = "gpt-4o-mini"

type Client struct {
	client *goopenai.Client
	model  string
}

// NewClient creates a client. An empty baseURL uses the public API.
func NewClient(apiKey, baseURL, model string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (c *Client) Name() string { return "openai" }

func (c *Client) Rank(ctx context.Context, req selector.RankRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.Instruction},
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt()},
		},
	})
	if err != nil {
		return "", classify(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", retry.Permanent(fmt.Errorf("chat completion returned no choices"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if retry.RetryableStatus(apiErr.HTTPStatusCode) {
			return err
		}
		return retry.Permanent(err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		if retry.RetryableStatus(reqErr.HTTPStatusCode) {
			return err
		}
		return retry.Permanent(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return err
	}
	return retry.Permanent(err)
}
