package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/deusflow/curator/internal/retry"
	"github.com/deusflow/curator/internal/selector"
)

const DefaultModel = "gemini-1.5-flash"

// Client ranks candidates with a Gemini model.
type Client struct {
	client *genai.Client
	model  string
}

func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{client: client, model: model}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Client) Name() string { return "gemini" }

// Rank sends the instruction as the system prompt and the candidate list as user text.
func (c *Client) Rank(ctx context.Context, req selector.RankRequest) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instruction)}}
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt()))
	if err != nil {
		return "", classify(fmt.Errorf("failed to generate content: %w", err))
	}

	text := responseText(resp)
	if text == "" {
		return "", retry.Permanent(fmt.Errorf("no response from Gemini"))
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String())
}

// classify leaves overload, server and timeout errors retryable and marks the rest permanent.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if retry.RetryableStatus(gerr.Code) {
			return err
		}
		return retry.Permanent(err)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			if retry.RetryableStatus(code) {
				return err
			}
			return retry.Permanent(err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
				return err
			}
			return retry.Permanent(err)
		}
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
