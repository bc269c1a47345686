// Package llm wraps the OpenAI-compatible chat completion endpoint shared by
// the dependency oracle and the agent executor.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DefaultTemperature keeps replies close to deterministic.
const DefaultTemperature = 0.1

// Completer sends one system+user exchange and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string

	// Timeout bounds each request; zero leaves it to ctx.
	Timeout time.Duration

	// Temperature defaults to DefaultTemperature when zero.
	Temperature float64
}

// Client is a Completer backed by openai-go.
type Client struct {
	client      *openai.Client
	model       string
	temperature float64
}

// New creates a Client. Non-OpenAI providers (OpenRouter, Groq, local
// servers) are reached by setting BaseURL.
func New(opts Options) *Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	client := openai.NewClient(reqOpts...)
	return &Client{
		client:      &client,
		model:       opts.Model,
		temperature: temperature,
	}
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string {
	return c.model
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Opt(c.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("llm returned an empty reply")
	}
	return content, nil
}
