package oracle

import (
	"context"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"rustport/internal/config"
	"rustport/internal/errors"
)

// Client talks to an OpenAI-compatible chat endpoint. Every call is bounded
// by the configured timeout; a deadline hit is reported as OracleTimeout so
// the stage applies its conservative fallback.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient builds a client from the oracle configuration
func NewClient(cfg config.OracleConfig) *Client {
	clientCfg := openai.DefaultConfig(os.Getenv(cfg.APIKeyEnv))
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Complete implements Oracle
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
		{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
	}
	if req.Summary != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Summary,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", errors.Wrap(errors.OracleTimeout, string(req.Kind)+" timed out", err)
		}
		return "", errors.Wrap(errors.InternalError, string(req.Kind)+" request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(errors.OracleMalformed, string(req.Kind)+" returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
