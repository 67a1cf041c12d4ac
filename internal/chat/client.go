// Package chat is a thin OpenAI-compatible completion client used by the
// conversational endpoint. Synthesis never depends on it.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/sashabaranov/go-openai"
)

const opComplete = "chat.complete"

// Log formats.
const (
	logFmtCompletionFailed = "Completion request to model %s failed: %v"
	logFmtFallbackUsed     = "Model %s returned no content, replying with fallback"
)

// Static errors.
var (
	ErrModelEmpty    = errors.New("chat model cannot be empty")
	ErrFallbackEmpty = errors.New("chat fallback reply cannot be empty")
)

// Config holds the completion endpoint settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackReply string
	Timeout       time.Duration
}

// Client implements core.Completer.
type Client struct {
	client   *openai.Client
	model    string
	fallback string
	timeout  time.Duration
	log      *logger.Logger
}

// New creates a new Client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, ErrModelEmpty
	}

	if cfg.FallbackReply == "" {
		return nil, ErrFallbackEmpty
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		fallback: cfg.FallbackReply,
		timeout:  cfg.Timeout,
		log:      log,
	}, nil
}

// Complete sends message as a single user turn and returns the reply text.
// An empty completion yields the configured fallback reply.
func (c *Client) Complete(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", core.New(core.KindInvalidInput, opComplete, "Missing message")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
	})
	if err != nil {
		c.log.Error(logFmtCompletionFailed, c.model, err)

		return "", core.Wrap(core.KindIO, opComplete, "completion request failed", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.log.Warn(logFmtFallbackUsed, c.model)

		return c.fallback, nil
	}

	return resp.Choices[0].Message.Content, nil
}
