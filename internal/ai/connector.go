// Package ai wraps the language-model collaborator: a single chat-completion
// call bounded by a timeout and a request rate limiter, plus the typed
// intent protocol the issue responder speaks with the model.
package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"golang.org/x/time/rate"
)

// Options contains the configuration for the Anthropic connector.
type Options struct {
	APIKey            string
	Model             string
	MaxTokens         int
	Timeout           time.Duration
	RequestsPerMinute int
}

// Connector is a connection to the Anthropic chat-completion API.
type Connector struct {
	llm     llms.Model
	options Options
	limiter *rate.Limiter
}

// NewConnector creates a new Anthropic connector.
func NewConnector(options Options) (*Connector, error) {
	log.Debug().
		Str("model", options.Model).
		Int("max_tokens", options.MaxTokens).
		Msg("Creating Anthropic connector")

	model, err := anthropic.New(
		anthropic.WithToken(options.APIKey),
		anthropic.WithModel(options.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic model: %w", err)
	}

	rpm := options.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &Connector{
		llm:     model,
		options: options,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// Chat sends one prompt and returns the model's text reply. The call is
// bounded by the configured timeout; a timeout surfaces as any other error.
func (c *Connector) Chat(ctx context.Context, prompt string) (string, error) {
	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	start := time.Now()
	response, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithMaxTokens(c.options.MaxTokens))
	if err != nil {
		log.Error().Err(err).Msg("Anthropic call failed")
		return "", fmt.Errorf("anthropic call failed: %w", err)
	}

	log.Debug().
		Dur("duration", time.Since(start)).
		Int("response_bytes", len(response)).
		Msg("Anthropic call completed")
	return response, nil
}
