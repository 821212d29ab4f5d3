// Package vision provides the vision-model collaborator: given a PNG
// capture of the current view and a prompt, return the model's text.
package vision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	envProvider = "VISION_PROVIDER" // "anthropic" or "openai"
)

// Client answers a natural-language question about a view capture.
type Client interface {
	Ask(ctx context.Context, image []byte, prompt string) (string, error)
	Name() string
}

// NewClientFromEnv creates a client based on VISION_PROVIDER.
// Defaults to Anthropic if not specified.
func NewClientFromEnv() (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAIFromEnv()
	case "anthropic":
		return NewAnthropicFromEnv()
	default:
		return nil, fmt.Errorf("unknown vision provider: %s (use 'anthropic' or 'openai')", provider)
	}
}

// NewClientWithLogger creates a client with a logger based on
// VISION_PROVIDER.
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}

	switch provider {
	case "openai":
		return NewOpenAIWithLogger(logger)
	case "anthropic":
		return NewAnthropicWithLogger(logger)
	default:
		return nil, fmt.Errorf("unknown vision provider: %s (use 'anthropic' or 'openai')", provider)
	}
}
