package model

import (
	"context"

	"github.com/rkapoor/dbagent/pkg/domain"
)

// Provider represents a text-completion service (e.g. Gemini). The agent
// treats it as a black box: prompt in, raw text out. A failed completion
// aborts the whole run, so implementations should return errors rather than
// degrade silently.
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Complete sends a prompt to the given model and blocks until the full
	// response text is available.
	Complete(ctx context.Context, modelName, prompt string) (string, error)
}
