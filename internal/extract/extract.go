// Package extract turns OCR text into structured invoices via pluggable
// providers. Providers share one prompt and one response decoder; they
// differ only in which model they call and how.
package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/model"
)

// Provider extracts structured invoice fields from document text.
type Provider interface {
	// Name identifies the provider in results, metrics, and drift samples.
	Name() string
	// Available reports whether the provider is configured to run
	// (credentials present, endpoint reachable is not checked).
	Available() bool
	// Extract parses the document text into an invoice. A field the
	// provider cannot find comes back nil; Extract fails only when the
	// whole call or decode fails.
	Extract(ctx context.Context, text string) (*model.Invoice, error)
}

// New creates the provider named by cfg.Provider.
func New(cfg config.ExtractConfig) (Provider, error) {
	return ForName(cfg, cfg.Provider)
}

// ForName creates a specific provider regardless of the configured
// default. Used by evaluation runs that fan out over several providers.
func ForName(cfg config.ExtractConfig, name string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "local":
		return NewLocal(), nil
	default:
		return nil, eris.Errorf("extract: unknown provider %q", name)
	}
}

// Names lists every provider the factory can build.
func Names() []string {
	return []string{"anthropic", "openai", "ollama", "local"}
}
