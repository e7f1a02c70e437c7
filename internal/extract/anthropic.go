package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
	"github.com/sells-group/docintel/pkg/anthropic"
)

// Anthropic extracts invoices with Claude. The system prompt carries a
// one-hour cache breakpoint, so steady-state extraction reads the warm
// prompt cache.
type Anthropic struct {
	cfg     config.ExtractConfig
	client  anthropic.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NewAnthropic creates the Claude-backed provider.
func NewAnthropic(cfg config.ExtractConfig) *Anthropic {
	retry := resilience.ExtractionRetry()
	retry.OnRetry = resilience.RetryLogger("anthropic", "extract")

	return &Anthropic{
		cfg:     cfg,
		client:  anthropic.NewClient(cfg.Anthropic.Key),
		breaker: resilience.NewCircuitBreaker(resilience.ProviderBreaker()),
		retry:   retry,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Available() bool { return a.cfg.Anthropic.Key != "" }

func (a *Anthropic) Extract(ctx context.Context, text string) (*model.Invoice, error) {
	if !a.Available() {
		return nil, eris.New("extract: anthropic provider missing API key")
	}

	req := anthropic.MessageRequest{
		Model:     a.cfg.Anthropic.Model,
		MaxTokens: int64(a.cfg.Anthropic.MaxTokens),
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: buildUserPrompt(text, a.cfg.MaxPromptLen)},
		},
	}

	resp, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: anthropic call")
	}

	resp.Usage.LogCost(a.cfg.Anthropic.Model, "extract")

	raw := firstText(resp)
	if raw == "" {
		return nil, eris.New("extract: anthropic returned no text content")
	}

	inv, err := DecodeInvoice(raw)
	if err != nil {
		zap.L().Warn("undecodable extraction response",
			zap.String("provider", "anthropic"),
			zap.String("response_id", resp.ID),
			zap.Error(err),
		)
		return nil, err
	}

	return inv, nil
}

func firstText(resp *anthropic.MessageResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return ""
}
