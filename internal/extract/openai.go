package extract

import (
	"context"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/resilience"
)

// openAIRPS paces requests against the chat completion endpoint. Ollama
// gets the same limiter; a local model does not mind but the shared path
// stays simple.
const (
	openAIRPS   = 2
	openAIBurst = 5
)

// OpenAI extracts invoices through the OpenAI chat API. The same client
// also backs the Ollama provider, which speaks the identical protocol on
// a local endpoint.
type OpenAI struct {
	name      string
	model     string
	available bool
	maxPrompt int
	client    *openai.Client
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
}

// NewOpenAI creates the OpenAI-backed provider.
func NewOpenAI(cfg config.ExtractConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.OpenAI.Key)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}

	return newChatProvider("openai", cfg.OpenAI.Model, cfg.OpenAI.Key != "", cfg.MaxPromptLen, clientCfg)
}

// NewOllama creates a provider talking to a local Ollama server via its
// OpenAI-compatible endpoint. No credentials required.
func NewOllama(cfg config.ExtractConfig) *OpenAI {
	clientCfg := openai.DefaultConfig("ollama")
	clientCfg.BaseURL = cfg.Ollama.BaseURL

	p := newChatProvider("ollama", cfg.Ollama.Model, true, cfg.MaxPromptLen, clientCfg)
	return p
}

func newChatProvider(name, model string, available bool, maxPrompt int, clientCfg openai.ClientConfig) *OpenAI {
	retry := resilience.ExtractionRetry()
	retry.OnRetry = resilience.RetryLogger(name, "extract")

	return &OpenAI{
		name:      name,
		model:     model,
		available: available,
		maxPrompt: maxPrompt,
		client:    openai.NewClientWithConfig(clientCfg),
		limiter:   rate.NewLimiter(rate.Limit(openAIRPS), openAIBurst),
		breaker:   resilience.NewCircuitBreaker(resilience.ProviderBreaker()),
		retry:     retry,
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Available() bool { return o.available }

func (o *OpenAI) Extract(ctx context.Context, text string) (*model.Invoice, error) {
	if !o.available {
		return nil, eris.Errorf("extract: %s provider missing API key", o.name)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrapf(err, "extract: %s rate limiter", o.name)
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(text, o.maxPrompt)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
			return o.client.CreateChatCompletion(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "extract: %s chat completion", o.name)
	}

	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("extract: %s returned no choices", o.name)
	}

	return DecodeInvoice(resp.Choices[0].Message.Content)
}
