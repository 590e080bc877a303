package llmservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-assistant/internal/config"
)

// ErrEmptyResponse is returned when the model answers without any choice.
var ErrEmptyResponse = errors.New("empty completion response")

// CompletionRequest is a single system + user turn sent to the model.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// New builds the completer selected by cfg.Provider.
func New(cfg *config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderGoOpenAI:
		return NewOpenAICompleter(cfg), nil
	case config.ProviderOpenAI, config.ProviderOllama:
		llm, err := NewLLM(cfg)
		if err != nil {
			return nil, err
		}
		return &LangchainCompleter{llm: llm}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// NewLLM creates the langchaingo model for cfg.
func NewLLM(cfg *config.LLMConfig) (llms.Model, error) {
	log.Debug().Interface("llmConfig", cfg).Msg("Creating LLM client")
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}

	if cfg.Provider == config.ProviderOllama {
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
			ollama.WithHTTPClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(client),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return llm, nil
}

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, tools []llms.Tool, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(tools) > 0 {
		options = append(options, llms.WithTools(tools))
	}
	return llm.GenerateContent(ctx, messages, options...)
}

// LangchainCompleter sends completions through a langchaingo model.
type LangchainCompleter struct {
	llm llms.Model
}

func NewLangchainCompleter(llm llms.Model) *LangchainCompleter {
	return &LangchainCompleter{llm: llm}
}

func (c *LangchainCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}

	var opts []llms.CallOption
	opts = append(opts, llms.WithTemperature(req.Temperature))
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	res, err := GenerateContent(ctx, c.llm, nil, messages, opts...)
	if err != nil {
		return "", err
	}
	if res == nil || len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return res.Choices[0].Content, nil
}
