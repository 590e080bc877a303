package rag

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"rag-assistant/internal/llmservice"
	"rag-assistant/internal/models"
)

// Outcome is the result of asking the model: an answer or the error that prevented one.
type Outcome struct {
	Answer string
	Err    error
}

func (o Outcome) Failed() bool { return o.Err != nil }

// Text is the answer shown to the user.
func (o Outcome) Text() string {
	if o.Err != nil {
		return "Error generating answer: " + o.Err.Error()
	}
	return o.Answer
}

type Composer struct {
	completer   Completer
	temperature float64
	maxTokens   int
}

func NewComposer(completer Completer, temperature float64, maxTokens int) *Composer {
	if temperature <= 0 {
		temperature = 0.1
	}
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &Composer{completer: completer, temperature: temperature, maxTokens: maxTokens}
}

// Compose builds the response for query from the retrieved results.
func (c *Composer) Compose(ctx context.Context, query string, results []models.RetrievalResult) *models.QueryResponse {
	outcome := c.Generate(ctx, query, results)
	sources := Sources(results)
	return &models.QueryResponse{
		Answer:     outcome.Text(),
		Sources:    sources,
		NumSources: len(sources),
		Degraded:   outcome.Failed(),
	}
}

// Generate asks the model to answer from results. With no results the fixed refusal is
// returned and the model is not called.
func (c *Composer) Generate(ctx context.Context, query string, results []models.RetrievalResult) Outcome {
	if len(results) == 0 {
		return Outcome{Answer: models.NoContextAnswer}
	}

	answer, err := c.complete(ctx, llmservice.CompletionRequest{
		System:      models.SystemInstruction,
		Prompt:      BuildPrompt(query, BuildContext(results)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate answer")
		return Outcome{Err: err}
	}
	return Outcome{Answer: answer}
}

// complete calls the completer and turns a panic inside it into an error.
func (c *Composer) complete(ctx context.Context, req llmservice.CompletionRequest) (answer string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("completion service panicked: %v", r)
		}
	}()
	return c.completer.Complete(ctx, req)
}

// BuildContext renders one "[From <file>]" block per result, in result order.
func BuildContext(results []models.RetrievalResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf(models.ContextBlockTemplate, r.Chunk.Filename, r.Chunk.Text)
	}
	return strings.Join(blocks, models.ContextSeparator)
}

func BuildPrompt(query, contextText string) string {
	return fmt.Sprintf(models.AnswerPromptTemplate, contextText, query)
}

// Sources lists one citation per result. It never returns nil.
func Sources(results []models.RetrievalResult) []models.Source {
	sources := make([]models.Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, models.Source{
			Filename:        r.Chunk.Filename,
			TextSnippet:     snippet(r.Chunk.Text),
			SimilarityScore: roundScore(r.Distance),
		})
	}
	return sources
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= models.SnippetLength {
		return text
	}
	return string(runes[:models.SnippetLength]) + models.SnippetEllipsis
}

func roundScore(d float32) float64 {
	return math.Round(float64(d)*1000) / 1000
}
