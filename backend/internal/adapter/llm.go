package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/report"
	"voice-bridge/backend/internal/state"
	apperrors "voice-bridge/backend/pkg/errors"
	"voice-bridge/backend/pkg/logger"
)

const refineSystemPrompt = `Corrige la transcripción automática que recibes.
Arregla ortografía, puntuación y palabras mal reconocidas sin cambiar el significado.
Responde solamente con el texto corregido, sin comillas ni explicaciones.`

// LLMAdapter handles text completions against an OpenAI-compatible endpoint
type LLMAdapter struct {
	client     *openai.Client
	model      string
	mu         sync.RWMutex // Protects model field for concurrent access
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter. baseURL is used as-is, e.g.
// "https://generativelanguage.googleapis.com/v1beta/openai".
func NewLLMAdapter(baseURL, apiKey, modelID string) *LLMAdapter {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &LLMAdapter{
		client:     openai.NewClientWithConfig(config),
		model:      modelID,
		maxRetries: 3,
		backoff:    time.Second,
		logger:     logger.Named("llm"),
	}
}

// SetModel updates the model used by this adapter
func (a *LLMAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter model updated", zap.String("model", model))
	}
}

// GetModel returns the current model
func (a *LLMAdapter) GetModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// Refine returns a cleaned-up version of a raw speech transcript.
func (a *LLMAdapter) Refine(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	out, err := a.complete(ctx, refineSystemPrompt, text, 0.2)
	if err != nil {
		return "", apperrors.NewRefinementFailed(err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", apperrors.NewRefinementFailed(fmt.Errorf("empty refinement"))
	}
	return out, nil
}

// GenerateReport writes a Markdown report over the conversation lines.
func (a *LLMAdapter) GenerateReport(ctx context.Context, lines []string, stats *state.ReportStats) (string, error) {
	out, err := a.complete(ctx, report.SystemPrompt, report.BuildContext(lines, stats), 0.4)
	if err != nil {
		return "", apperrors.NewReportFailed(err)
	}
	return strings.TrimSpace(out), nil
}

// complete sends a single system+user exchange, retrying with linear backoff.
func (a *LLMAdapter) complete(ctx context.Context, systemPrompt, userMsg string, temperature float32) (string, error) {
	currentModel := a.GetModel()

	req := openai.ChatCompletionRequest{
		Model: currentModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
		Temperature: temperature,
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * a.backoff
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", currentModel),
		)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}

	if err != nil {
		return "", fmt.Errorf("failed to generate response after %d attempts: %w", a.maxRetries, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	return resp.Choices[0].Message.Content, nil
}
