package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"farm-jobs/internal/config"
	"farm-jobs/internal/models"
)

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the API endpoint; empty uses the public one.
	BaseURL string
}

// Gemini generates inventory summaries with Google's Gemini models using
// schema-constrained JSON output.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGemini builds a Gemini generator.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrProviderUnavailable)
	}
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &Gemini{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// GenerateSummary sends prompt and decodes the structured response.
func (g *Gemini) GenerateSummary(ctx context.Context, prompt string) (models.AiInventorySummary, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   SummarySchema,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.AiInventorySummary{}, fmt.Errorf("%w: %v", ErrInferenceTimeout, err)
		}
		return models.AiInventorySummary{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return models.AiInventorySummary{}, fmt.Errorf("%w: empty response", ErrInvalidResponse)
	}
	return DecodeSummary(text)
}

// NewGenerator constructs the configured provider. Called once at worker startup.
func NewGenerator(ctx context.Context, cfg config.Config) (models.SummaryGenerator, error) {
	switch cfg.AIProvider {
	case "gemini":
		return NewGemini(ctx, GeminiConfig{
			APIKey:  cfg.GoogleAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.AITimeout,
		})
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be gemini", cfg.AIProvider)
	}
}

var _ models.SummaryGenerator = (*Gemini)(nil)
