package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultGeminiModel = "gemini-2.5-flash-lite"

// TextGenerator sends one prompt to a language model and returns its text.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator is a TextGenerator over the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiGenerator(ctx context.Context, apiKey, modelName string) (*GeminiGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is empty")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: client.GenerativeModel(modelName)}, nil
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no content received from model")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}

// ModelAdvisor asks a language model for advice and falls back to another
// Advisor (normally RuleAdvisor) on any failure or empty answer.
type ModelAdvisor struct {
	Generator TextGenerator
	Fallback  Advisor
	Logger    *slog.Logger
}

func (a *ModelAdvisor) Advise(ctx context.Context, ins Insights) (string, error) {
	fallback := a.Fallback
	if fallback == nil {
		fallback = RuleAdvisor{}
	}
	if a.Generator == nil {
		return fallback.Advise(ctx, ins)
	}

	prompt, err := advicePrompt(ins)
	if err == nil {
		var text string
		text, err = a.Generator.GenerateText(ctx, prompt)
		if text = strings.TrimSpace(text); err == nil && text != "" {
			return text, nil
		}
		if err == nil {
			err = errors.New("empty advice from model")
		}
	}
	if a.Logger != nil {
		a.Logger.WarnContext(ctx, "model advice unavailable, using rules", slog.String("error", err.Error()))
	}
	return fallback.Advise(ctx, ins)
}

func advicePrompt(ins Insights) (string, error) {
	data, err := json.MarshalIndent(ins, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode insights: %w", err)
	}
	return fmt.Sprintf(`You are a business advisor for a small retail shop.
Based on the sales insights below, give three short, practical suggestions in plain text.
Do not use markdown.

%s
`, data), nil
}
