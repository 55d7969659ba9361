package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/proctor/internal/llm/prompts"
	"github.com/pavelanni/proctor/internal/model"
)

// ErrNoCredentials is returned by every call when no API key is configured.
var ErrNoCredentials = errors.New("LLM API key not configured")

const (
	maxVivaQuestions = 2
	minStyleSamples  = 2
	minStyleLength   = 50
)

// StyleAnalysis is the LLM's verdict on writing style consistency.
type StyleAnalysis struct {
	HasStyleChange       bool     `json:"has_style_change"`
	ConfidenceScore      float64  `json:"confidence_score"`
	StyleInconsistencies []string `json:"style_inconsistencies"`
	AnalysisSummary      string   `json:"analysis_summary"`
	SamplesCompared      int      `json:"samples_compared"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api    *openai.Client
	model  string
	hasKey bool
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:    openai.NewClientWithConfig(config),
		model:  modelName,
		hasKey: apiKey != "",
	}
}

// GenerateVivaQuestions asks the LLM for up to two verification questions
// about the exam, informed by the session's recent suspicious events.
func (c *Client) GenerateVivaQuestions(ctx context.Context, exam model.Exam, recent []model.ScoredEvent) ([]model.VivaQuestion, error) {
	prompt, err := prompts.BuildVivaPrompt(exam, recent, maxVivaQuestions)
	if err != nil {
		return nil, fmt.Errorf("build viva prompt: %w", err)
	}

	var out struct {
		Questions []struct {
			Question       string `json:"question"`
			ExpectedAnswer string `json:"expected_answer"`
		} `json:"questions"`
	}
	if err := c.complete(ctx, prompt, 0.4, &out); err != nil {
		return nil, fmt.Errorf("generate viva questions: %w", err)
	}

	qs := make([]model.VivaQuestion, 0, len(out.Questions))
	for _, q := range out.Questions {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			continue
		}
		qs = append(qs, model.VivaQuestion{Question: text, ExpectedAnswer: strings.TrimSpace(q.ExpectedAnswer)})
	}
	return qs, nil
}

// AnalyzeWritingStyle compares the style of free-text answers. Fewer than two
// substantial answers are reported as insufficient without calling the LLM.
func (c *Client) AnalyzeWritingStyle(ctx context.Context, answers map[string]string) (StyleAnalysis, error) {
	texts := TextAnswers(answers)
	if len(texts) < minStyleSamples {
		return StyleAnalysis{
			AnalysisSummary: "Insufficient text samples for style analysis",
			SamplesCompared: len(texts),
		}, nil
	}

	prompt, err := prompts.BuildStylePrompt(texts)
	if err != nil {
		return StyleAnalysis{}, fmt.Errorf("build style prompt: %w", err)
	}

	var res StyleAnalysis
	if err := c.complete(ctx, prompt, 0.1, &res); err != nil {
		return StyleAnalysis{}, fmt.Errorf("analyze writing style: %w", err)
	}
	res.SamplesCompared = len(texts)
	res.ConfidenceScore = min(1, max(0, res.ConfidenceScore))
	slog.Info("style analysis completed", "samples", len(texts), "style_change", res.HasStyleChange, "confidence", res.ConfidenceScore)
	return res, nil
}

func (c *Client) complete(ctx context.Context, prompt string, temperature float32, v any) error {
	if !c.hasKey {
		return ErrNoCredentials
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: temperature,
	})
	if err != nil {
		return fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	return nil
}

// TextAnswers keeps answers long enough to carry a writing style and drops
// anything that looks like a multiple choice pick.
func TextAnswers(answers map[string]string) map[string]string {
	out := make(map[string]string)
	for id, a := range answers {
		a = strings.TrimSpace(a)
		if len(a) < minStyleLength || looksLikeChoice(a) {
			continue
		}
		out[id] = a
	}
	return out
}

func looksLikeChoice(answer string) bool {
	a := strings.ToLower(answer)
	switch a {
	case "a", "b", "c", "d", "e", "true", "false", "yes", "no":
		return true
	}
	return len(a) <= 5 || strings.HasPrefix(a, "option ") || strings.HasPrefix(a, "choice ")
}
