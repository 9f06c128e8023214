// Package scorer adapts an OpenAI-compatible chat-completions endpoint to
// the adaptation and stage scorer interfaces.
//
// Replies are untrusted. The client only extracts a JSON object from the
// model's text; bounds and contract checks stay with the callers.
package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/roach88/sadhana/internal/adaptation"
	"github.com/roach88/sadhana/internal/bhav"
	"github.com/roach88/sadhana/internal/payload"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gpt-4o-mini"

// Config selects the endpoint and model.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client implements adaptation.Scorer and bhav.StageScorer.
//
// Thread-safety: safe for concurrent use; the underlying go-openai client
// is.
type Client struct {
	api    *openai.Client
	model  string
	logger *slog.Logger
}

var (
	_ adaptation.Scorer = (*Client)(nil)
	_ bhav.StageScorer  = (*Client)(nil)
)

// New builds a client. An empty BaseURL keeps the go-openai default.
func New(cfg Config, logger *slog.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    openai.NewClientWithConfig(oc),
		model:  model,
		logger: logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// ScoreAdaptation asks the model for a decision document. An empty reply
// yields a nil document.
func (c *Client) ScoreAdaptation(ctx context.Context, req adaptation.ScoreRequest) (payload.Document, error) {
	input := map[string]any{
		"session_id": req.SessionID,
		"mantra_key": req.MantraKey,
		"snapshot":   req.Snapshot,
		"context":    req.Context,
		"baseline":   req.Baseline,
		"constraints": map[string]any{
			"tempo_bpm_range":    []int{adaptation.MinTempoBPM, adaptation.MaxTempoBPM},
			"guidance_intensity": []string{"low", "medium", "high"},
			"key_center":         "one natural note letter, A to G",
		},
	}
	text, err := c.complete(ctx, adaptationPrompt, input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return ExtractJSON(text)
}

// ScoreStage asks the model for stage scores. An empty reply yields a nil
// document.
func (c *Client) ScoreStage(ctx context.Context, req bhav.StageScoreRequest) (payload.Document, error) {
	input := map[string]any{
		"stage":          req.Stage,
		"lineage_id":     req.Lineage.ID,
		"golden_profile": req.GoldenProfile,
		"weights":        req.Lineage.Weights,
		"thresholds":     req.Lineage.Thresholds,
		"metrics":        req.Metrics,
		"aggregate":      req.Aggregate,
		"baseline":       req.Baseline,
	}
	text, err := c.complete(ctx, stagePrompt, input)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return ExtractJSON(text)
}

func (c *Client) complete(ctx context.Context, system string, input any) (string, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("scorer: marshal input: %w", err)
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("scorer: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		c.logger.Debug("scorer reply had no choices", "model", c.model)
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

const adaptationPrompt = `You tune a guided mantra practice session.
Reply with one JSON object and nothing else. Fields:
tempo_bpm (integer), guidance_intensity (low|medium|high), key_center
(A-G), reason (string), adaptation_json (object with arrangement and
coach_actions, shaped like the baseline's).
Stay inside the constraints. Prefer the baseline when unsure.`

const stagePrompt = `You score one stage of a maha-mantra chanting practice.
Reply with one JSON object and nothing else. Fields:
discipline, resonance, coherence (numbers 0..1, required), composite
(0..1), passes_golden (boolean), feedback (up to 3 short strings),
scorer_confidence (0..1), evidence_json (object).
Ground every score in the metrics given.`
