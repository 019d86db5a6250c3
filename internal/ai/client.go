// Package ai talks to the story content producer: an OpenAI-compatible
// chat completion endpoint (OpenRouter by default). It owns prompt
// assembly and the raw decoding of completions; semantic validation of
// the returned payload lives in internal/story.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openai "github.com/sashabaranov/go-openai"

	"github.com/storypath/go-story-backend/internal/story"
)

// DefaultBaseURL targets OpenRouter's OpenAI-compatible API.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrEmptyCompletion is returned when the provider responds without any
// usable choice content.
var ErrEmptyCompletion = errors.New("empty completion from provider")

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_ai_requests_total",
			Help: "Total number of requests to the AI provider.",
		},
		[]string{"model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_ai_request_duration_seconds",
			Help:    "Histogram of AI provider request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
)

// StepPrompt carries everything the producer needs to continue (or open)
// a story. ChosenText and ChosenSlug are empty for the opening step.
type StepPrompt struct {
	Genre      string
	Length     string
	Challenge  string
	StepIndex  int
	PrevText   string
	ChosenText string
	ChosenSlug string
	State      story.GameState
}

// Producer generates one raw story step. The return value is deliberately
// untyped: the payload is whatever the model produced, and the validator
// decides whether it is acceptable.
type Producer interface {
	GenerateStep(ctx context.Context, p StepPrompt) (any, error)
}

// Config holds provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client implements Producer on top of an OpenAI-compatible endpoint.
type Client struct {
	api *openai.Client
	cfg Config
}

// NewClient constructs a Client. An empty BaseURL falls back to OpenRouter.
func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	} else {
		oc.BaseURL = DefaultBaseURL
	}
	return &Client{api: openai.NewClientWithConfig(oc), cfg: cfg}
}

const systemPrompt = `You are the narrator of an interactive story. Reply with a single JSON object and nothing else. The object must contain:
- "story_text": the next scene as prose (string, at most 5000 characters)
- "choices": 2 to 4 options, each an object with "id" (one letter), "text" (what the player sees, at most 500 characters), "slug" (snake_case identifier, at most 100 characters), optional "consequences" and optional "trait_impacts" (map of trait name to integer delta)
- "game_state": object with "act" (integer), "flags" (array of strings), "relationships" (map of name to integer), "inventory" (array of strings), "personality_traits" (object with integer fields risk_taking, empathy, pragmatism, creativity, leadership, each 0-100)
- "is_ending": boolean
- "ending_type": string, only when is_ending is true
When the story ends, "choices" may be empty. Do not wrap the JSON in markdown fences.`

// GenerateStep requests one completion and decodes its body as JSON.
// A payload that fails to parse is returned as the raw string so the
// validator can reject it with a retryable error.
func (c *Client) GenerateStep(ctx context.Context, p StepPrompt) (any, error) {
	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(p)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	aiRequestDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		aiRequestsTotal.WithLabelValues(c.cfg.Model, "error").Inc()
		return nil, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		aiRequestsTotal.WithLabelValues(c.cfg.Model, "empty").Inc()
		return nil, ErrEmptyCompletion
	}
	aiRequestsTotal.WithLabelValues(c.cfg.Model, "ok").Inc()

	text := StripFences(resp.Choices[0].Message.Content)
	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return text, nil
	}
	return payload, nil
}

// buildUserPrompt renders the step request. The current game state travels
// as JSON so the model continues from the exact persisted snapshot.
func buildUserPrompt(p StepPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Genre: %s\nLength: %s\nChallenge: %s\n", p.Genre, p.Length, p.Challenge)
	if state, err := json.Marshal(p.State); err == nil {
		fmt.Fprintf(&b, "Current game state: %s\n", state)
	}
	if p.StepIndex == 0 {
		b.WriteString("Write the opening scene of a new story and offer the first choices.")
		return b.String()
	}
	fmt.Fprintf(&b, "Previous scene:\n%s\n", p.PrevText)
	fmt.Fprintf(&b, "The player chose: %q (%s). Continue the story from that choice.", p.ChosenText, p.ChosenSlug)
	return b.String()
}

// StripFences removes a surrounding markdown code fence, with or without
// a language tag. Models add them despite instructions.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop a language tag such as "json" on the opening fence line.
		first := strings.TrimSpace(s[:i])
		if first == "" || !strings.ContainsAny(first, "{}[]") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
