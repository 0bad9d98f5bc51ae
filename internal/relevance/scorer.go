// Package relevance scores candidate content for medical relevance through
// an OpenAI-compatible chat endpoint.
package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// scoreScale rescales the model's 1-10 priority onto the 0-45 content-score
// range used by the frontier.
const scoreScale = 4.5

// defaultScore is returned when the model answers but nothing parseable
// can be extracted.
const defaultScore = 25.0

const systemPrompt = "You are a medical content triage assistant. " +
	"Given a page title and description, rate how valuable the page is for " +
	"medical research on a 1-10 scale. Respond with JSON only: " +
	`{"priority": <number>, "reason": "<short reason>"}`

var priorityRE = regexp.MustCompile(`"priority"\s*:\s*(\d+(?:\.\d+)?)`)

// ChatClient sends one prompt and returns the raw model reply.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// Config for the scorer and its HTTP chat client.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Scorer implements engine.RelevanceScorer on top of a ChatClient.
type Scorer struct {
	client ChatClient
	logger *zap.Logger
}

// NewScorer wraps a ChatClient.
func NewScorer(client ChatClient, logger *zap.Logger) *Scorer {
	return &Scorer{client: client, logger: logger}
}

// ScoreContent asks the model to rate the page and rescales the reply onto
// the frontier's content-score range.
func (s *Scorer) ScoreContent(ctx context.Context, url, title, description string) (float64, error) {
	user := fmt.Sprintf("URL: %s\nTitle: %s\nDescription: %s", url, title, description)
	reply, err := s.client.Chat(ctx, systemPrompt, user)
	if err != nil {
		return 0, fmt.Errorf("relevance chat: %w", err)
	}

	priority, ok := parsePriority(reply)
	if !ok {
		s.logger.Debug("unparseable relevance reply, using default",
			zap.String("url", url), zap.String("reply", truncate(reply, 200)))
		return defaultScore, nil
	}
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	return priority * scoreScale, nil
}

// parsePriority tries strict JSON first, then a regex sweep over the reply
// (models love wrapping JSON in prose or code fences).
func parsePriority(reply string) (float64, bool) {
	cleaned := strings.TrimSpace(reply)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	var parsed struct {
		Priority float64 `json:"priority"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err == nil && parsed.Priority > 0 {
		return parsed.Priority, true
	}

	m := priorityRE.FindStringSubmatch(reply)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// HTTPChatClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPChatClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPChatClient builds the default chat transport.
func NewHTTPChatClient(cfg Config) *HTTPChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPChatClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Chat sends one completion request and returns the first choice's content.
func (c *HTTPChatClient) Chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
