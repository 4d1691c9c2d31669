package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"SignalScanner/internal/config"
	"SignalScanner/internal/domain"
	"SignalScanner/internal/ports"
)

// systemPrompt instructs the extraction service to answer with a bare JSON
// array of trade objects. Field names here must stay in sync with
// domain.Extraction.
const systemPrompt = `You are a trade intelligence analyst for informal secondary-market chat (liquor, tobacco, gift goods). Analyze the user's chat message and extract structured data.

Identify:
1. intent: "Buy" (want/seeking/paying for) or "Sell" (offering/unloading). If neither applies, the message is chatter.
2. item_name: the core product name. Expand common shorthand to the canonical full name (e.g. "散飞" -> "飞天茅台").
3. price: the numeric price. Use 0 when the price is hidden, "private chat", or not stated.
4. specs: vintage, packaging (case/loose bottle), receipts, and similar details when present.

Output requirements:
- Return ONLY a valid JSON array, no Markdown fences, no commentary.
- Every object must contain "intent", "item_name" and "price".
- A message describing several goods returns one object per good.
- A message with no trade intent returns [].

Example:
Input: 出两个24散飞 2810，还有两条芙蓉王 400
Output: [{"intent": "Sell", "item_name": "飞天茅台", "price": 2810}, {"intent": "Sell", "item_name": "芙蓉王", "price": 400}]`

const rateWindow = 60 * time.Second

// Gateway is the rate-limited, retrying client for the external
// structured-extraction service (any OpenAI-compatible chat endpoint).
//
// Transport faults are retried with exponential backoff (1s/2s/4s); malformed
// payloads and non-2xx statuses are terminal per call. Either way the caller
// receives an error and is expected to fall back, never to crash.
type Gateway struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxRetries  int

	limiter    *windowLimiter
	httpClient *http.Client
	logger     *slog.Logger

	// backoff is swappable in tests to avoid real sleeps.
	backoff func(ctx context.Context, d time.Duration) error
}

var _ ports.Extractor = (*Gateway)(nil)

// NewGateway builds a gateway from configuration.
func NewGateway(cfg config.IntelligenceConfig, logger *slog.Logger) *Gateway {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		endpoint:    cfg.EndpointURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
		limiter:     newWindowLimiter(cfg.RateLimitPerWindow, rateWindow),
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
		backoff:     sleepContext,
	}
}

// chatRequest is the OpenAI-compatible completion request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the envelope holding the assistant's text content.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// transportError marks timeouts and connection faults, the only error class
// worth retrying.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// Analyze extracts structured trade objects from one message. It blocks on
// the sliding-window rate limiter before every network call and normalizes a
// single-object response into a one-element slice. Anything the service
// produced is returned unfiltered; validation belongs to the orchestrator.
func (g *Gateway) Analyze(ctx context.Context, text string) ([]domain.Extraction, error) {
	if g.endpoint == "" || g.apiKey == "" || g.model == "" {
		return nil, fmt.Errorf("extraction gateway misconfigured")
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		// Every attempt is a real network call and must count against
		// the window, retries included.
		if err := g.limiter.Acquire(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		results, err := g.call(ctx, text)
		if err == nil {
			return results, nil
		}
		lastErr = err

		var te *transportError
		if !errors.As(err, &te) || attempt >= g.maxRetries {
			break
		}

		// 1s, 2s, 4s — bounded so a dead endpoint cannot stall the
		// monitoring loop indefinitely.
		delay := time.Duration(1<<attempt) * time.Second
		g.warn("extraction call failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		if err := g.backoff(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

func (g *Gateway) call(ctx context.Context, text string) ([]domain.Extraction, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature:    g.temperature,
		TopP:           0.7,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("extraction service returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var envelope chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(envelope.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in extraction response")
	}

	return parseContent(envelope.Choices[0].Message.Content)
}

// parseContent decodes the assistant's text as a JSON array of extraction
// objects, accepting a bare object as a one-element array.
func parseContent(content string) ([]domain.Extraction, error) {
	content = stripFences(content)

	var many []domain.Extraction
	if err := json.Unmarshal([]byte(content), &many); err == nil {
		return many, nil
	}

	var one domain.Extraction
	if err := json.Unmarshal([]byte(content), &one); err != nil {
		return nil, fmt.Errorf("parse extraction content: %w", err)
	}
	return []domain.Extraction{one}, nil
}

// stripFences tolerates models that fence their output despite the prompt.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

func (g *Gateway) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
