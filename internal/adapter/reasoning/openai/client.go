package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxBodySize    = 1 << 20
)

// Config configures the reasoning client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client implements domain.Reasoner against an OpenAI-compatible chat
// completions endpoint with strict structured output.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewClient creates a new reasoning client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("github.com/V4T54L/shadow-ai-watch/reasoning/openai"),
		logger:     logger.With("component", "openai_client", "model", model),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Reason sends the request and returns the raw JSON content of the first
// choice. On a bad envelope the raw body is returned alongside the error.
func (c *Client) Reason(ctx context.Context, req domain.EnrichmentRequest) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "openai.reason", trace.WithAttributes(
		attribute.String("ai.provider", "openai"),
		attribute.String("ai.model", c.model),
		attribute.String("event.id", req.EventID),
	))
	defer span.End()

	raw, status, err := c.do(ctx, req)
	if status > 0 {
		span.SetAttributes(attribute.Int("http.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return raw, err
	}
	span.SetStatus(codes.Ok, "")
	return raw, nil
}

func (c *Client) do(ctx context.Context, req domain.EnrichmentRequest) ([]byte, int, error) {
	userContent, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal enrichment request: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userContent)},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "ai_usage_value_enrichment",
				"strict": true,
				"schema": responseSchema(),
			},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		return nil, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, 0, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, 0, fmt.Errorf("openai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(err) {
			return nil, resp.StatusCode, fmt.Errorf("%w: reading body: %v", domain.ErrTimeout, err)
		}
		return nil, resp.StatusCode, fmt.Errorf("failed to read openai response: %w", err)
	}
	c.logger.Debug("openai response", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if err := statusError(resp.StatusCode); err != nil {
		return respBody, resp.StatusCode, err
	}

	var envelope chatResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return respBody, resp.StatusCode, fmt.Errorf("%w: envelope: %v", domain.ErrMalformedResponse, err)
	}
	if len(envelope.Choices) == 0 {
		return respBody, resp.StatusCode, fmt.Errorf("%w: no choices", domain.ErrMalformedResponse)
	}
	msg := envelope.Choices[0].Message
	if msg.Refusal != "" {
		return respBody, resp.StatusCode, fmt.Errorf("%w: model refused: %s", domain.ErrMalformedResponse, msg.Refusal)
	}
	content := stripCodeFence(msg.Content)
	if content == "" {
		return respBody, resp.StatusCode, fmt.Errorf("%w: empty content", domain.ErrMalformedResponse)
	}
	return []byte(content), resp.StatusCode, nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", domain.ErrRateLimited, status)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", domain.ErrTimeout, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrUnauthorized, status)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d", domain.ErrBadRequest, status)
	}
	return fmt.Errorf("openai request failed with status %d", status)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// stripCodeFence removes a surrounding Markdown code block, if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
