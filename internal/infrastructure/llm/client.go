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

	"paperscope/internal/config"
	"paperscope/internal/domain"
	"paperscope/internal/ports"
	"paperscope/internal/retry"
)

const (
	bulkAttempts        = 5
	interactiveAttempts = 3
	baseDelay           = time.Second

	digestLimit = 140
	digestKeep  = 137
	ellipsis    = "…"

	translateTemperature = 0.2
	summaryTemperature   = 0.3
	answerTemperature    = 0.3
)

const summaryPrompt = `From the title and abstract the user provides, produce the
following 8 sections in Markdown. Write each section in %s, 150-250
characters, bullet points allowed. Section 8 must fit in 140 characters,
hashtags encouraged.

### 1. Title
### 2. Background
### 3. Objective
### 4. Method
### 5. Key results
### 6. Significance
### 7. Outlook
### 8. 140-character highlight
`

// Client talks to an OpenAI-compatible chat-completions API.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	targetLang string
	httpClient *http.Client
	delay      time.Duration
	retrier    *retry.Retrier
	logger     *slog.Logger
}

var _ ports.Enricher = (*Client)(nil)

// NewClient builds a client from configuration using the bulk-ingestion
// retry policy (5 attempts).
func NewClient(cfg config.OpenAIConfig, logger *slog.Logger) *Client {
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		targetLang: cfg.TargetLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		delay:      baseDelay,
		retrier:    retry.New(retry.Config{MaxAttempts: bulkAttempts, BaseDelay: baseDelay}, isTransient, logger),
		logger:     logger,
	}
}

// Interactive returns a view of the client with the shorter on-demand retry
// policy (3 attempts). The underlying HTTP client is shared.
func (c *Client) Interactive() *Client {
	view := *c
	view.retrier = retry.New(retry.Config{MaxAttempts: interactiveAttempts, BaseDelay: c.delay}, isTransient, c.logger)
	return &view
}

// Translate renders text into the configured target language. It never
// fails: on an unrecoverable error the original text is returned so that
// downstream display is not blocked by a translation outage.
func (c *Client) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	system := fmt.Sprintf("You are a professional translator. Translate everything into %s. Return only the translation.", c.targetLang)

	out, err := c.chat(ctx, []message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	}, translateTemperature)
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("translation degraded to original text", "error", err)
		}
		return text
	}
	return out
}

// Summarize generates the structured multi-section summary plus the derived
// short digest. Fails with EnrichmentError when the service stays
// unreachable past the retry budget.
func (c *Client) Summarize(ctx context.Context, title, body string) (string, string, error) {
	system := fmt.Sprintf("You are an assistant that analyzes academic papers and technical articles in depth, reporting in %s for graduate-level readers.", c.targetLang)
	user := fmt.Sprintf("Title: %s\n\nAbstract: %s", title, body)

	summary, err := c.chat(ctx, []message{
		{Role: "system", Content: system},
		{Role: "system", Content: fmt.Sprintf(summaryPrompt, c.targetLang)},
		{Role: "user", Content: user},
	}, summaryTemperature)
	if err != nil {
		return "", "", &domain.EnrichmentError{Attempts: c.retrier.Attempts(), Err: err}
	}

	return summary, shortDigest(summary), nil
}

// Answer responds to a question about an item using the interactive retry
// policy.
func (c *Client) Answer(ctx context.Context, title, body, question string) (string, error) {
	interactive := c.Interactive()

	system := fmt.Sprintf("You answer questions about the following article in %s, precisely and concisely.", c.targetLang)
	contextMsg := fmt.Sprintf("Title: %s\n\nAbstract: %s", title, body)

	answer, err := interactive.chat(ctx, []message{
		{Role: "system", Content: system},
		{Role: "system", Content: contextMsg},
		{Role: "user", Content: question},
	}, answerTemperature)
	if err != nil {
		return "", &domain.EnrichmentError{Attempts: interactiveAttempts, Err: err}
	}
	return answer, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) chat(ctx context.Context, msgs []message, temperature float64) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", errors.New("llm client misconfigured")
	}

	var out string
	err := c.retrier.Do(ctx, func() error {
		var callErr error
		out, callErr = c.completion(ctx, msgs, temperature)
		return callErr
	})
	return out, err
}

func (c *Client) completion(ctx context.Context, msgs []message, temperature float64) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    msgs,
		"temperature": temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &apiError{status: 0, msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &apiError{status: resp.StatusCode, msg: strings.TrimSpace(string(detail))}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty completion response")
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// apiError carries the HTTP status so the retrier can tell transient
// failures apart from malformed requests. Status 0 marks network errors.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string {
	if e.status == 0 {
		return fmt.Sprintf("llm request failed: %s", e.msg)
	}
	return fmt.Sprintf("llm returned %d: %s", e.status, e.msg)
}

func isTransient(err error) bool {
	var api *apiError
	if !errors.As(err, &api) {
		return false
	}
	switch {
	case api.status == 0:
		return true
	case api.status == http.StatusTooManyRequests, api.status == http.StatusRequestTimeout:
		return true
	case api.status >= http.StatusInternalServerError:
		return true
	}
	return false
}

// shortDigest takes the last non-empty line of the summary and hard-bounds
// it to 140 characters; longer candidates keep 137 runes plus the ellipsis.
// The service's output is untrusted, so the bound is enforced here.
func shortDigest(summary string) string {
	lines := strings.Split(summary, "\n")
	var candidate string
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			candidate = line
			break
		}
	}

	runes := []rune(candidate)
	if len(runes) <= digestLimit {
		return candidate
	}
	return string(runes[:digestKeep]) + ellipsis
}
