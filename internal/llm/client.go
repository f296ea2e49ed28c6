// internal/llm/client.go
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loan-engine/internal/common/config"
	"loan-engine/internal/common/logger"
)

var (
	// ErrUnavailable covers every capability failure: unreachable endpoint,
	// timeout, non-200 status, empty or unparsable content. Callers treat
	// all of these identically.
	ErrUnavailable = errors.New("LLM_UNAVAILABLE")
)

// Capability is the completion boundary the evaluator roles depend on.
// Unavailability is a first-class, frequent outcome, never a panic.
type Capability interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
	CompleteStructured(ctx context.Context, prompt string, maxTokens int) (map[string]interface{}, error)
}

// Client calls a completion gateway over HTTP.
type Client struct {
	config config.LLMConfig
	client *http.Client
	logger logger.Logger
}

func NewClient(cfg config.LLMConfig, log logger.Logger) *Client {
	return &Client{
		config: cfg,
		// No client-level timeout; the per-call context carries the deadline.
		client: &http.Client{},
		logger: log.WithFields(map[string]interface{}{"component": "llm"}),
	}
}

// Timeout returns the configured per-call deadline.
func (c *Client) Timeout() time.Duration {
	return time.Duration(c.config.Timeout) * time.Millisecond
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	JSONMode    bool    `json:"json_mode,omitempty"`
}

type generateResponse struct {
	Content string `json:"content"`
}

// Complete runs a free-text completion. Returns ErrUnavailable on any
// transport or gateway failure.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.generate(ctx, prompt, maxTokens, false)
}

// CompleteStructured runs a completion in JSON mode and parses the content
// into a generic object. Markdown code fences around the JSON are
// tolerated since models emit them even when told not to.
func (c *Client) CompleteStructured(ctx context.Context, prompt string, maxTokens int) (map[string]interface{}, error) {
	content, err := c.generate(ctx, prompt, maxTokens, true)
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(StripFences(content)), &parsed); err != nil {
		c.logger.Warn("structured completion returned unparsable JSON", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("%w: parse content: %v", ErrUnavailable, err)
	}
	return parsed, nil
}

func (c *Client) generate(ctx context.Context, prompt string, maxTokens int, jsonMode bool) (string, error) {
	if maxTokens <= 0 {
		maxTokens = c.config.MaxTokens
	}

	body, err := json.Marshal(generateRequest{
		Model:       c.config.Model,
		Prompt:      prompt,
		MaxTokens:   maxTokens,
		Temperature: c.config.Temperature,
		JSONMode:    jsonMode,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrUnavailable, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		content, err := c.doRequest(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
	}

	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/ai/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %v", err)
	}
	if out.Content == "" {
		return "", errors.New("empty content")
	}
	return out.Content, nil
}

// StripFences removes a surrounding markdown code fence from model output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
