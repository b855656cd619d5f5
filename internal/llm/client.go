package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// Config holds provider connection parameters.
type Config struct {
	Dialect   Dialect
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
}

// Client implements Backend over HTTP for a single dialect.
type Client struct {
	httpClient *http.Client
	dialect    Dialect
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	dialect, err := ParseDialect(string(cfg.Dialect))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrDisabled
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = dialect.DefaultBaseURL()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		dialect:    dialect,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return client, nil
}

// Dialect reports the wire dialect the client speaks.
func (c *Client) Dialect() Dialect {
	return c.dialect
}

// CompleteStructured sends the prompt and returns the JSON object the model produced.
func (c *Client) CompleteStructured(ctx context.Context, prompt, model string, opts Options) (Completion, error) {
	if c == nil || c.apiKey == "" {
		return Completion{}, ErrDisabled
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Completion{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	wire, err := c.dialect.buildRequest(c.apiKey, model, prompt, opts)
	if err != nil {
		return Completion{}, err
	}
	payload, err := json.Marshal(wire.body)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+wire.path, bytes.NewReader(payload))
	if err != nil {
		return Completion{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wire.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("%s request: %w", c.dialect, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	text, usage, reported, err := c.dialect.parseResponse(body)
	if err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	content := ExtractJSON(text)
	if content == "" || !json.Valid([]byte(content)) {
		return Completion{}, fmt.Errorf("%w: response is not a JSON object", ErrMalformedResponse)
	}
	if reported == "" {
		reported = model
	}

	logrus.WithFields(logrus.Fields{
		"dialect":       c.dialect,
		"model":         reported,
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
	}).Debug("llm completion")

	return Completion{Raw: json.RawMessage(content), Model: reported, Usage: usage}, nil
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Backend = (*Client)(nil)
