package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"studio-agent/internal/domain"
	"studio-agent/internal/metrics"
)

const providerName = "openai"

// message is the wire shape of a Chat Completions message.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaConfig `json:"json_schema"`
}

type jsonSchemaConfig struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int     `json:"index"`
		Message message `json:"message"`
	} `json:"choices"`
}

// TokenGetter resolves a provider token stored outside the process
// environment. *paramstore.Client satisfies this interface.
type TokenGetter interface {
	GetToken(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for chat completions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	tokens     TokenGetter
	tokenParam string

	keyMu sync.Mutex
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout replaces the HTTP client with one bounded by d.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a new Client. The API key is taken from apiKey when set,
// otherwise fetched through tokens on the first call and reused for the
// lifetime of the process.
func NewClient(apiKey string, tokens TokenGetter, tokenParam string, opts ...Option) (*Client, error) {
	tokenParam = strings.TrimSpace(tokenParam)
	if tokens != nil && tokenParam == "" {
		return nil, errors.New("openai: token parameter name must not be empty when a token getter is set")
	}
	c := &Client{
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     strings.TrimSpace(apiKey),
		tokens:     tokens,
		tokenParam: tokenParam,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey returns the configured key, fetching it from the token store
// on first use. Fetch failures are not cached.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.tokens == nil {
		return "", fmt.Errorf("openai: no API key: %w", domain.ErrCredentialMissing)
	}
	key, err := c.tokens.GetToken(ctx, c.tokenParam)
	if err != nil {
		return "", fmt.Errorf("openai: fetch API key: %w", err)
	}
	c.apiKey = key
	return key, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// GenerateStructured requests a strict json_schema completion and returns the
// raw reply text.
func (c *Client) GenerateStructured(ctx context.Context, model, prompt string, schema domain.ResponseSchema) (string, error) {
	start := time.Now()
	out, err := c.complete(ctx, chatRequest{
		Model:    model,
		Messages: []message{{Role: "user", Content: prompt}},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaConfig{
				Name:   schema.Name,
				Strict: true,
				Schema: schema.JSONSchema(),
			},
		},
	})
	if !errors.Is(err, domain.ErrCredentialMissing) {
		metrics.ObserveProviderCall(providerName, "generate_structured", start, err)
	}
	return out, err
}

// Chat sends message after the given history under a system instruction.
func (c *Client) Chat(ctx context.Context, model, systemInstruction string, history []domain.ChatTurn, msg string) (string, error) {
	messages := make([]message, 0, len(history)+2)
	if strings.TrimSpace(systemInstruction) != "" {
		messages = append(messages, message{Role: "system", Content: systemInstruction})
	}
	for _, turn := range history {
		messages = append(messages, message{Role: string(turn.Role), Content: turn.Text})
	}
	messages = append(messages, message{Role: "user", Content: msg})

	start := time.Now()
	out, err := c.complete(ctx, chatRequest{Model: model, Messages: messages})
	if !errors.Is(err, domain.ErrCredentialMissing) {
		metrics.ObserveProviderCall(providerName, "chat", start, err)
	}
	return out, err
}

func (c *Client) complete(ctx context.Context, in chatRequest) (string, error) {
	if in.Model == "" {
		return "", errors.New("openai: model must not be empty")
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return "", fmt.Errorf("openai: create request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return "", nil
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
