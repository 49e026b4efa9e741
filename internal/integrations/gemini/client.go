package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"studio-agent/internal/domain"
	"studio-agent/internal/metrics"
)

const (
	providerName   = "gemini"
	defaultTimeout = 30 * time.Second
)

// TokenGetter resolves a provider token stored outside the process
// environment. *paramstore.Client satisfies this interface.
type TokenGetter interface {
	GetToken(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx responses from the Gemini API.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gemini: unexpected status %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused Gemini client exposing structured generation and
// multi-turn chat.
type Client struct {
	apiKey     string
	tokens     TokenGetter
	tokenParam string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration

	mu     sync.Mutex
	client *genai.Client
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

// WithTimeout bounds every provider call. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a Client. The API key is taken from apiKey when set,
// otherwise from the token parameter tokenParam via tokens. Neither source
// is consulted until the first call, and a missing credential is reported as
// domain.ErrCredentialMissing rather than a construction error.
func NewClient(apiKey string, tokens TokenGetter, tokenParam string, opts ...Option) (*Client, error) {
	tokenParam = strings.TrimSpace(tokenParam)
	if tokens != nil && tokenParam == "" {
		return nil, errors.New("gemini: token parameter name must not be empty when a token getter is set")
	}
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		tokens:     tokens,
		tokenParam: tokenParam,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// resolveClient builds the genai client on first use. Only a successful build
// is cached, so a transient token store failure is retried on the next call.
func (c *Client) resolveClient(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	cfg.HTTPOptions.BaseURL = c.baseURL
	timeout := c.timeout
	cfg.HTTPOptions.Timeout = &timeout

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.client = client
	return client, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.tokens == nil {
		return "", fmt.Errorf("gemini: no API key: %w", domain.ErrCredentialMissing)
	}
	key, err := c.tokens.GetToken(ctx, c.tokenParam)
	if err != nil {
		return "", fmt.Errorf("gemini: fetch API key: %w", err)
	}
	return key, nil
}

// GenerateStructured asks the model for a JSON reply constrained to schema
// and returns the raw reply text.
func (c *Client) GenerateStructured(ctx context.Context, model, prompt string, schema domain.ResponseSchema) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	client, err := c.resolveClient(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(schema),
	})
	metrics.ObserveProviderCall(providerName, "generate_structured", start, err)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", translateError(err))
	}
	return resp.Text(), nil
}

// Chat sends message after the given history under a system instruction and
// returns the reply text.
func (c *Client) Chat(ctx context.Context, model, systemInstruction string, history []domain.ChatTurn, message string) (string, error) {
	if model == "" {
		return "", errors.New("gemini: model must not be empty")
	}
	client, err := c.resolveClient(ctx)
	if err != nil {
		return "", err
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		contents = append(contents, genai.NewContentFromText(turn.Text, wireRole(turn.Role)))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(systemInstruction) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
	metrics.ObserveProviderCall(providerName, "chat", start, err)
	if err != nil {
		return "", fmt.Errorf("gemini: request failed: %w", translateError(err))
	}
	return resp.Text(), nil
}

func wireRole(role domain.Role) genai.Role {
	if role == domain.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func toGenaiSchema(s domain.ResponseSchema) *genai.Schema {
	props := make(map[string]*genai.Schema, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = &genai.Schema{
			Type:        genai.TypeString,
			Description: f.Description,
		}
	}
	return &genai.Schema{
		Type:             genai.TypeObject,
		Properties:       props,
		Required:         s.FieldNames(),
		PropertyOrdering: s.FieldNames(),
	}
}

func translateError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{
			StatusCode: apiErr.Code,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
		}
	}
	return err
}
