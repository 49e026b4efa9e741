package app

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"studio-agent/internal/config"
)

func baseConfig() config.Config {
	return config.Config{
		Provider:         config.ProviderGemini,
		BriefModel:       "gemini-2.5-flash",
		ChatModel:        "gemini-3-pro-preview",
		ProviderTimeout:  time.Second,
		MaxFieldLength:   120,
		MaxMessageLength: 500,
		SessionTTL:       time.Hour,
		SessionLockLease: time.Minute,
		AllowedOrigin:    "*",
	}
}

func TestNew_MemoryStoreWithoutCredential(t *testing.T) {
	h, cleanup, err := New(context.Background(), baseConfig(), nil)
	require.NoError(t, err)
	defer cleanup()

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"message":"hello"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SessionID  string `json:"sessionId"`
		Reply      string `json:"reply"`
		Transcript []struct {
			Role string `json:"role"`
			Text string `json:"text"`
		} `json:"transcript"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Body), &body))
	require.NotEmpty(t, body.SessionID)
	require.Contains(t, body.Reply, "API Key")
	require.Len(t, body.Transcript, 3)

	resp, err = h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/brief",
		Body:       `{"businessName":"Acme","industry":"Retail","vibe":""}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNew_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisAddr = mr.Addr()

	h, cleanup, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer cleanup()

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Body:       `{"sessionId":"s-1","message":"hi"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, mr.Exists("chat:s-1:turns"))
	require.False(t, mr.Exists("chat:s-1:lock"))
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisAddr = mr.Addr()
	mr.Close()

	_, cleanup, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ping redis")
	cleanup()
}

func TestNew_OpenAIProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = config.ProviderOpenAI
	cfg.OpenAIBaseURL = "http://127.0.0.1:1"

	h, cleanup, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, h)
}

func TestNew_UnknownProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = "claude"

	_, cleanup, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown provider "claude"`)
	cleanup()
}

func TestStoreKind(t *testing.T) {
	require.Equal(t, "memory", storeKind(config.Config{}))
	require.Equal(t, "redis", storeKind(config.Config{RedisAddr: "localhost:6379"}))
	require.Equal(t, "dynamodb", storeKind(config.Config{StateTable: "t", RedisAddr: "x"}))
}
