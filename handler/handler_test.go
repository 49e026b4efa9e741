package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"studio-agent/internal/domain"
	"studio-agent/internal/usecase"
)

type stubBrief struct {
	out usecase.BriefOutput
	err error
	in  usecase.BriefInput
}

func (s *stubBrief) Generate(_ context.Context, in usecase.BriefInput) (usecase.BriefOutput, error) {
	s.in = in
	return s.out, s.err
}

type stubChat struct {
	out        usecase.ChatOutput
	err        error
	in         usecase.ChatInput
	transcript []domain.ChatTurn
	sessionID  string
}

func (s *stubChat) Send(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	s.in = in
	return s.out, s.err
}

func (s *stubChat) Transcript(_ context.Context, sessionID string) ([]domain.ChatTurn, error) {
	s.sessionID = sessionID
	return s.transcript, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, brief BriefGenerator, chat ChatSender, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(brief, chat, opts...)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil, &stubChat{})
	require.Error(t, err)

	_, err = NewHandler(&stubBrief{}, nil)
	require.Error(t, err)
}

func TestHandle_Brief_HappyPath(t *testing.T) {
	brief := &stubBrief{out: usecase.BriefOutput{
		Brief: domain.BriefResult{Slogan: "Pure, Simple, You.", VisualDirection: "Muted tones.", Strategy: "Calm ritual."},
		Vibe:  domain.VibeModernMinimalist,
	}}
	h := newTestHandler(t, brief, &stubChat{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/brief", `{"businessName":"Acme","industry":"Coffee","vibe":"Modern & Minimalist"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.BriefInput{BusinessName: "Acme", Industry: "Coffee", Vibe: "Modern & Minimalist"}, brief.in)

	out := parseBody[briefResponse](t, resp.Body)
	require.Equal(t, "Pure, Simple, You.", out.Slogan)
	require.Equal(t, "Muted tones.", out.VisualDirection)
	require.Equal(t, "Calm ritual.", out.Strategy)
	require.Equal(t, "Modern & Minimalist", out.Vibe)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_Chat_HappyPath(t *testing.T) {
	transcript := append(domain.GreetingTranscript(),
		domain.ChatTurn{Role: domain.RoleUser, Text: "hi"},
		domain.ChatTurn{Role: domain.RoleAssistant, Text: "hello"},
	)
	chat := &stubChat{out: usecase.ChatOutput{SessionID: "s-1", Reply: "hello", Transcript: transcript}}
	h := newTestHandler(t, &stubBrief{}, chat)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"sessionId":"s-1","message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{SessionID: "s-1", Message: "hi"}, chat.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "s-1", out.SessionID)
	require.Equal(t, "hello", out.Reply)
	require.Equal(t, transcript, out.Transcript)
	require.False(t, out.Ignored)
	require.Contains(t, resp.Body, `"role":"assistant"`)
}

func TestHandle_Transcript(t *testing.T) {
	chat := &stubChat{transcript: domain.GreetingTranscript()}
	h := newTestHandler(t, &stubBrief{}, chat)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/chat/s-42", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s-42", chat.sessionID)
	out := parseBody[transcriptResponse](t, resp.Body)
	require.Equal(t, "s-42", out.SessionID)
	require.Equal(t, domain.GreetingTranscript(), out.Transcript)

	event := makeEvent(http.MethodGet, "/chat/ignored", "")
	event.PathParameters = map[string]string{"sessionId": "from-params"}
	_, err = h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "from-params", chat.sessionID)
}

func TestHandle_Health(t *testing.T) {
	h := newTestHandler(t, &stubBrief{}, &stubChat{})
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/health/", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, resp.Body)
}

func TestHandle_RoutingErrors(t *testing.T) {
	h := newTestHandler(t, &stubBrief{}, &stubChat{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/nope", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/brief", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, http.MethodPost, resp.Headers["Allow"])

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodDelete, "/chat/s-1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_InvalidBody(t *testing.T) {
	cases := map[string]string{
		"not json":      `not-json`,
		"unknown field": `{"businessName":"Acme","industry":"Coffee","budget":100}`,
		"trailing":      `{"businessName":"Acme"}{}`,
		"too large":     `{"businessName":"` + strings.Repeat("a", maxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			brief := &stubBrief{}
			h := newTestHandler(t, brief, &stubChat{})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/brief", body))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
			require.Empty(t, brief.in.BusinessName)
		})
	}
}

func TestHandle_Base64Body(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{SessionID: "s-1"}}
	h := newTestHandler(t, &stubBrief{}, chat)

	event := makeEvent(http.MethodPost, "/chat", base64.StdEncoding.EncodeToString([]byte(`{"message":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", chat.in.Message)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_fields", Message: "Please fill in all fields"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput), message: "Please fill in all fields"},
		{name: "session busy", err: &usecase.Error{Code: usecase.ErrorSessionBusy, Reason: "session_busy", Message: "Please wait"}, status: http.StatusConflict, code: string(usecase.ErrorSessionBusy), message: "Please wait"},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "provider_rate_limited", Message: "Failed"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited), message: "Failed"},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "provider_error", Message: "Failed"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream), message: "Failed"},
		{name: "empty response", err: &usecase.Error{Code: usecase.ErrorEmptyResponse, Reason: "empty_response", Message: "Failed"}, status: http.StatusBadGateway, code: string(usecase.ErrorEmptyResponse), message: "Failed"},
		{name: "configuration", err: &usecase.Error{Code: usecase.ErrorConfiguration, Reason: "credential_missing", Message: "Failed"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorConfiguration), message: "Failed"},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "finish_turn_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal), message: msgGeneric},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal), message: msgGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubBrief{err: tc.err}, &stubChat{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/brief", `{"businessName":"Acme","industry":"Coffee"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.Equal(t, tc.message, out.Message)
			require.NotContains(t, resp.Body, "boom")

			resp, err = h.Handle(context.Background(), makeEvent(http.MethodPost, "/chat", `{"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubBrief{}, &stubChat{})

	event := makeEvent(http.MethodGet, "/health", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_GeneratesCorrelationID(t *testing.T) {
	orig := newCorrelationID
	newCorrelationID = func() string { return "generated" }
	defer func() { newCorrelationID = orig }()

	h := newTestHandler(t, &stubBrief{}, &stubChat{})
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/missing", ""))
	require.NoError(t, err)
	require.Equal(t, "generated", resp.Headers["X-Correlation-Id"])
}

func TestHandle_CORS(t *testing.T) {
	h := newTestHandler(t, &stubBrief{}, &stubChat{}, WithAllowedOrigin("https://mastdzyn.com"))

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodOptions, "/brief", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://mastdzyn.com", resp.Headers["Access-Control-Allow-Origin"])

	h = newTestHandler(t, &stubBrief{}, &stubChat{})
	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/health", ""))
	require.NoError(t, err)
	_, ok := resp.Headers["Access-Control-Allow-Origin"]
	require.False(t, ok)
}

func TestNewHTTPHandler_RoundTrip(t *testing.T) {
	chat := &stubChat{out: usecase.ChatOutput{SessionID: "s-1", Reply: "hello"}}
	srv := httptest.NewServer(NewHTTPHandler(newTestHandler(t, &stubBrief{}, chat)))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/chat", strings.NewReader(`{"sessionId":"s-1","message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("X-Correlation-Id", "corr-http")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "corr-http", res.Header.Get("X-Correlation-Id"))
	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	require.Equal(t, "hi", chat.in.Message)

	var out chatResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	require.Equal(t, "hello", out.Reply)
}
