package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"studio-agent/internal/domain"
	"studio-agent/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 16 << 10

	msgGeneric = "Something went wrong. Please try again."
)

type BriefGenerator interface {
	Generate(ctx context.Context, in usecase.BriefInput) (usecase.BriefOutput, error)
}

type ChatSender interface {
	Send(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Transcript(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
}

type Handler struct {
	brief         BriefGenerator
	chat          ChatSender
	allowedOrigin string
	logger        *slog.Logger
}

type Option func(*Handler)

// WithAllowedOrigin sets the Access-Control-Allow-Origin value. Empty disables CORS headers.
func WithAllowedOrigin(origin string) Option {
	return func(h *Handler) {
		h.allowedOrigin = strings.TrimSpace(origin)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(brief BriefGenerator, chat ChatSender, opts ...Option) (*Handler, error) {
	if brief == nil {
		return nil, errors.New("handler: brief generator must not be nil")
	}
	if chat == nil {
		return nil, errors.New("handler: chat sender must not be nil")
	}
	h := &Handler{brief: brief, chat: chat, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type briefRequest struct {
	BusinessName string `json:"businessName"`
	Industry     string `json:"industry"`
	Vibe         string `json:"vibe"`
}

type briefResponse struct {
	Slogan          string `json:"slogan"`
	VisualDirection string `json:"visualDirection"`
	Strategy        string `json:"strategy"`
	Vibe            string `json:"vibe"`
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID  string            `json:"sessionId"`
	Reply      string            `json:"reply"`
	Transcript []domain.ChatTurn `json:"transcript"`
	Ignored    bool              `json:"ignored"`
}

type transcriptResponse struct {
	SessionID  string            `json:"sessionId"`
	Transcript []domain.ChatTurn `json:"transcript"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handle routes an API Gateway proxy request. Every failure is rendered as a
// JSON error response, so the returned error is always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	path := normalizePath(req.Path)
	logger := h.logger.With("correlation_id", correlationID, "route", req.HTTPMethod+" "+path)

	resp := h.route(ctx, logger, req, path)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	if h.allowedOrigin != "" {
		resp.Headers["Access-Control-Allow-Origin"] = h.allowedOrigin
		resp.Headers["Access-Control-Allow-Headers"] = "Content-Type, " + correlationHeader
		resp.Headers["Access-Control-Allow-Methods"] = "GET, POST, OPTIONS"
		resp.Headers["Access-Control-Expose-Headers"] = correlationHeader
	}
	logger.InfoContext(ctx, "request handled", "status", resp.StatusCode)
	return resp, nil
}

func (h *Handler) route(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest, path string) events.APIGatewayProxyResponse {
	if req.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
	}

	switch {
	case path == "/health":
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(http.MethodGet)
		}
		return jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
	case path == "/brief":
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(http.MethodPost)
		}
		return h.handleBrief(ctx, logger, req)
	case path == "/chat":
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(http.MethodPost)
		}
		return h.handleChat(ctx, logger, req)
	case strings.HasPrefix(path, "/chat/"):
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(http.MethodGet)
		}
		sessionID := req.PathParameters["sessionId"]
		if sessionID == "" {
			sessionID = strings.TrimPrefix(path, "/chat/")
		}
		return h.handleTranscript(ctx, logger, sessionID)
	default:
		return jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "Not found"})
	}
}

func (h *Handler) handleBrief(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in briefRequest
	if err := decodeBody(req, &in); err != nil {
		logger.WarnContext(ctx, "invalid brief request body", "err", err)
		return invalidBody()
	}
	out, err := h.brief.Generate(ctx, usecase.BriefInput{
		BusinessName: in.BusinessName,
		Industry:     in.Industry,
		Vibe:         in.Vibe,
	})
	if err != nil {
		return h.errorResponse(ctx, logger, err)
	}
	return jsonResponse(http.StatusOK, briefResponse{
		Slogan:          out.Brief.Slogan,
		VisualDirection: out.Brief.VisualDirection,
		Strategy:        out.Brief.Strategy,
		Vibe:            string(out.Vibe),
	})
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := decodeBody(req, &in); err != nil {
		logger.WarnContext(ctx, "invalid chat request body", "err", err)
		return invalidBody()
	}
	out, err := h.chat.Send(ctx, usecase.ChatInput{SessionID: in.SessionID, Message: in.Message})
	if err != nil {
		return h.errorResponse(ctx, logger.With("session_id", in.SessionID), err)
	}
	return jsonResponse(http.StatusOK, chatResponse{
		SessionID:  out.SessionID,
		Reply:      out.Reply,
		Transcript: out.Transcript,
		Ignored:    out.Ignored,
	})
}

func (h *Handler) handleTranscript(ctx context.Context, logger *slog.Logger, sessionID string) events.APIGatewayProxyResponse {
	turns, err := h.chat.Transcript(ctx, sessionID)
	if err != nil {
		return h.errorResponse(ctx, logger.With("session_id", sessionID), err)
	}
	return jsonResponse(http.StatusOK, transcriptResponse{SessionID: sessionID, Transcript: turns})
}

func (h *Handler) errorResponse(ctx context.Context, logger *slog.Logger, err error) events.APIGatewayProxyResponse {
	code := usecase.ErrorInternal
	reason := "unexpected_error"
	message := msgGeneric
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
		reason = ucErr.Reason
		if ucErr.Message != "" {
			message = ucErr.Message
		}
	}
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(ctx, "request failed", "code", code, "reason", reason, "err", err)
	} else {
		logger.WarnContext(ctx, "request rejected", "code", code, "reason", reason)
	}
	return jsonResponse(status, errorResponse{Error: string(code), Message: message})
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorSessionBusy:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream, usecase.ErrorEmptyResponse:
		return http.StatusBadGateway
	case usecase.ErrorConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(req events.APIGatewayProxyRequest, v any) error {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return fmt.Errorf("decode base64 body: %w", err)
		}
		body = decoded
	}
	if len(body) > maxBodyBytes {
		return errors.New("body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode body: trailing data")
	}
	return nil
}

func invalidBody() events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusBadRequest, errorResponse{
		Error:   string(usecase.ErrorInvalidInput),
		Message: "Invalid request body",
	})
}

func methodNotAllowed(allow string) events.APIGatewayProxyResponse {
	resp := jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED", Message: "Method not allowed"})
	resp.Headers["Allow"] = allow
	return resp
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"` + msgGeneric + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
