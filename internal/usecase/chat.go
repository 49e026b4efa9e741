package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"studio-agent/internal/domain"
	"studio-agent/internal/metrics"
)

const (
	defaultMaxMessageLength = 500
	maxSessionIDLength      = 128
)

// SessionStore holds chat transcripts and the per-session submit guard.
type SessionStore interface {
	// BeginTurn moves an idle session to sending, appends user and returns the
	// transcript as it was before user was appended together with the lease
	// naming this turn as lock owner. A session that is already sending
	// yields domain.ErrSessionBusy.
	BeginTurn(ctx context.Context, sessionID string, user domain.ChatTurn) ([]domain.ChatTurn, string, error)
	// FinishTurn appends reply and moves the session back to idle if lease
	// still owns the lock; otherwise it yields domain.ErrLeaseLost.
	FinishTurn(ctx context.Context, sessionID, lease string, reply domain.ChatTurn) error
	GetTranscript(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
}

type ChatService struct {
	llm           LLMClient
	store         SessionStore
	model         string
	maxMessageLen int
	persona       string
	logger        *slog.Logger
}

type ChatInput struct {
	SessionID string
	Message   string
}

type ChatOutput struct {
	SessionID  string
	Reply      string
	Transcript []domain.ChatTurn
	Ignored    bool
}

func NewChatService(llm LLMClient, store SessionStore, model string, maxMessageLen int, logger *slog.Logger) (*ChatService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: chat model must not be empty")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		llm:           llm,
		store:         store,
		model:         model,
		maxMessageLen: maxMessageLen,
		persona:       buildPersonaInstruction(),
		logger:        logger,
	}, nil
}

// Send runs one chat turn. Provider failures never surface as errors: they
// are logged and replaced by a canned assistant reply so that every accepted
// user message is answered by exactly one assistant turn.
func (s *ChatService) Send(ctx context.Context, in ChatInput) (ChatOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if utf8.RuneCountInString(sessionID) > maxSessionIDLength {
		return ChatOutput{}, newError(ErrorInvalidInput, "invalid_session_id", "Invalid session", nil)
	}

	message := strings.TrimSpace(in.Message)
	if message == "" {
		metrics.ChatTurns.WithLabelValues("ignored").Inc()
		transcript := domain.GreetingTranscript()
		if sessionID != "" {
			var err error
			transcript, err = s.store.GetTranscript(ctx, sessionID)
			if err != nil {
				return ChatOutput{}, newError(ErrorInternal, "transcript_read_error", "", err)
			}
		}
		return ChatOutput{SessionID: sessionID, Transcript: transcript, Ignored: true}, nil
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long",
			fmt.Sprintf("Please keep your message under %d characters", s.maxMessageLen), nil)
	}

	if sessionID == "" {
		sessionID = newUUID()
	}
	logger := s.logger.With("session_id", sessionID)

	user := domain.ChatTurn{Role: domain.RoleUser, Text: message}
	prior, lease, err := s.store.BeginTurn(ctx, sessionID, user)
	if err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			metrics.ChatTurns.WithLabelValues("busy").Inc()
			return ChatOutput{}, newError(ErrorSessionBusy, "session_busy", "Please wait for the current reply", err)
		}
		return ChatOutput{}, newError(ErrorInternal, "begin_turn_error", "", err)
	}

	reply, err := s.answer(ctx, logger, sessionID, lease, prior, message)
	if err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			logger.WarnContext(ctx, "chat turn was taken over before its reply was stored", "err", err)
			return ChatOutput{}, newError(ErrorInternal, "lease_lost", "", err)
		}
		return ChatOutput{}, newError(ErrorInternal, "finish_turn_error", "", err)
	}

	transcript := make([]domain.ChatTurn, 0, len(prior)+2)
	transcript = append(transcript, prior...)
	transcript = append(transcript, user, reply)
	return ChatOutput{
		SessionID:  sessionID,
		Reply:      reply.Text,
		Transcript: transcript,
	}, nil
}

// answer produces the reply for an open turn and always closes the turn, even
// when the caller has gone away or the provider call panics. A panic closes
// the turn with the upstream failure reply before it propagates.
func (s *ChatService) answer(ctx context.Context, logger *slog.Logger, sessionID, lease string, prior []domain.ChatTurn, message string) (reply domain.ChatTurn, err error) {
	reply = domain.ChatTurn{Role: domain.RoleAssistant, Text: replyUpstreamFailure}
	defer func() {
		if finishErr := s.store.FinishTurn(context.WithoutCancel(ctx), sessionID, lease, reply); finishErr != nil {
			err = finishErr
		}
	}()
	reply = s.reply(ctx, logger, prior, message)
	return reply, nil
}

func (s *ChatService) reply(ctx context.Context, logger *slog.Logger, prior []domain.ChatTurn, message string) domain.ChatTurn {
	text, err := s.llm.Chat(ctx, s.model, s.persona, prior, message)
	switch {
	case errors.Is(err, domain.ErrCredentialMissing):
		metrics.ChatTurns.WithLabelValues("credential_missing").Inc()
		logger.WarnContext(ctx, "chat provider credential missing", "err", err)
		text = replyCredentialMissing
	case err != nil:
		code, reason := classifyProviderError(err)
		metrics.ChatTurns.WithLabelValues("upstream_error").Inc()
		logger.ErrorContext(ctx, "chat provider call failed", "code", code, "reason", reason, "err", err)
		text = replyUpstreamFailure
	case strings.TrimSpace(text) == "":
		metrics.ChatTurns.WithLabelValues("blank").Inc()
		text = replyBlank
	default:
		metrics.ChatTurns.WithLabelValues("success").Inc()
	}
	return domain.ChatTurn{Role: domain.RoleAssistant, Text: text}
}

// Transcript returns the session transcript. Unknown sessions yield the
// greeting alone.
func (s *ChatService) Transcript(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || utf8.RuneCountInString(sessionID) > maxSessionIDLength {
		return nil, newError(ErrorInvalidInput, "invalid_session_id", "Invalid session", nil)
	}
	transcript, err := s.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "transcript_read_error", "", err)
	}
	return transcript, nil
}
