package usecase

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"studio-agent/internal/domain"
)

// LLMClient is the provider boundary shared by the brief and chat services.
type LLMClient interface {
	GenerateStructured(ctx context.Context, model, prompt string, schema domain.ResponseSchema) (string, error)
	Chat(ctx context.Context, model, systemInstruction string, history []domain.ChatTurn, message string) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// classifyProviderError maps a provider failure onto a code and log reason.
func classifyProviderError(err error) (ErrorCode, string) {
	if errors.Is(err, domain.ErrCredentialMissing) {
		return ErrorConfiguration, "credential_missing"
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return ErrorRateLimited, "provider_rate_limited"
	}
	return ErrorUpstream, "provider_error"
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
