package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"studio-agent/internal/domain"
)

type llmCall struct {
	model       string
	prompt      string
	schema      domain.ResponseSchema
	instruction string
	history     []domain.ChatTurn
	message     string
}

// mockLLM replies with fixed values and records every call.
type mockLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []llmCall
}

func (m *mockLLM) GenerateStructured(_ context.Context, model, prompt string, schema domain.ResponseSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, llmCall{model: model, prompt: prompt, schema: schema})
	return m.reply, m.err
}

func (m *mockLLM) Chat(_ context.Context, model, instruction string, history []domain.ChatTurn, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, llmCall{model: model, instruction: instruction, history: history, message: message})
	return m.reply, m.err
}

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) *Error {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
	return usecaseErr
}
