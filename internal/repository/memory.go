package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"studio-agent/internal/domain"
)

// MemoryStore keeps sessions in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.ChatSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.ChatSession)}
}

func (m *MemoryStore) BeginTurn(_ context.Context, sessionID string, user domain.ChatTurn) ([]domain.ChatTurn, string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, "", errEmptySessionID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		s = &domain.ChatSession{
			ID:         sessionID,
			Transcript: domain.GreetingTranscript(),
			State:      domain.SessionIdle,
		}
		m.sessions[sessionID] = s
	}
	if s.State == domain.SessionSending {
		return nil, "", domain.ErrSessionBusy
	}

	prior := cloneTurns(s.Transcript)
	s.Transcript = append(s.Transcript, user)
	s.State = domain.SessionSending
	s.Lease = uuid.NewString()
	return prior, s.Lease, nil
}

func (m *MemoryStore) FinishTurn(_ context.Context, sessionID, lease string, reply domain.ChatTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.State != domain.SessionSending {
		return domain.ErrSessionNotSending
	}
	if s.Lease != lease {
		return domain.ErrLeaseLost
	}
	s.Transcript = append(s.Transcript, reply)
	s.State = domain.SessionIdle
	s.Lease = ""
	return nil
}

func (m *MemoryStore) GetTranscript(_ context.Context, sessionID string) ([]domain.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return domain.GreetingTranscript(), nil
	}
	return cloneTurns(s.Transcript), nil
}

func cloneTurns(in []domain.ChatTurn) []domain.ChatTurn {
	out := make([]domain.ChatTurn, len(in))
	copy(out, in)
	return out
}
