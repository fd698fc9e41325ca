// Package conversation keeps the per-user chat history for one session.
package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"policyrag/internal/domain"
)

// Session holds an append-only history of completed turns.
// Only the host that owns the session mutates it.
type Session struct {
	ID      string
	Started time.Time

	mu      sync.RWMutex
	history []domain.Turn
}

func NewSession() *Session {
	return &Session{ID: uuid.NewString(), Started: time.Now()}
}

// History returns a copy of the completed turns.
func (s *Session) History() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Turn(nil), s.history...)
}

// Commit records a finished exchange.
func (s *Session) Commit(query, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		domain.Turn{Role: domain.RoleUser, Content: query},
		domain.Turn{Role: domain.RoleAssistant, Content: answer},
	)
}

// Len returns the number of recorded turns.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Ask answers query with the current history. The exchange is committed
// only if the whole turn succeeded; a failed turn leaves history untouched.
func (s *Session) Ask(ctx context.Context, assistant domain.Assistant, query string) (string, error) {
	query = strings.TrimSpace(query)
	answer, err := assistant.Answer(ctx, query, s.History())
	if err != nil {
		return "", err
	}
	s.Commit(query, answer)
	return answer, nil
}
