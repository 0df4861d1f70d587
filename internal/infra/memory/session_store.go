package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"quiz-attempt-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore.
// The Fail* fields inject backend errors; the counters record calls.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*storedSession
	now      func() time.Time

	FailCreate   error
	FailAppend   error
	FailComplete error
	FailFetch    error

	creates   int
	appends   int
	completes int
}

type storedSession struct {
	session    domain.StoredSession
	percentage int
	answerLog  []domain.AnswerRecord
	answers    []domain.AnswerRecord
	createdAt  time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*storedSession),
		now:      time.Now,
	}
}

func (s *SessionStore) CreateSession(_ context.Context, firstName, lastName string, totalQuestions int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.FailCreate != nil {
		return "", s.FailCreate
	}
	id := uuid.NewString()
	s.sessions[id] = &storedSession{
		session: domain.StoredSession{
			ID:             id,
			FirstName:      firstName,
			LastName:       lastName,
			TotalQuestions: totalQuestions,
		},
		createdAt: s.now(),
	}
	return id, nil
}

func (s *SessionStore) AppendAnswer(_ context.Context, sessionID string, answer domain.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appends++
	if s.FailAppend != nil {
		return s.FailAppend
	}
	row, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	row.answerLog = append(row.answerLog, answer)
	return nil
}

func (s *SessionStore) CompleteSession(_ context.Context, sessionID string, completion domain.SessionCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
	if s.FailComplete != nil {
		return s.FailComplete
	}
	row, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	completedAt := completion.CompletedAt
	row.session.Score = completion.Score
	row.session.TotalQuestions = completion.TotalQuestions
	row.session.CompletedAt = &completedAt
	row.percentage = completion.Percentage
	row.answers = slices.Clone(completion.Answers)
	return nil
}

func (s *SessionStore) FetchSession(_ context.Context, sessionID string) (domain.StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailFetch != nil {
		return domain.StoredSession{}, s.FailFetch
	}
	row, ok := s.sessions[sessionID]
	if !ok {
		return domain.StoredSession{}, domain.ErrSessionNotFound
	}
	return row.session, nil
}

// Delete drops a session row, as an operator clearing the backend would.
func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// AnswerLog returns the rows appended for a session, in arrival order.
func (s *SessionStore) AnswerLog(sessionID string) []domain.AnswerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.sessions[sessionID]; ok {
		return slices.Clone(row.answerLog)
	}
	return nil
}

// Percentage returns the percentage recorded at completion.
func (s *SessionStore) Percentage(sessionID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.sessions[sessionID]; ok {
		return row.percentage
	}
	return 0
}

// Calls returns how many create, append and complete calls were made.
func (s *SessionStore) Calls() (creates, appends, completes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creates, s.appends, s.completes
}
