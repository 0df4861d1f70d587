package app

import (
	"context"

	"quiz-attempt-service/internal/domain"
)

// SessionStore is the narrow contract to the remote persistence backend.
type SessionStore interface {
	CreateSession(ctx context.Context, firstName, lastName string, totalQuestions int) (string, error)
	AppendAnswer(ctx context.Context, sessionID string, answer domain.AnswerRecord) error
	CompleteSession(ctx context.Context, sessionID string, completion domain.SessionCompletion) error
	FetchSession(ctx context.Context, sessionID string) (domain.StoredSession, error)
}

// CompletionMarker is a single durable slot holding the id of the session this
// device has completed. Get reports ok=false when the slot is empty.
type CompletionMarker interface {
	Get(ctx context.Context) (sessionID string, ok bool, err error)
	Set(ctx context.Context, sessionID string) error
	Clear(ctx context.Context) error
}

// MarkerProvider hands out the completion marker for a device.
type MarkerProvider interface {
	ForDevice(deviceID string) CompletionMarker
}

// QuestionBank returns the ordered question list. Implementations load once.
type QuestionBank interface {
	Questions(ctx context.Context) ([]domain.Question, error)
}
