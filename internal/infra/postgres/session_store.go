package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"quiz-attempt-service/internal/domain"
)

// SessionStore persists attempts in quiz_sessions (one row per attempt) and
// quiz_answers (one insert-only row per finalized question).
type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) CreateSession(ctx context.Context, firstName, lastName string, totalQuestions int) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (id, first_name, last_name, total_score, total_questions)
		 VALUES ($1, $2, $3, 0, $4)`,
		id, firstName, lastName, totalQuestions,
	)
	if err != nil {
		return "", fmt.Errorf("insert quiz session: %w", err)
	}
	return id, nil
}

func (s *SessionStore) AppendAnswer(ctx context.Context, sessionID string, answer domain.AnswerRecord) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return domain.ErrSessionNotFound
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_answers (session_id, question_id, question_text, selected_answer, correct_answer, is_correct)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sessionID, answer.QuestionID, answer.QuestionText, answer.SelectedAnswer, answer.CorrectAnswer, answer.IsCorrect,
	)
	if err != nil {
		return fmt.Errorf("insert quiz answer: %w", err)
	}
	return nil
}

func (s *SessionStore) CompleteSession(ctx context.Context, sessionID string, completion domain.SessionCompletion) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return domain.ErrSessionNotFound
	}
	answers := completion.Answers
	if answers == nil {
		answers = []domain.AnswerRecord{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE quiz_sessions
		 SET total_score = $2, total_questions = $3, percentage = $4, answers = $5::jsonb, completed_at = $6
		 WHERE id = $1`,
		sessionID, completion.Score, completion.TotalQuestions, completion.Percentage, string(raw), completion.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update quiz session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) FetchSession(ctx context.Context, sessionID string) (domain.StoredSession, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return domain.StoredSession{}, domain.ErrSessionNotFound
	}

	var (
		stored      domain.StoredSession
		completedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, first_name, last_name, total_score, total_questions, completed_at
		 FROM quiz_sessions WHERE id = $1`,
		sessionID,
	).Scan(&stored.ID, &stored.FirstName, &stored.LastName, &stored.Score, &stored.TotalQuestions, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StoredSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.StoredSession{}, fmt.Errorf("select quiz session: %w", err)
	}
	stored.CompletedAt = completedAt
	return stored, nil
}
