package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"quiz-attempt-service/internal/domain"
)

// QuestionLoader loads a question bank stored as JSONB in Postgres.
type QuestionLoader struct {
	pool   *pgxpool.Pool
	bankID string
}

func NewQuestionLoader(pool *pgxpool.Pool, bankID string) *QuestionLoader {
	return &QuestionLoader{pool: pool, bankID: bankID}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_banks WHERE id=$1`, l.bankID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("load question bank %s: %w", l.bankID, err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal question bank: %w", err)
	}
	return questions, nil
}
