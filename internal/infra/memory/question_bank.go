package memory

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
	"quiz-attempt-service/internal/domain"
)

// QuestionLoader fetches the ordered question list from its source (file, database).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionBank loads the question list once and serves it from memory afterwards.
// Concurrent first calls share a single load; a failed load is retried on the next call.
type QuestionBank struct {
	loader QuestionLoader
	sf     singleflight.Group

	mu        sync.RWMutex
	questions []domain.Question
	loaded    bool
}

func NewQuestionBank(loader QuestionLoader) *QuestionBank {
	return &QuestionBank{loader: loader}
}

func (b *QuestionBank) Questions(ctx context.Context) ([]domain.Question, error) {
	b.mu.RLock()
	if b.loaded {
		questions := b.questions
		b.mu.RUnlock()
		return questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do("bank", func() (interface{}, error) {
		b.mu.RLock()
		if b.loaded {
			questions := b.questions
			b.mu.RUnlock()
			return questions, nil
		}
		b.mu.RUnlock()

		questions, err := b.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if err := domain.ValidateBank(questions); err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.questions = questions
		b.loaded = true
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// StaticLoader serves a fixed question list (useful for tests/demos).
type StaticLoader struct {
	questions []domain.Question
}

func NewStaticLoader(questions []domain.Question) *StaticLoader {
	return &StaticLoader{questions: questions}
}

func (l *StaticLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	return l.questions, nil
}
