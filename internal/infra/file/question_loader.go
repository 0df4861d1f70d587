package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"quiz-attempt-service/internal/domain"
)

// QuestionLoader reads the question bank from a JSON file holding an ordered
// array of question records.
type QuestionLoader struct {
	path string
}

func NewQuestionLoader(path string) *QuestionLoader {
	return &QuestionLoader{path: path}
}

func (l *QuestionLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	var questions []domain.Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("decode question bank %s: %w", l.path, err)
	}
	return questions, nil
}
