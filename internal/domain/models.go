package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Question is a single multiple-choice record from the question bank.
// Answer must equal one of Options.
type Question struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// UnmarshalJSON accepts both string and numeric question ids.
func (q *Question) UnmarshalJSON(data []byte) error {
	type plain Question
	var raw struct {
		plain
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*q = Question(raw.plain)
	switch id := bytes.TrimSpace(raw.ID); {
	case len(id) == 0 || bytes.Equal(id, []byte("null")):
		q.ID = ""
	case id[0] == '"':
		return json.Unmarshal(id, &q.ID)
	default:
		q.ID = string(id)
	}
	return nil
}

// HasOption reports whether option is one of the question's choices.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}

// AnswerRecord is the immutable result of finalizing one question.
type AnswerRecord struct {
	QuestionID     string `json:"questionId"`
	QuestionText   string `json:"questionText"`
	SelectedAnswer string `json:"selectedAnswer"`
	CorrectAnswer  string `json:"correctAnswer"`
	IsCorrect      bool   `json:"isCorrect"`
}

// Phase is the lifecycle stage of a quiz attempt. Phases only move forward.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseAuthorizing
	PhaseInProgress
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseAuthorizing:
		return "authorizing"
	case PhaseInProgress:
		return "in_progress"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// MarshalText lets phases appear by name in JSON payloads and logs.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Participant is a roster identity.
type Participant struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// SessionHandle is issued by the authorizer once a backend session exists.
type SessionHandle struct {
	SessionID   string
	Participant Participant
}

// StoredSession is what the backend reports for a session id.
type StoredSession struct {
	ID             string
	FirstName      string
	LastName       string
	Score          int
	TotalQuestions int
	CompletedAt    *time.Time
}

// Completed reports whether the backend has recorded a completion time.
func (s StoredSession) Completed() bool {
	return s.CompletedAt != nil
}

// SessionCompletion carries the final figures written when an attempt ends.
type SessionCompletion struct {
	Score          int
	TotalQuestions int
	Percentage     int
	Answers        []AnswerRecord
	CompletedAt    time.Time
}

// ValidateBank checks that every question is well formed: an id, a prompt,
// at least two distinct options and an answer that is one of them.
func ValidateBank(questions []Question) error {
	if len(questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidBank)
	}
	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return fmt.Errorf("%w: question %d has no id", ErrInvalidBank, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidBank, q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Question == "" {
			return fmt.Errorf("%w: question %q has no text", ErrInvalidBank, q.ID)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %q needs at least two options", ErrInvalidBank, q.ID)
		}
		options := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if _, dup := options[o]; dup || o == "" {
				return fmt.Errorf("%w: question %q has a blank or repeated option", ErrInvalidBank, q.ID)
			}
			options[o] = struct{}{}
		}
		if !q.HasOption(q.Answer) {
			return fmt.Errorf("%w: answer of question %q is not one of its options", ErrInvalidBank, q.ID)
		}
	}
	return nil
}
