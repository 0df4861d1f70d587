package domain

import "errors"

var (
	// ErrNotOnRoster is returned when a name is not on the participant allow-list.
	ErrNotOnRoster = errors.New("participant not on roster")
	// ErrAlreadyCompleted is returned when this device has already finished an attempt.
	ErrAlreadyCompleted = errors.New("quiz already completed on this device")
	// ErrSessionCreateFailed wraps backend failures while opening a session.
	ErrSessionCreateFailed = errors.New("quiz session could not be created")
	// ErrAnswerPersistFailed wraps backend failures while appending an answer.
	ErrAnswerPersistFailed = errors.New("answer could not be persisted")
	// ErrCompletionPersistFailed wraps backend failures while closing a session.
	ErrCompletionPersistFailed = errors.New("session completion could not be persisted")
	// ErrSessionNotFound is returned by stores for unknown session ids.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrInvalidName is returned when a first or last name is blank.
	ErrInvalidName = errors.New("first and last name are required")

	ErrNotStarted       = errors.New("quiz attempt already started or finished")
	ErrNotInProgress    = errors.New("quiz attempt is not in progress")
	ErrBankNotLoaded    = errors.New("question bank is not loaded")
	ErrNoActiveQuestion = errors.New("no active question")
	ErrOptionNotFound   = errors.New("option not found for current question")
	ErrNoSelection      = errors.New("no answer selected")
	ErrInvalidHandle    = errors.New("session handle has no session id")
	ErrInvalidBank      = errors.New("invalid question bank")
)

// AlreadyCompletedError carries the stored result of the attempt that blocked a replay.
type AlreadyCompletedError struct {
	Session StoredSession
}

func (e *AlreadyCompletedError) Error() string {
	return ErrAlreadyCompleted.Error()
}

func (e *AlreadyCompletedError) Is(target error) bool {
	return target == ErrAlreadyCompleted
}
