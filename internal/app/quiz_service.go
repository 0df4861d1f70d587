package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"quiz-attempt-service/internal/domain"
)

// QuizService wires the bank, authorizer, backend and completion markers into
// per-connection attempts and tracks the live ones for shutdown.
type QuizService struct {
	bank       QuestionBank
	store      SessionStore
	markers    MarkerProvider
	authorizer *Authorizer
	log        zerolog.Logger
	opts       []MachineOption

	mu   sync.Mutex
	live map[*Attempt]struct{}
}

func NewQuizService(bank QuestionBank, store SessionStore, markers MarkerProvider, roster *Roster, log zerolog.Logger, opts ...MachineOption) *QuizService {
	return &QuizService{
		bank:       bank,
		store:      store,
		markers:    markers,
		authorizer: NewAuthorizer(roster, store, log),
		log:        log.With().Str("component", "quiz_service").Logger(),
		opts:       opts,
		live:       make(map[*Attempt]struct{}),
	}
}

// Attempt is one client's view of the quiz: a machine bound to a device's
// completion marker.
type Attempt struct {
	DeviceID string
	Machine  *Machine

	mu      sync.Mutex
	marker  CompletionMarker
	service *QuizService
}

// Open prepares an attempt for deviceID. A device that already completed the
// quiz gets a machine restored into the Completed phase.
func (s *QuizService) Open(ctx context.Context, deviceID string) (*Attempt, error) {
	questions, err := s.bank.Questions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load question bank: %w", err)
	}

	marker := s.markers.ForDevice(deviceID)
	machine := NewMachine(questions, s.store, marker, s.log.With().Str("device_id", deviceID).Logger(), s.opts...)

	stored, completed, err := s.authorizer.Reconcile(ctx, marker)
	if err != nil {
		s.log.Warn().Err(err).Str("device_id", deviceID).Msg("reconcile completion marker")
	} else if completed {
		if err := machine.RestoreCompleted(stored); err != nil {
			s.log.Warn().Err(err).Str("device_id", deviceID).Str("session_id", stored.ID).Msg("restore completed attempt")
		}
	}

	attempt := &Attempt{
		DeviceID: deviceID,
		Machine:  machine,
		marker:   marker,
		service:  s,
	}
	s.mu.Lock()
	s.live[attempt] = struct{}{}
	s.mu.Unlock()
	return attempt, nil
}

// Authorize validates the participant, opens a backend session and starts the
// machine. A second call after a successful start is rejected before any
// backend session is created.
func (a *Attempt) Authorize(ctx context.Context, firstName, lastName string) (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.Machine.Phase() {
	case domain.PhaseNotStarted:
	case domain.PhaseCompleted:
		return a.Machine.Snapshot(), domain.ErrAlreadyCompleted
	default:
		return a.Machine.Snapshot(), domain.ErrNotStarted
	}

	handle, err := a.service.authorizer.Authorize(ctx, a.marker, firstName, lastName, a.Machine.TotalQuestions())
	var completed *domain.AlreadyCompletedError
	if errors.As(err, &completed) {
		if rerr := a.Machine.RestoreCompleted(completed.Session); rerr != nil {
			a.service.log.Warn().Err(rerr).Str("device_id", a.DeviceID).Str("session_id", completed.Session.ID).Msg("restore completed attempt")
		}
		return a.Machine.Snapshot(), err
	}
	if err != nil {
		return a.Machine.Snapshot(), err
	}

	if err := a.Machine.Start(handle); err != nil {
		return a.Machine.Snapshot(), err
	}
	return a.Machine.Snapshot(), nil
}

// Close tears down the attempt's machine and forgets it.
func (a *Attempt) Close() {
	a.Machine.Close()
	a.service.mu.Lock()
	delete(a.service.live, a)
	a.service.mu.Unlock()
}

// Shutdown closes every live attempt.
func (s *QuizService) Shutdown() {
	s.mu.Lock()
	attempts := make([]*Attempt, 0, len(s.live))
	for a := range s.live {
		attempts = append(attempts, a)
	}
	s.mu.Unlock()

	for _, a := range attempts {
		a.Close()
	}
	s.log.Info().Int("attempts", len(attempts)).Msg("live attempts closed")
}

// Live returns the number of open attempts.
func (s *QuizService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
