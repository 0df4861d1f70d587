package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"quiz-attempt-service/internal/domain"
)

// Authorizer gates entry into a quiz attempt: replay check, roster check, then
// backend session creation.
type Authorizer struct {
	roster *Roster
	store  SessionStore
	log    zerolog.Logger
}

func NewAuthorizer(roster *Roster, store SessionStore, log zerolog.Logger) *Authorizer {
	return &Authorizer{
		roster: roster,
		store:  store,
		log:    log.With().Str("component", "authorizer").Logger(),
	}
}

// Reconcile validates the device's completion marker against the backend.
// It returns the stored session and true when the device has a completed attempt.
// A marker whose session is missing or unfinished is cleared.
func (a *Authorizer) Reconcile(ctx context.Context, marker CompletionMarker) (domain.StoredSession, bool, error) {
	sessionID, ok, err := marker.Get(ctx)
	if err != nil {
		// The marker is only a hint; an unreadable slot is treated as empty.
		a.log.Warn().Err(err).Msg("read completion marker")
		return domain.StoredSession{}, false, nil
	}
	if !ok {
		return domain.StoredSession{}, false, nil
	}

	stored, err := a.store.FetchSession(ctx, sessionID)
	switch {
	case err == nil && stored.Completed():
		return stored, true, nil
	case err != nil && !errors.Is(err, domain.ErrSessionNotFound):
		return domain.StoredSession{}, false, fmt.Errorf("fetch marked session %s: %w", sessionID, err)
	}

	a.log.Info().Str("session_id", sessionID).Msg("clearing stale completion marker")
	if err := marker.Clear(ctx); err != nil {
		a.log.Warn().Err(err).Str("session_id", sessionID).Msg("clear completion marker")
	}
	return domain.StoredSession{}, false, nil
}

// Authorize validates the participant and opens a backend session sized for
// totalQuestions. A device that already completed the quiz gets an
// *domain.AlreadyCompletedError carrying the stored result.
func (a *Authorizer) Authorize(ctx context.Context, marker CompletionMarker, firstName, lastName string, totalQuestions int) (domain.SessionHandle, error) {
	participant := domain.Participant{
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	}
	if participant.FirstName == "" || participant.LastName == "" {
		return domain.SessionHandle{}, domain.ErrInvalidName
	}

	stored, completed, err := a.Reconcile(ctx, marker)
	if err != nil {
		return domain.SessionHandle{}, fmt.Errorf("%w: %w", domain.ErrSessionCreateFailed, err)
	}
	if completed {
		a.log.Warn().Str("session_id", stored.ID).Msg("replay attempt rejected")
		return domain.SessionHandle{}, &domain.AlreadyCompletedError{Session: stored}
	}

	if !a.roster.Contains(participant) {
		return domain.SessionHandle{}, domain.ErrNotOnRoster
	}

	sessionID, err := a.store.CreateSession(ctx, participant.FirstName, participant.LastName, totalQuestions)
	if err != nil {
		a.log.Error().Err(err).Msg("create session")
		return domain.SessionHandle{}, fmt.Errorf("%w: %w", domain.ErrSessionCreateFailed, err)
	}

	a.log.Info().Str("session_id", sessionID).Msg("participant authorized")
	return domain.SessionHandle{SessionID: sessionID, Participant: participant}, nil
}
