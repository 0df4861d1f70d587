package app

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"quiz-attempt-service/internal/domain"
)

// DefaultDuration is the fixed time budget for one attempt.
const DefaultDuration = 20 * time.Minute

// QuestionView is the current question as shown to the participant, without its answer.
type QuestionView struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Snapshot is a read-only copy of an attempt's state.
type Snapshot struct {
	SessionID            string                `json:"sessionId,omitempty"`
	Phase                domain.Phase          `json:"phase"`
	FirstName            string                `json:"firstName,omitempty"`
	LastName             string                `json:"lastName,omitempty"`
	QuestionIndex        int                   `json:"questionIndex"`
	TotalQuestions       int                   `json:"totalQuestions"`
	Question             *QuestionView         `json:"question,omitempty"`
	SelectedAnswer       string                `json:"selectedAnswer,omitempty"`
	Score                int                   `json:"score"`
	Percentage           int                   `json:"percentage"`
	Answers              []domain.AnswerRecord `json:"-"`
	TimeRemainingSeconds int                   `json:"timeRemainingSeconds"`
	TimerRunning         bool                  `json:"timerRunning"`
	TimeExpired          bool                  `json:"timeExpired"`
}

type sessionState struct {
	sessionID      string
	participant    domain.Participant
	phase          domain.Phase
	questionIndex  int
	selectedAnswer string
	correctAnswer  string
	score          int
	percentage     int
	answers        []domain.AnswerRecord
	timeRemaining  int
	timerRunning   bool
	timeExpired    bool
}

// MachineOption customizes a Machine.
type MachineOption func(*Machine)

// WithDuration overrides the attempt time budget. It is rounded down to whole ticks.
func WithDuration(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithClock sets the clock used for completion timestamps.
func WithClock(now func() time.Time) MachineOption {
	return func(m *Machine) {
		m.now = now
	}
}

// WithTickSource replaces the one-second wall-clock ticker, mainly for tests.
func WithTickSource(source TickSource) MachineOption {
	return func(m *Machine) {
		m.ticks = source
	}
}

// Machine is the quiz attempt state machine. All mutation goes through its
// methods, each of which re-checks the phase under the lock, so re-entrant or
// late calls become no-ops that return an error instead of corrupting state.
type Machine struct {
	questions []domain.Question
	store     SessionStore
	marker    CompletionMarker
	log       zerolog.Logger
	now       func() time.Time
	duration  time.Duration
	interval  time.Duration
	ticks     TickSource

	mu          sync.Mutex
	state       sessionState
	countdown   *Countdown
	subscribers map[chan Snapshot]struct{}
	done        chan struct{}
	closed      bool

	writes sync.WaitGroup
}

// NewMachine builds a machine in the NotStarted phase over an already loaded bank.
func NewMachine(questions []domain.Question, store SessionStore, marker CompletionMarker, log zerolog.Logger, opts ...MachineOption) *Machine {
	m := &Machine{
		questions:   questions,
		store:       store,
		marker:      marker,
		log:         log.With().Str("component", "machine").Logger(),
		now:         time.Now,
		duration:    DefaultDuration,
		interval:    time.Second,
		subscribers: make(map[chan Snapshot]struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TotalQuestions returns the bank size.
func (m *Machine) TotalQuestions() int {
	return len(m.questions)
}

// Phase returns the current phase.
func (m *Machine) Phase() domain.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.phase
}

// Done is closed once the attempt reaches Completed.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Start moves a fresh machine into InProgress for the given session and starts the countdown.
func (m *Machine) Start(handle domain.SessionHandle) error {
	if handle.SessionID == "" {
		return domain.ErrInvalidHandle
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state.phase != domain.PhaseNotStarted {
		m.log.Warn().Stringer("phase", m.state.phase).Msg("start rejected")
		return domain.ErrNotStarted
	}
	if len(m.questions) == 0 {
		m.log.Warn().Msg("start rejected: question bank not loaded")
		return domain.ErrBankNotLoaded
	}

	seconds := int(m.duration / m.interval)
	if seconds < 1 {
		seconds = 1
	}
	m.state = sessionState{
		sessionID:     handle.SessionID,
		participant:   handle.Participant,
		phase:         domain.PhaseInProgress,
		timeRemaining: seconds,
		timerRunning:  true,
	}
	m.countdown = StartCountdown(seconds, m.interval, m.ticks, m.onTick, m.onExpire)

	m.log.Info().Str("session_id", handle.SessionID).Int("seconds", seconds).Msg("attempt started")
	m.broadcastLocked()
	return nil
}

// SelectAnswer records option as the pending answer for the current question.
// Later calls overwrite earlier ones until the question is finalized.
func (m *Machine) SelectAnswer(option string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked() {
		return domain.ErrNotInProgress
	}
	q, ok := m.currentLocked()
	if !ok {
		m.log.Warn().Int("question_index", m.state.questionIndex).Msg("select with no active question")
		return domain.ErrNoActiveQuestion
	}
	if !q.HasOption(option) {
		return domain.ErrOptionNotFound
	}

	m.state.selectedAnswer = option
	m.state.correctAnswer = q.Answer
	m.broadcastLocked()
	return nil
}

// Advance finalizes the current question and moves to the next one. It never
// completes the attempt, even after the last question.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	if !m.activeLocked() {
		m.mu.Unlock()
		return domain.ErrNotInProgress
	}
	q, ok := m.currentLocked()
	if !ok {
		m.log.Warn().Int("question_index", m.state.questionIndex).Msg("advance with no active question")
		m.mu.Unlock()
		return domain.ErrNoActiveQuestion
	}
	if m.state.selectedAnswer == "" {
		m.mu.Unlock()
		return domain.ErrNoSelection
	}

	record := m.finalizeLocked(q)
	m.persistAnswerLocked(ctx, m.state.sessionID, record)
	m.broadcastLocked()
	m.mu.Unlock()
	return nil
}

// Complete finishes the attempt, finalizing a pending selection first. The
// local phase becomes Completed before the backend is contacted; a failed
// backend write is logged and the completion marker is left unset.
func (m *Machine) Complete(ctx context.Context) (Snapshot, error) {
	return m.finish(ctx, false)
}

// ForceCompleteOnTimeout is the countdown's completion path. An unanswered
// active question is finalized as incorrect with an empty selection.
func (m *Machine) ForceCompleteOnTimeout(ctx context.Context) (Snapshot, error) {
	return m.finish(ctx, true)
}

// RestoreCompleted shows a previously completed attempt without starting a new one.
func (m *Machine) RestoreCompleted(stored domain.StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state.phase != domain.PhaseNotStarted {
		return domain.ErrNotStarted
	}
	total := stored.TotalQuestions
	if total == 0 {
		total = len(m.questions)
	}
	m.state = sessionState{
		sessionID:   stored.ID,
		participant: domain.Participant{FirstName: stored.FirstName, LastName: stored.LastName},
		phase:       domain.PhaseCompleted,
		score:       stored.Score,
		percentage:  percentage(stored.Score, total),
	}
	close(m.done)
	m.broadcastLocked()
	return nil
}

// Restart is refused: an attempt can be taken only once.
func (m *Machine) Restart() error {
	m.log.Warn().Msg("restart refused")
	if m.Phase() == domain.PhaseCompleted {
		return domain.ErrAlreadyCompleted
	}
	return domain.ErrNotStarted
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every change and tick.
// The caller must invoke the returned cancel function to avoid leaks.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subscribers[ch] = struct{}{}
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subscribers[ch]; ok {
			delete(m.subscribers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

// Close tears the machine down: the countdown is cancelled, subscribers are
// released and in-flight backend writes are awaited. An unfinished attempt
// stays unfinished.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	countdown := m.countdown
	if countdown != nil {
		countdown.Stop()
	}
	m.state.timerRunning = false
	for ch := range m.subscribers {
		delete(m.subscribers, ch)
		close(ch)
	}
	m.mu.Unlock()

	if countdown != nil {
		countdown.Wait()
	}
	m.writes.Wait()
}

func (m *Machine) finish(ctx context.Context, timedOut bool) (Snapshot, error) {
	m.mu.Lock()
	// The phase check makes manual and timeout completion a compare-and-set:
	// whichever gets here first wins and the other returns ErrNotInProgress.
	if !m.activeLocked() {
		m.mu.Unlock()
		return Snapshot{}, domain.ErrNotInProgress
	}
	if len(m.questions) == 0 {
		m.log.Warn().Msg("complete with no question bank")
		m.mu.Unlock()
		return Snapshot{}, domain.ErrBankNotLoaded
	}

	sessionID := m.state.sessionID
	if q, ok := m.currentLocked(); ok && (m.state.selectedAnswer != "" || timedOut) {
		m.persistAnswerLocked(ctx, sessionID, m.finalizeLocked(q))
	}

	total := len(m.questions)
	m.state.percentage = percentage(m.state.score, total)
	m.state.phase = domain.PhaseCompleted
	m.state.timerRunning = false
	if timedOut {
		m.state.timeExpired = true
		m.state.timeRemaining = 0
	}
	if m.countdown != nil {
		m.countdown.Stop()
	}

	completion := domain.SessionCompletion{
		Score:          m.state.score,
		TotalQuestions: total,
		Percentage:     m.state.percentage,
		Answers:        slices.Clone(m.state.answers),
		CompletedAt:    m.now().UTC(),
	}
	snap := m.snapshotLocked()
	close(m.done)
	m.broadcastLocked()
	m.writes.Add(1)
	m.mu.Unlock()
	defer m.writes.Done()

	m.log.Info().
		Str("session_id", sessionID).
		Int("score", completion.Score).
		Int("percentage", completion.Percentage).
		Bool("timed_out", timedOut).
		Msg("attempt completed")

	m.persistCompletion(ctx, sessionID, completion)
	return snap, nil
}

// finalizeLocked turns the pending selection into an AnswerRecord, folds it
// into the score and moves to the next question.
func (m *Machine) finalizeLocked(q domain.Question) domain.AnswerRecord {
	selected := m.state.selectedAnswer
	record := domain.AnswerRecord{
		QuestionID:     q.ID,
		QuestionText:   q.Question,
		SelectedAnswer: selected,
		CorrectAnswer:  q.Answer,
		IsCorrect:      selected != "" && selected == q.Answer,
	}
	m.state.answers = append(m.state.answers, record)
	if record.IsCorrect {
		m.state.score++
	}
	m.state.selectedAnswer = ""
	m.state.correctAnswer = ""
	m.state.questionIndex++
	return record
}

// persistAnswerLocked appends the record in the background. The write is
// registered under the lock so Close always waits for it.
func (m *Machine) persistAnswerLocked(ctx context.Context, sessionID string, record domain.AnswerRecord) {
	ctx = context.WithoutCancel(ctx)
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()
		if err := m.store.AppendAnswer(ctx, sessionID, record); err != nil {
			m.log.Error().
				Err(fmt.Errorf("%w: %w", domain.ErrAnswerPersistFailed, err)).
				Str("session_id", sessionID).
				Str("question_id", record.QuestionID).
				Msg("append answer")
		}
	}()
}

func (m *Machine) persistCompletion(ctx context.Context, sessionID string, completion domain.SessionCompletion) {
	ctx = context.WithoutCancel(ctx)
	if err := m.store.CompleteSession(ctx, sessionID, completion); err != nil {
		m.log.Error().
			Err(fmt.Errorf("%w: %w", domain.ErrCompletionPersistFailed, err)).
			Str("session_id", sessionID).
			Msg("complete session")
		return
	}
	if err := m.marker.Set(ctx, sessionID); err != nil {
		m.log.Error().Err(err).Str("session_id", sessionID).Msg("set completion marker")
	}
}

func (m *Machine) onTick(remaining int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.activeLocked() || !m.state.timerRunning {
		return false
	}
	m.state.timeRemaining = remaining
	m.broadcastLocked()
	return true
}

func (m *Machine) onExpire() {
	if _, err := m.ForceCompleteOnTimeout(context.Background()); err != nil {
		m.log.Debug().Err(err).Msg("timer expired after completion")
	}
}

func (m *Machine) activeLocked() bool {
	return !m.closed && m.state.phase == domain.PhaseInProgress
}

func (m *Machine) currentLocked() (domain.Question, bool) {
	if m.state.questionIndex < 0 || m.state.questionIndex >= len(m.questions) {
		return domain.Question{}, false
	}
	return m.questions[m.state.questionIndex], true
}

func (m *Machine) broadcastLocked() {
	snap := m.snapshotLocked()
	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// Drop the oldest snapshot so a slow reader never blocks a transition.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:            m.state.sessionID,
		Phase:                m.state.phase,
		FirstName:            m.state.participant.FirstName,
		LastName:             m.state.participant.LastName,
		QuestionIndex:        m.state.questionIndex,
		TotalQuestions:       len(m.questions),
		SelectedAnswer:       m.state.selectedAnswer,
		Score:                m.state.score,
		Percentage:           m.state.percentage,
		Answers:              slices.Clone(m.state.answers),
		TimeRemainingSeconds: m.state.timeRemaining,
		TimerRunning:         m.state.timerRunning,
		TimeExpired:          m.state.timeExpired,
	}
	if m.state.phase == domain.PhaseInProgress {
		if q, ok := m.currentLocked(); ok {
			snap.Question = &QuestionView{
				ID:       q.ID,
				Question: q.Question,
				Options:  slices.Clone(q.Options),
			}
		}
	}
	return snap
}

func percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(total) * 100))
}
