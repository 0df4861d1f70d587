package app_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func TestThreeQuestionScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	m := f.machine(t, time.Hour)

	mustSelect(t, m, "A")
	mustAdvance(t, m)
	mustSelect(t, m, "X")
	mustAdvance(t, m)
	mustSelect(t, m, "C")

	snap, err := m.Complete(ctx)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if snap.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s", snap.Phase)
	}
	if snap.Score != 2 || snap.Percentage != 67 {
		t.Fatalf("expected score 2 and 67%%, got %d and %d%%", snap.Score, snap.Percentage)
	}
	if len(snap.Answers) != 3 || !snap.Answers[2].IsCorrect || snap.Answers[1].IsCorrect {
		t.Fatalf("unexpected answers %+v", snap.Answers)
	}
	if snap.QuestionIndex != len(snap.Answers) {
		t.Fatalf("expected question index %d, got %d", len(snap.Answers), snap.QuestionIndex)
	}

	m.Close()
	if log := f.store.AnswerLog(snap.SessionID); len(log) != 3 {
		t.Fatalf("expected 3 answer rows, got %d", len(log))
	}
	stored, err := f.store.FetchSession(ctx, snap.SessionID)
	if err != nil || !stored.Completed() || stored.Score != 2 {
		t.Fatalf("expected completed backend session with score 2, got %+v (%v)", stored, err)
	}
	if got := f.store.Percentage(snap.SessionID); got != 67 {
		t.Fatalf("expected stored percentage 67, got %d", got)
	}
	if id, ok, _ := f.markers.ForDevice("device-1").Get(ctx); !ok || id != snap.SessionID {
		t.Fatalf("expected completion marker %s, got %q", snap.SessionID, id)
	}
}

func TestLastSelectionWins(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Hour)

	for _, option := range []string{"B", "X", "C", "A", "X"} {
		mustSelect(t, m, option)
	}
	mustAdvance(t, m)

	snap := m.Snapshot()
	if len(snap.Answers) != 1 {
		t.Fatalf("expected one answer, got %d", len(snap.Answers))
	}
	if got := snap.Answers[0]; got.SelectedAnswer != "X" || got.IsCorrect || got.CorrectAnswer != "A" {
		t.Fatalf("expected last selection X recorded as wrong, got %+v", got)
	}
	if snap.SelectedAnswer != "" || snap.QuestionIndex != 1 {
		t.Fatalf("expected cleared selection on question 1, got %+v", snap)
	}
}

func TestAdvanceWithoutSelectionIsNoop(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Hour)

	before := m.Snapshot()
	if err := m.Advance(context.Background()); !errors.Is(err, domain.ErrNoSelection) {
		t.Fatalf("expected no selection error, got %v", err)
	}
	after := m.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed on rejected advance:\n%+v\n%+v", before, after)
	}
}

func TestSelectRejectsUnknownOption(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Hour)

	if err := m.SelectAnswer("Z"); !errors.Is(err, domain.ErrOptionNotFound) {
		t.Fatalf("expected option error, got %v", err)
	}
	if snap := m.Snapshot(); snap.SelectedAnswer != "" {
		t.Fatalf("expected no selection, got %q", snap.SelectedAnswer)
	}
}

func TestAdvanceNeverAutoCompletes(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Hour)

	for _, option := range []string{"A", "B", "C"} {
		mustSelect(t, m, option)
		mustAdvance(t, m)
	}
	snap := m.Snapshot()
	if snap.Phase != domain.PhaseInProgress || snap.QuestionIndex != 3 || snap.Question != nil {
		t.Fatalf("expected in-progress past the last question, got %+v", snap)
	}
	if err := m.Advance(context.Background()); !errors.Is(err, domain.ErrNoActiveQuestion) {
		t.Fatalf("expected no active question, got %v", err)
	}

	done, err := m.Complete(context.Background())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Score != 3 || done.Percentage != 100 || len(done.Answers) != 3 {
		t.Fatalf("unexpected final snapshot %+v", done)
	}
}

func TestCompleteSucceedsLocallyWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	m := f.machine(t, time.Hour)
	f.store.FailComplete = errors.New("connection reset")
	f.store.FailAppend = errors.New("connection reset")

	mustSelect(t, m, "A")
	snap, err := m.Complete(ctx)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if snap.Phase != domain.PhaseCompleted || m.Phase() != domain.PhaseCompleted {
		t.Fatalf("expected local completion despite backend failure")
	}
	if snap.Score != 1 || len(snap.Answers) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	m.Close()
	if _, ok, _ := f.markers.ForDevice("device-1").Get(ctx); ok {
		t.Fatalf("marker must not be written when completion was not persisted")
	}
	stored, _ := f.store.FetchSession(ctx, snap.SessionID)
	if stored.Completed() {
		t.Fatalf("backend should still show the session as open")
	}
}

func TestTimeoutFinalizesUnansweredQuestion(t *testing.T) {
	f := newFixture()
	m := f.machine(t, 3*time.Second)

	mustSelect(t, m, "A")
	mustAdvance(t, m)

	for i := 0; i < 3; i++ {
		f.ticks.tick(t)
	}
	waitDone(t, m)
	m.Close()

	snap := m.Snapshot()
	if snap.Phase != domain.PhaseCompleted || !snap.TimeExpired || snap.TimerRunning {
		t.Fatalf("expected expired completion, got %+v", snap)
	}
	if snap.Score != 1 || len(snap.Answers) != 2 {
		t.Fatalf("expected score 1 with 2 answers, got %d / %d", snap.Score, len(snap.Answers))
	}
	if q2 := snap.Answers[1]; q2.SelectedAnswer != "" || q2.IsCorrect || q2.QuestionID != "q2" {
		t.Fatalf("expected q2 finalized as unanswered, got %+v", q2)
	}
	if snap.Percentage != 33 {
		t.Fatalf("expected 33%%, got %d", snap.Percentage)
	}
	if _, _, completes := f.store.Calls(); completes != 1 {
		t.Fatalf("expected one completion write, got %d", completes)
	}
}

func TestTimeoutUsesPendingSelection(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Second)

	mustSelect(t, m, "A")
	f.ticks.tick(t)
	waitDone(t, m)

	snap := m.Snapshot()
	if len(snap.Answers) != 1 || !snap.Answers[0].IsCorrect || snap.Score != 1 {
		t.Fatalf("expected pending selection to count, got %+v", snap)
	}
}

func TestTicksUpdateRemainingTime(t *testing.T) {
	f := newFixture()
	m := f.machine(t, 5*time.Second)

	updates, cancel := m.Subscribe()
	defer cancel()

	f.ticks.tick(t)
	f.ticks.tick(t)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.TimeRemainingSeconds == 3 {
				if !snap.TimerRunning || snap.Phase != domain.PhaseInProgress {
					t.Fatalf("unexpected snapshot %+v", snap)
				}
				return
			}
		case <-deadline:
			t.Fatalf("never saw 3 seconds remaining")
		}
	}
}

func TestManualCompleteStopsTimer(t *testing.T) {
	f := newFixture()
	m := f.machine(t, 2*time.Second)

	f.ticks.tick(t)
	if _, err := m.Complete(context.Background()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Close waits for the countdown goroutine; it must exit without further ticks.
	closed := make(chan struct{})
	go func() {
		m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("countdown kept running after completion")
	}

	if _, err := m.ForceCompleteOnTimeout(context.Background()); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("expected late timeout to be a no-op, got %v", err)
	}
	if _, _, completes := f.store.Calls(); completes != 1 {
		t.Fatalf("expected exactly one completion write, got %d", completes)
	}
	if snap := m.Snapshot(); snap.TimeExpired {
		t.Fatalf("manual completion must not be marked expired")
	}
}

func TestConcurrentCompletionHappensOnce(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Hour)
	mustSelect(t, m, "A")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(timeout bool) {
			defer wg.Done()
			var err error
			if timeout {
				_, err = m.ForceCompleteOnTimeout(context.Background())
			} else {
				_, err = m.Complete(context.Background())
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()
	m.Close()

	if succeeded != 1 {
		t.Fatalf("expected exactly one completion, got %d", succeeded)
	}
	if _, appends, completes := f.store.Calls(); completes != 1 || appends != 1 {
		t.Fatalf("expected 1 append and 1 completion, got %d and %d", appends, completes)
	}
}

func TestCompletedMachineRejectsMutations(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	m := f.machine(t, time.Hour)
	mustSelect(t, m, "A")
	if _, err := m.Complete(ctx); err != nil {
		t.Fatalf("complete: %v", err)
	}
	before := m.Snapshot()

	if err := m.SelectAnswer("B"); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("select after completion: %v", err)
	}
	if err := m.Advance(ctx); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("advance after completion: %v", err)
	}
	if _, err := m.Complete(ctx); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("second complete: %v", err)
	}
	if err := m.Start(domain.SessionHandle{SessionID: "again"}); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("start after completion: %v", err)
	}
	if err := m.Restart(); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("restart after completion: %v", err)
	}
	if after := m.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Fatalf("completed state changed")
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	f := newFixture()
	m := f.machine(t, time.Hour)

	if err := m.Start(domain.SessionHandle{SessionID: "other"}); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected second start rejected, got %v", err)
	}
	if snap := m.Snapshot(); snap.SessionID == "other" {
		t.Fatalf("second start replaced the session")
	}
}

func TestMachineWithoutQuestions(t *testing.T) {
	f := newFixture()
	m := app.NewMachine(nil, f.store, f.markers.ForDevice("d"), zerolog.Nop())
	defer m.Close()

	if err := m.Start(domain.SessionHandle{SessionID: "s"}); !errors.Is(err, domain.ErrBankNotLoaded) {
		t.Fatalf("expected bank not loaded, got %v", err)
	}
	if err := m.Advance(context.Background()); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("expected advance rejected, got %v", err)
	}
	if _, err := m.Complete(context.Background()); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("expected complete rejected, got %v", err)
	}
	if m.Phase() != domain.PhaseNotStarted {
		t.Fatalf("phase moved without a bank")
	}
}

func TestCloseMidAttemptCancelsTimer(t *testing.T) {
	f := newFixture()
	m := f.machine(t, 2*time.Second)

	updates, cancel := m.Subscribe()
	defer cancel()
	<-updates // initial snapshot

	m.Close()

	for range updates {
	}
	snap := m.Snapshot()
	if snap.TimerRunning || snap.Phase != domain.PhaseInProgress {
		t.Fatalf("expected torn-down in-progress attempt, got %+v", snap)
	}
	if err := m.SelectAnswer("A"); !errors.Is(err, domain.ErrNotInProgress) {
		t.Fatalf("expected closed machine to reject select, got %v", err)
	}
	if _, _, completes := f.store.Calls(); completes != 0 {
		t.Fatalf("teardown must not complete the session")
	}
}

func TestRestoreCompleted(t *testing.T) {
	f := newFixture()
	m := app.NewMachine(threeQuestions(), f.store, f.markers.ForDevice("d"), zerolog.Nop())
	defer m.Close()

	at := time.Now()
	if err := m.RestoreCompleted(domain.StoredSession{ID: "s1", FirstName: "Ivan", LastName: "Petrenko", Score: 2, TotalQuestions: 3, CompletedAt: &at}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	select {
	case <-m.Done():
	default:
		t.Fatalf("expected done to be closed")
	}
	snap := m.Snapshot()
	if snap.Phase != domain.PhaseCompleted || snap.Score != 2 || snap.Percentage != 67 || snap.FirstName != "Ivan" {
		t.Fatalf("unexpected restored snapshot %+v", snap)
	}
	if err := m.Start(domain.SessionHandle{SessionID: "s2"}); !errors.Is(err, domain.ErrNotStarted) {
		t.Fatalf("expected start rejected on restored machine, got %v", err)
	}
}
