package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

// threeQuestions has correct answers A, B, C in order.
func threeQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Question: "First?", Options: []string{"A", "B", "C", "X"}, Answer: "A"},
		{ID: "q2", Question: "Second?", Options: []string{"A", "B", "C", "X"}, Answer: "B"},
		{ID: "q3", Question: "Third?", Options: []string{"A", "B", "C", "X"}, Answer: "C"},
	}
}

// manualTicks is a TickSource driven by the test.
type manualTicks struct {
	ch chan time.Time
}

func newManualTicks() *manualTicks {
	return &manualTicks{ch: make(chan time.Time)}
}

func (m *manualTicks) source(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func (m *manualTicks) tick(t *testing.T) {
	t.Helper()
	select {
	case m.ch <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatalf("tick was not consumed")
	}
}

type fixture struct {
	store   *memory.SessionStore
	markers *memory.MarkerStore
	ticks   *manualTicks
}

func newFixture() *fixture {
	return &fixture{
		store:   memory.NewSessionStore(),
		markers: memory.NewMarkerStore(),
		ticks:   newManualTicks(),
	}
}

// machine returns a started machine with a fresh backend session.
func (f *fixture) machine(t *testing.T, duration time.Duration) *app.Machine {
	t.Helper()
	id, err := f.store.CreateSession(context.Background(), "Anna", "Kovalenko", 3)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	m := app.NewMachine(threeQuestions(), f.store, f.markers.ForDevice("device-1"), zerolog.Nop(),
		app.WithDuration(duration),
		app.WithTickSource(f.ticks.source),
	)
	if err := m.Start(domain.SessionHandle{SessionID: id, Participant: domain.Participant{FirstName: "Anna", LastName: "Kovalenko"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func (f *fixture) service() *app.QuizService {
	bank := memory.NewQuestionBank(memory.NewStaticLoader(threeQuestions()))
	return app.NewQuizService(bank, f.store, f.markers, app.DefaultRoster(), zerolog.Nop(),
		app.WithDuration(time.Hour),
		app.WithTickSource(f.ticks.source),
	)
}

func waitDone(t *testing.T, m *app.Machine) {
	t.Helper()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("machine did not complete")
	}
}

func mustSelect(t *testing.T, m *app.Machine, option string) {
	t.Helper()
	if err := m.SelectAnswer(option); err != nil {
		t.Fatalf("select %q: %v", option, err)
	}
}

func mustAdvance(t *testing.T, m *app.Machine) {
	t.Helper()
	if err := m.Advance(context.Background()); err != nil {
		t.Fatalf("advance: %v", err)
	}
}
