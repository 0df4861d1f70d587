package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/app"
)

// MarkerStore keeps one completion marker slot per device in memory.
type MarkerStore struct {
	mu    sync.RWMutex
	slots map[string]string
}

func NewMarkerStore() *MarkerStore {
	return &MarkerStore{slots: make(map[string]string)}
}

func (s *MarkerStore) ForDevice(deviceID string) app.CompletionMarker {
	return &marker{store: s, deviceID: deviceID}
}

type marker struct {
	store    *MarkerStore
	deviceID string
}

func (m *marker) Get(_ context.Context) (string, bool, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	id, ok := m.store.slots[m.deviceID]
	return id, ok, nil
}

func (m *marker) Set(_ context.Context, sessionID string) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.slots[m.deviceID] = sessionID
	return nil
}

func (m *marker) Clear(_ context.Context) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	delete(m.store.slots, m.deviceID)
	return nil
}
