package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"quiz-attempt-service/internal/app"
)

// MarkerStore keeps each device's completion marker in Redis:
//
//	SET quiz:device:{deviceID}:completed_session {sessionID}
//
// Keys never expire; a marker is only removed when reconciliation finds it stale.
type MarkerStore struct {
	client *redis.Client
}

func NewMarkerStore(client *redis.Client) *MarkerStore {
	return &MarkerStore{client: client}
}

func (s *MarkerStore) ForDevice(deviceID string) app.CompletionMarker {
	return &marker{client: s.client, key: markerKey(deviceID)}
}

func markerKey(deviceID string) string {
	return "quiz:device:" + deviceID + ":completed_session"
}

type marker struct {
	client *redis.Client
	key    string
}

func (m *marker) Get(ctx context.Context) (string, bool, error) {
	id, err := m.client.Get(ctx, m.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get completion marker: %w", err)
	}
	return id, id != "", nil
}

func (m *marker) Set(ctx context.Context, sessionID string) error {
	if err := m.client.Set(ctx, m.key, sessionID, 0).Err(); err != nil {
		return fmt.Errorf("set completion marker: %w", err)
	}
	return nil
}

func (m *marker) Clear(ctx context.Context) error {
	if err := m.client.Del(ctx, m.key).Err(); err != nil {
		return fmt.Errorf("clear completion marker: %w", err)
	}
	return nil
}
