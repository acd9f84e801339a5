package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis è il sottoinsieme di *redis.Client usato dallo StatusStore.
type Redis interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DeviceStatus è l'ultimo stato riportato da un sensore sul topic status.
type DeviceStatus struct {
	Status     map[string]any `json:"status"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// StatusStore tiene lo stato corrente dei sensori in Redis (hot state, TTL).
type StatusStore struct {
	rdb Redis
	ttl time.Duration
}

func NewStatusStore(rdb Redis, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StatusStore{rdb: rdb, ttl: ttl}
}

func statusKey(ownerID, deviceID string) string {
	return fmt.Sprintf("sensor:status:%s:%s", ownerID, deviceID)
}

func (s *StatusStore) Save(ctx context.Context, ownerID, deviceID string, status map[string]any, at time.Time) error {
	b, err := json.Marshal(DeviceStatus{Status: status, ReceivedAt: at.UTC()})
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	if err := s.rdb.Set(ctx, statusKey(ownerID, deviceID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("save status %s/%s: %w", ownerID, deviceID, err)
	}
	return nil
}

// Get ritorna nil se non c'è uno stato (mai ricevuto o scaduto).
func (s *StatusStore) Get(ctx context.Context, ownerID, deviceID string) (*DeviceStatus, error) {
	raw, err := s.rdb.Get(ctx, statusKey(ownerID, deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status %s/%s: %w", ownerID, deviceID, err)
	}
	var st DeviceStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode status %s/%s: %w", ownerID, deviceID, err)
	}
	return &st, nil
}

func (s *StatusStore) Delete(ctx context.Context, ownerID, deviceID string) error {
	if err := s.rdb.Del(ctx, statusKey(ownerID, deviceID)).Err(); err != nil {
		return fmt.Errorf("delete status %s/%s: %w", ownerID, deviceID, err)
	}
	return nil
}
