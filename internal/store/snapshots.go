package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"comic-studio/backend/internal/studio"
)

const (
	snapshotPrefix     = "studio:session:"
	DefaultSnapshotTTL = 24 * time.Hour
)

// RedisOptions configure the snapshot store connection
type RedisOptions struct {
	URL      string
	Password string
	DB       int
	TTL      time.Duration
}

// SnapshotStore keeps session snapshots in Redis
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to Redis. URL may be a redis:// URL or host:port.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	if strings.HasPrefix(opts.URL, "redis://") || strings.HasPrefix(opts.URL, "rediss://") {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		if opts.Password != "" {
			parsed.Password = opts.Password
		}
		return redis.NewClient(parsed), nil
	}

	addr := opts.URL
	if addr == "" {
		addr = "localhost:6379"
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

// NewSnapshotStore wraps a Redis client
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

// SaveSnapshot stores snap, replacing any previous one for the session
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *studio.Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, snapshotKey(snap.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot or nil when there is none
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (*studio.Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return DecodeSnapshot(data)
}

// DeleteSnapshot removes a stored snapshot
func (s *SnapshotStore) DeleteSnapshot(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, snapshotKey(sessionID)).Err()
}

// Ping checks the connection
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

// EncodeSnapshot serializes a snapshot for storage
func EncodeSnapshot(snap *studio.Snapshot) ([]byte, error) {
	if snap == nil || snap.SessionID == "" {
		return nil, errors.New("snapshot requires a session id")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a stored snapshot
func DecodeSnapshot(data []byte) (*studio.Snapshot, error) {
	var snap studio.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func snapshotKey(sessionID string) string {
	return snapshotPrefix + sessionID
}
