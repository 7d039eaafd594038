package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/mission-runtime/model"
)

// RedisStore keeps one JSON document per session in Redis. Optimistic writes
// use WATCH so a competing writer turns into ErrVersionConflict instead of a
// lost update.
type RedisStore struct {
	client *redis.Client
}

// persistedDoc is the stored envelope: the version travels with the document.
type persistedDoc struct {
	Version int64          `json:"version"`
	Session *model.Session `json:"session"`
}

// NewRedisStore connects to Redis at the given URL and verifies the
// connection with a ping.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func sessionKey(id string) string { return "session:" + id }

// Get implements SessionStore.
func (s *RedisStore) Get(ctx context.Context, id string) (Doc, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Doc{}, fmt.Errorf("get session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Doc{}, fmt.Errorf("get session %q: %w", id, err)
	}
	return decodeDoc(id, raw)
}

// Create implements SessionStore.
func (s *RedisStore) Create(ctx context.Context, sess *model.Session) (Doc, error) {
	raw, err := json.Marshal(persistedDoc{Version: 1, Session: sess})
	if err != nil {
		return Doc{}, fmt.Errorf("encode session %q: %w", sess.ID, err)
	}
	ok, err := s.client.SetNX(ctx, sessionKey(sess.ID), raw, 0).Result()
	if err != nil {
		return Doc{}, fmt.Errorf("create session %q: %w", sess.ID, err)
	}
	if !ok {
		return Doc{}, fmt.Errorf("create session %q: %w", sess.ID, ErrExists)
	}
	return Doc{Session: sess.Clone(), Version: 1}, nil
}

// Put implements SessionStore.
func (s *RedisStore) Put(ctx context.Context, sess *model.Session, expectedVersion int64) (Doc, error) {
	key := sessionKey(sess.ID)
	var out Doc

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("put session %q: %w", sess.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		stored, err := decodeDoc(sess.ID, raw)
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return fmt.Errorf("put session %q at version %d (stored %d): %w",
				sess.ID, expectedVersion, stored.Version, ErrVersionConflict)
		}

		next := persistedDoc{Version: expectedVersion + 1, Session: sess}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session %q: %w", sess.ID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		if err != nil {
			return err
		}
		out = Doc{Session: sess.Clone(), Version: next.Version}
		return nil
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// The key changed under WATCH: another writer exists.
		return Doc{}, fmt.Errorf("put session %q: %w", sess.ID, ErrVersionConflict)
	}
	if err != nil {
		return Doc{}, err
	}
	return out, nil
}

// Delete implements SessionStore.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

func decodeDoc(id string, raw []byte) (Doc, error) {
	var pd persistedDoc
	if err := json.Unmarshal(raw, &pd); err != nil {
		return Doc{}, fmt.Errorf("decode session %q: %w", id, err)
	}
	if pd.Session == nil {
		return Doc{}, fmt.Errorf("decode session %q: empty document", id)
	}
	return Doc{Session: pd.Session, Version: pd.Version}, nil
}
