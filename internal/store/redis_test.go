package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/signalsfoundry/mission-runtime/model"
)

// redisStore skips unless a live server is provided, e.g.
// RUNTIME_TEST_REDIS_URL=redis://localhost:6379/15 go test ./internal/store
func redisStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("RUNTIME_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RUNTIME_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := redisStore(t)

	id := "test-" + uuid.NewString()
	t.Cleanup(func() { s.Delete(ctx, id) })

	sess := testSession(id)
	doc, err := s.Create(ctx, sess)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	if _, err := s.Create(ctx, sess); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create err = %v, want ErrExists", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Session.OwnerUID != sess.OwnerUID {
		t.Errorf("owner = %q, want %q", got.Session.OwnerUID, sess.OwnerUID)
	}

	sess.State.Status = model.StatusActive
	doc, err = s.Put(ctx, sess, 1)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if doc.Version != 2 {
		t.Errorf("version = %d, want 2", doc.Version)
	}
	if _, err := s.Put(ctx, sess, 1); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale put err = %v, want ErrVersionConflict", err)
	}
}

func TestRedisStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := redisStore(t)

	if _, err := s.Get(ctx, "test-missing-"+uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
