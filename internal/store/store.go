// Package store provides durable storage for session documents. The session
// runtime is the only writer for a live session; optimistic versions exist
// to detect the split-brain case where that invariant is violated.
package store

import (
	"context"
	"errors"

	"github.com/signalsfoundry/mission-runtime/model"
)

var (
	// ErrNotFound indicates the session id is unknown to the store.
	ErrNotFound = errors.New("session not found")
	// ErrExists indicates a create collided with an existing document.
	ErrExists = errors.New("session already exists")
	// ErrVersionConflict indicates an optimistic write lost: the stored
	// version no longer matches what the writer last observed.
	ErrVersionConflict = errors.New("session version conflict")
)

// Doc pairs a session document with its storage version.
type Doc struct {
	Session *model.Session
	Version int64
}

// SessionStore is durable key/value storage for session documents.
type SessionStore interface {
	// Get loads a session document. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Doc, error)
	// Create stores a new document at version 1. Returns ErrExists when the
	// id is taken.
	Create(ctx context.Context, sess *model.Session) (Doc, error)
	// Put replaces the document if the stored version still equals
	// expectedVersion, returning the new Doc. Returns ErrVersionConflict
	// otherwise and ErrNotFound when the document vanished.
	Put(ctx context.Context, sess *model.Session, expectedVersion int64) (Doc, error)
	// Delete removes a document. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error
}
