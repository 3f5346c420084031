// Package store persists session snapshots so the presentation layer can read
// them without touching live sessions, and so they outlive the process.
package store

import (
	"context"
	"errors"
	"sort"

	"payflow/pkg/reconcile"
)

// ErrNotFound is returned by Load for unknown session identifiers.
var ErrNotFound = errors.New("store: session not found")

// Store holds the latest snapshot of each session.
//
// Save must never replace a snapshot with an older one (by UpdatedAt), so
// out-of-order writes cannot make a session appear to move backwards.
type Store interface {
	Save(ctx context.Context, snap reconcile.Snapshot) error
	Load(ctx context.Context, sessionID string) (*reconcile.Snapshot, error)
	List(ctx context.Context) ([]reconcile.Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
	Name() string
	Close() error
}

// IsNotFound reports whether err means the session is not stored.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SortNewestFirst orders snapshots by start time, newest first.
func SortNewestFirst(snaps []reconcile.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
}
