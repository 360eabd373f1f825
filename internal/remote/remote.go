// Package remote mirrors the roster to a shared store. Backends are swappable;
// the Adapter turns roster changes into best-effort background writes.
package remote

import (
	"context"
	"errors"
	"fmt"

	"rollcall/internal/roster"
)

// Backend is a shared persistent store addressed by event id.
type Backend interface {
	Name() string
	// WriteRecord upserts one participant, keeping its roster position when
	// it already exists.
	WriteRecord(ctx context.Context, eventID string, p roster.Participant) error
	DeleteRecord(ctx context.Context, eventID string, id int) error
	// WriteRoster overwrites the whole event with snapshot.
	WriteRoster(ctx context.Context, eventID string, snapshot roster.Snapshot) error
	// ReadRoster reports ok=false when nothing was ever written for eventID.
	ReadRoster(ctx context.Context, eventID string) (snapshot roster.Snapshot, ok bool, err error)
	DeleteAll(ctx context.Context, eventID string) error
	Ping(ctx context.Context) error
	Close() error
}

// Subscriber is implemented by backends that announce changes. Subscribe
// blocks until ctx is done, calling fn with the origin id of each writer.
type Subscriber interface {
	Subscribe(ctx context.Context, eventID string, fn func(origin string)) error
}

// ErrRemoteSync matches every RemoteSyncError.
var ErrRemoteSync = errors.New("remote sync failed")

// RemoteSyncError reports a failed push or pull. The local roster stays
// authoritative.
type RemoteSyncError struct {
	Op  string
	Err error
}

func (e *RemoteSyncError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteSyncError) Unwrap() error { return e.Err }

func (e *RemoteSyncError) Is(target error) bool { return target == ErrRemoteSync }

type originKey struct{}

// WithOrigin tags writes made with ctx so that subscribers can recognise
// their own changes.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}
