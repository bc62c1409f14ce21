package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the store implementation cannot find a
	// session for a given id, or the session it found has expired.
	ErrNotFound = errors.New("store: session not found")

	// ErrCantDecode is returned when a store adaptor cannot decode the store
	// format back into a Session.
	ErrCantDecode = errors.New("store: can't decode session")

	// ErrCantEncode is returned when a store adaptor cannot encode a Session
	// into the format that the store uses.
	ErrCantEncode = errors.New("store: can't encode session")

	// ErrBadConfig is returned when a store adaptor's configuration is invalid.
	ErrBadConfig = errors.New("store: configuration is invalid")
)

// Session is one issued slider challenge awaiting verification. The store
// exclusively owns session state; every other component refers to a session
// by its id only.
type Session struct {
	ID         string    `json:"id"`         // opaque token from crypto/rand, the only external reference
	Background string    `json:"background"` // asset ref of the background image
	Puzzle     string    `json:"puzzle"`     // asset ref of the puzzle shape cutout
	TargetX    int       `json:"targetX"`    // correct horizontal placement in canvas pixels
	TargetY    int       `json:"targetY"`    // correct vertical placement in canvas pixels
	CreatedAt  time.Time `json:"createdAt"`
	Attempts   int       `json:"attempts"`
}

// Interface defines the calls slidegate uses for session storage in a local
// or remote datastore. This can be implemented with an in-memory, on-disk,
// or in-database storage backend.
//
// Increment is the concurrency-critical call: two verification requests
// racing on the same session id must each observe a distinct attempt count,
// so backends must make the read-increment-write a single atomic unit.
type Interface interface {
	// Create inserts a session under its id with the given time to live.
	// The caller guarantees id uniqueness.
	Create(ctx context.Context, s *Session, ttl time.Duration) error

	// Get returns a session assuming it exists and has not expired.
	Get(ctx context.Context, id string) (Session, error)

	// Increment atomically adds one to the session's attempt counter and
	// returns the post-increment count.
	Increment(ctx context.Context, id string) (int, error)

	// Delete removes a session by id and reports whether this call
	// removed it. Deleting a session that does not exist is not an
	// error, it reports false. Callers that consume a session on
	// success must only grant that success when their own Delete
	// removed the record, so two racing consumers cannot both win.
	Delete(ctx context.Context, id string) (bool, error)

	// Sweep removes every expired session and reports how many it removed.
	// Backends with server-side expiry may report zero.
	Sweep(ctx context.Context) (int, error)
}
