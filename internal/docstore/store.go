// Package docstore talks to the service that owns document persistence.
//
// The collaboration core only ever needs two calls: fetch the latest text and
// version of a document when a room opens, and save text at a version when a
// room flushes. Implementations cover Postgres, a local bbolt file, the HTTP
// document service, and memory.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the document does not exist yet.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means the store already holds a newer version.
	ErrConflict = errors.New("document version conflict")
)

// Credentials identify the caller to the document store. Token is the
// bearer token presented by the connection that triggered the call.
type Credentials struct {
	UserID string
	Token  string
}

// Document is a stored snapshot.
type Document struct {
	ID      string
	Text    string
	Version int
}

// Store is the document-store collaborator.
type Store interface {
	// Fetch returns the latest snapshot or ErrNotFound.
	Fetch(ctx context.Context, docID string, creds Credentials) (Document, error)
	// Save stores text at version. It returns ErrConflict when the stored
	// version is already newer than version.
	Save(ctx context.Context, docID, text string, version int, creds Credentials) error
	Close() error
}

// UnavailableError reports a store call that kept failing after retries.
type UnavailableError struct {
	Op       string
	DocID    string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("document store %s %s unavailable after %d attempts: %v", e.Op, e.DocID, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is, or wraps, an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
