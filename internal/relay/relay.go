// Package relay fans document events out across server instances.
//
// Each document has a bounded, append-only stream. Publishing appends an
// entry whose identifier is assigned by the stream itself, so concurrent
// publishers on different instances never collide. Consumers read entries
// strictly after a cursor and block for a bounded time when none are ready.
// The stream is a recent-history buffer: once full, the oldest entries are
// dropped.
package relay

import (
	"context"
	"time"
)

const (
	// DefaultMaxLen caps each document stream.
	DefaultMaxLen = 1000
	// DefaultBlock bounds how long Consume waits for new entries.
	DefaultBlock = time.Second
)

// Beginning is a cursor positioned before every retained entry.
const Beginning = "0"

// Entry is one event in a document stream. Payload is empty for entries
// that carry no event, which consumers skip after advancing past them.
type Entry struct {
	ID      string
	Payload []byte
}

// Relay is a per-document event stream shared by every instance.
type Relay interface {
	// Publish appends payload to the document's stream and returns the
	// identifier the stream assigned to it.
	Publish(ctx context.Context, docID string, payload []byte) (string, error)

	// Consume returns at most max entries after cursor, waiting up to the
	// relay's block timeout when none are available. An empty result with a
	// nil error means the wait timed out.
	Consume(ctx context.Context, docID, cursor string, max int) ([]Entry, error)

	// Tail returns a cursor positioned after the newest entry, so a consumer
	// starting there sees only events published afterwards.
	Tail(ctx context.Context, docID string) (string, error)

	Close() error
}
