package main

import (
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"collabtext/internal/ot"
	"collabtext/internal/protocol"
)

// Replica follows one document from the server's broadcasts. It never edits
// its text directly: local edits are sent to the server and folded in when
// they come back as document_change.
type Replica struct {
	log zerolog.Logger

	mu      sync.Mutex
	text    string
	version int
	synced  bool
	users   []protocol.PresenceUser
}

func NewReplica(log zerolog.Logger) *Replica {
	return &Replica{log: log}
}

// Apply folds ev into the replica. It reports whether the replica missed a
// change and must ask the server for a fresh snapshot.
func (r *Replica) Apply(ev protocol.Outbound) (resync bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev := ev.(type) {
	case protocol.Recovery:
		r.text, r.version, r.synced = ev.Text, ev.Version, true
		r.log.Debug().Int("version", ev.Version).Msg("snapshot received")
	case protocol.Changed:
		if !r.synced || ev.Version <= r.version {
			return false
		}
		if ev.Version != r.version+1 {
			r.log.Warn().Int("have", r.version).Int("got", ev.Version).Msg("missed a change, resynchronizing")
			r.synced = false
			return true
		}
		r.text = ot.Apply(r.text, ev.Op)
		r.version = ev.Version
	case protocol.Presence:
		r.users = ev.Users
	case protocol.Error:
		r.log.Warn().Str("message", ev.Message).Msg("server error")
	case protocol.UserJoined:
		r.log.Info().Str("user", ev.UserID).Str("name", ev.DisplayName).Msg("user joined")
	case protocol.UserLeft:
		r.log.Info().Str("user", ev.UserID).Msg("user left")
	case protocol.DocumentSaved:
		r.log.Info().Int("version", ev.Version).Str("by", ev.UserID).Msg("document saved")
	}
	return false
}

// Append builds a change inserting text at the end of the replica's copy.
func (r *Replica) Append(text string) protocol.ChangeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.ChangeRequest{
		Op:          ot.Insert(utf8.RuneCountInString(r.text), text, ""),
		BaseVersion: r.version,
	}
}

func (r *Replica) Snapshot() (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text, r.version
}

func (r *Replica) Synced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced
}

// Users returns the last presence list seen.
func (r *Replica) Users() []protocol.PresenceUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.PresenceUser(nil), r.users...)
}
