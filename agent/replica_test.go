package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"collabtext/internal/ot"
	"collabtext/internal/protocol"
)

func TestReplica_FollowsChanges(t *testing.T) {
	r := NewReplica(zerolog.Nop())
	assert.False(t, r.Apply(protocol.Changed{Op: ot.Insert(0, "ignored", ""), Version: 1}))
	assert.False(t, r.Synced())

	r.Apply(protocol.Recovery{Text: "abc", Version: 4})
	assert.False(t, r.Apply(protocol.Changed{Op: ot.Insert(3, "d", "u1"), Version: 5}))
	assert.False(t, r.Apply(protocol.Changed{Op: ot.Insert(0, "X", "u2"), Version: 6}))

	text, version := r.Snapshot()
	assert.Equal(t, "Xabcd", text)
	assert.Equal(t, 6, version)

	// A replayed change is ignored.
	assert.False(t, r.Apply(protocol.Changed{Op: ot.Delete(0, 1, "u2"), Version: 6}))
	text, _ = r.Snapshot()
	assert.Equal(t, "Xabcd", text)
}

func TestReplica_GapRequestsResync(t *testing.T) {
	r := NewReplica(zerolog.Nop())
	r.Apply(protocol.Recovery{Text: "abc", Version: 1})

	assert.True(t, r.Apply(protocol.Changed{Op: ot.Delete(0, 1, ""), Version: 3}))
	assert.False(t, r.Synced())

	r.Apply(protocol.Recovery{Text: "c", Version: 3})
	text, version := r.Snapshot()
	assert.Equal(t, "c", text)
	assert.Equal(t, 3, version)
	assert.True(t, r.Synced())
}

func TestReplica_AppendTargetsEnd(t *testing.T) {
	r := NewReplica(zerolog.Nop())
	r.Apply(protocol.Recovery{Text: "héllo", Version: 2})

	req := r.Append(" world")
	assert.Equal(t, 5, req.Op.Position)
	assert.Equal(t, 2, req.BaseVersion)
	assert.Equal(t, ot.KindInsert, req.Op.Kind)
}

func TestReplica_TracksPresence(t *testing.T) {
	r := NewReplica(zerolog.Nop())
	r.Apply(protocol.Presence{Users: []protocol.PresenceUser{{UserID: "u1"}, {UserID: "u2"}}})
	assert.Len(t, r.Users(), 2)
}
