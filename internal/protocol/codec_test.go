package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/ot"
)

func TestDecode_DocumentChange(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"document_change","op":{"kind":"insert","position":3,"text":"d","author":"mallory"},"base_version":2}`))
	require.NoError(t, err)

	change, ok := msg.(ChangeRequest)
	require.True(t, ok)
	assert.Equal(t, 2, change.BaseVersion)
	assert.Equal(t, ot.Insert(3, "d", ""), change.Op, "author is assigned by the server, not the client")
}

func TestDecode_CursorPosition(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"cursor_position","position":7}`))
	require.NoError(t, err)
	assert.Equal(t, CursorMove{Position: 7}, msg)
}

func TestDecode_BareRequests(t *testing.T) {
	for typ, want := range map[string]Inbound{
		"undo": UndoRequest{},
		"redo": RedoRequest{},
		"save": SaveRequest{},
		"sync": SyncRequest{},
	} {
		msg, err := Decode([]byte(`{"type":"` + typ + `"}`))
		require.NoError(t, err, typ)
		assert.Equal(t, want, msg)
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"missing type", `{"position":1}`},
		{"unknown type", `{"type":"format_bold"}`},
		{"bad op kind", `{"type":"document_change","op":{"kind":"replace"},"base_version":0}`},
		{"negative position", `{"type":"document_change","op":{"kind":"insert","position":-1,"text":"a"},"base_version":0}`},
		{"negative base", `{"type":"document_change","op":{"kind":"insert","position":0,"text":"a"},"base_version":-1}`},
		{"wrong field type", `{"type":"cursor_position","position":"left"}`},
		{"negative cursor", `{"type":"cursor_position","position":-4}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}
}

func TestEncode_FlatTaggedObject(t *testing.T) {
	data, err := Encode(UserJoined{UserID: "u1", DisplayName: "Ada"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user_joined","user_id":"u1","display_name":"Ada"}`, string(data))

	data, err = Encode(Changed{Op: ot.Delete(1, 2, "u1"), Version: 4})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"document_change","op":{"kind":"delete","position":1,"length":2,"author":"u1"},"version":4}`, string(data))
}

func TestEncodeInbound_EmptyPayload(t *testing.T) {
	data, err := EncodeInbound(UndoRequest{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"undo"}`, string(data))
}

func TestDecodeOutbound(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Outbound{
		UserJoined{UserID: "u1", DisplayName: "Ada"},
		UserLeft{UserID: "u1"},
		Presence{Users: []PresenceUser{{UserID: "u1", DisplayName: "Ada", CursorPosition: 3, LastSeen: ts}}},
		Changed{Op: ot.Insert(0, "x", "u1"), Version: 1},
		Attribution{Author: "u1", Op: ot.Insert(0, "x", "u1"), Timestamp: ts},
		Error{Message: "boom"},
		Recovery{Text: "abc", Version: 9},
		DocumentSaved{UserID: "u1", Version: 9, Timestamp: ts},
	}
	for _, ev := range events {
		data, err := Encode(ev)
		require.NoError(t, err)

		var h header
		require.NoError(t, json.Unmarshal(data, &h))
		assert.Equal(t, ev.Type(), h.Type)

		got, err := DecodeOutbound(data)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}
}
