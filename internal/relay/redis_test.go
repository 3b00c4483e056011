package relay

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntriesFrom_KeepsMessagesWithoutPayload(t *testing.T) {
	streams := []redis.XStream{{
		Stream: streamKey("doc"),
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]any{payloadField: "one"}},
			{ID: "2-0", Values: map[string]any{"other": "written by hand"}},
			{ID: "3-0", Values: map[string]any{payloadField: 42}},
			{ID: "4-0", Values: map[string]any{payloadField: "four"}},
		},
	}}

	entries := entriesFrom(streams)
	require.Len(t, entries, 4)
	assert.Equal(t, "one", string(entries[0].Payload))
	assert.Empty(t, entries[1].Payload)
	assert.Empty(t, entries[2].Payload)
	assert.Equal(t, "four", string(entries[3].Payload))

	// The last entry is the cursor a consumer continues from.
	assert.Equal(t, "4-0", entries[len(entries)-1].ID)
}

func TestEntriesFrom_Empty(t *testing.T) {
	assert.Empty(t, entriesFrom(nil))
	assert.Empty(t, entriesFrom([]redis.XStream{{Stream: streamKey("doc")}}))
}
