package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    InboundEvent
		wantErr bool
	}{
		{
			name:  "join_room",
			input: `{"type":"join_room","room_id":"proj-1"}`,
			want:  InboundEvent{Type: "join_room", RoomID: "proj-1"},
		},
		{
			name:  "cursor_update",
			input: `{"type":"cursor_update","room_id":"proj-1","file_id":"f1","position":{"line":3,"col":5}}`,
			want: InboundEvent{
				Type:     "cursor_update",
				RoomID:   "proj-1",
				FileID:   "f1",
				Position: []byte(`{"line":3,"col":5}`),
			},
		},
		{
			name:  "content_update",
			input: `{"type":"content_update","room_id":"proj-1","file_id":"f1","content":"hello"}`,
			want: InboundEvent{
				Type:    "content_update",
				RoomID:  "proj-1",
				FileID:  "f1",
				Content: "hello",
			},
		},
		{
			name:  "content_update with empty content",
			input: `{"type":"content_update","room_id":"proj-1","file_id":"f1","content":""}`,
			want: InboundEvent{
				Type:   "content_update",
				RoomID: "proj-1",
				FileID: "f1",
			},
		},
		{
			name:  "unknown type passes through for dispatch to reject",
			input: `{"type":"dance","room_id":"proj-1"}`,
			want:  InboundEvent{Type: "dance", RoomID: "proj-1"},
		},
		{name: "not json", input: `garbage`, wantErr: true},
		{name: "missing type", input: `{"room_id":"proj-1"}`, wantErr: true},
		{name: "missing room_id", input: `{"type":"join_room"}`, wantErr: true},
		{name: "cursor without position", input: `{"type":"cursor_update","room_id":"proj-1","file_id":"f1"}`, wantErr: true},
		{name: "cursor without file_id", input: `{"type":"cursor_update","room_id":"proj-1","position":{}}`, wantErr: true},
		{name: "content without content", input: `{"type":"content_update","room_id":"proj-1","file_id":"f1"}`, wantErr: true},
		{name: "content without file_id", input: `{"type":"content_update","room_id":"proj-1","content":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.RoomID, got.RoomID)
			assert.Equal(t, tt.want.FileID, got.FileID)
			assert.Equal(t, tt.want.Content, got.Content)
			if tt.want.Position != nil {
				assert.JSONEq(t, string(tt.want.Position), string(got.Position))
			}
		})
	}
}

func TestMarshalOutbound(t *testing.T) {
	t.Run("presence", func(t *testing.T) {
		data, err := marshalPresence(EventUserJoined, "alice", []string{"alice", "bob"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"user_joined","user":"alice","active_users":["alice","bob"]}`, string(data))
	})

	t.Run("cursor keeps position opaque", func(t *testing.T) {
		data, err := marshalCursor("alice", "f1", []byte(`{"line":3,"col":5}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"cursor_update","user":"alice","file_id":"f1","position":{"line":3,"col":5}}`, string(data))
	})

	t.Run("content", func(t *testing.T) {
		data, err := marshalContent("alice", "f1", "full file body")
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"receive_content_change","user":"alice","file_id":"f1","content":"full file body"}`, string(data))
	})
}
