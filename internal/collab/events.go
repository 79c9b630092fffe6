package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Inbound event types (client -> server).
const (
	EventJoinRoom      = "join_room"
	EventCursorUpdate  = "cursor_update"
	EventContentUpdate = "content_update"
)

// Outbound event types (server -> client).
const (
	EventUserJoined           = "user_joined"
	EventUserLeft             = "user_left"
	EventReceiveContentChange = "receive_content_change"
)

// ErrMalformedEvent marks inbound events missing required fields. Such events
// are dropped and logged; they never terminate the connection.
var ErrMalformedEvent = errors.New("malformed event")

// InboundEvent is the decoded client event envelope. Position is carried as
// raw JSON: the relay never interprets cursor coordinates.
type InboundEvent struct {
	Type     string
	RoomID   string
	FileID   string
	Position json.RawMessage
	Content  string
}

// ParseInbound decodes a wire message into an InboundEvent, validating the
// fields required by its type.
func ParseInbound(data []byte) (InboundEvent, error) {
	if !gjson.ValidBytes(data) {
		return InboundEvent{}, fmt.Errorf("%w: not valid JSON", ErrMalformedEvent)
	}

	parsed := gjson.ParseBytes(data)
	ev := InboundEvent{
		Type:   parsed.Get("type").String(),
		RoomID: parsed.Get("room_id").String(),
		FileID: parsed.Get("file_id").String(),
	}

	if ev.Type == "" {
		return InboundEvent{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if ev.RoomID == "" {
		return InboundEvent{}, fmt.Errorf("%w: %s missing room_id", ErrMalformedEvent, ev.Type)
	}

	switch ev.Type {
	case EventJoinRoom:
		return ev, nil

	case EventCursorUpdate:
		position := parsed.Get("position")
		if ev.FileID == "" || !position.Exists() {
			return InboundEvent{}, fmt.Errorf("%w: cursor_update requires file_id and position", ErrMalformedEvent)
		}
		ev.Position = json.RawMessage(position.Raw)
		return ev, nil

	case EventContentUpdate:
		content := parsed.Get("content")
		if ev.FileID == "" || !content.Exists() {
			return InboundEvent{}, fmt.Errorf("%w: content_update requires file_id and content", ErrMalformedEvent)
		}
		ev.Content = content.String()
		return ev, nil

	default:
		return ev, nil
	}
}

// presenceMessage announces membership changes to the whole room,
// including the user who triggered the change.
type presenceMessage struct {
	Type        string   `json:"type"`
	User        string   `json:"user"`
	ActiveUsers []string `json:"active_users"`
}

// cursorMessage relays a cursor position to everyone except the sender.
type cursorMessage struct {
	Type     string          `json:"type"`
	User     string          `json:"user"`
	FileID   string          `json:"file_id"`
	Position json.RawMessage `json:"position"`
}

// contentMessage relays a full file content snapshot to everyone except
// the sender. Always the whole content, never a diff.
type contentMessage struct {
	Type    string `json:"type"`
	User    string `json:"user"`
	FileID  string `json:"file_id"`
	Content string `json:"content"`
}

func marshalPresence(eventType, user string, activeUsers []string) ([]byte, error) {
	return json.Marshal(presenceMessage{Type: eventType, User: user, ActiveUsers: activeUsers})
}

func marshalCursor(user, fileID string, position json.RawMessage) ([]byte, error) {
	return json.Marshal(cursorMessage{Type: EventCursorUpdate, User: user, FileID: fileID, Position: position})
}

func marshalContent(user, fileID, content string) ([]byte, error) {
	return json.Marshal(contentMessage{Type: EventReceiveContentChange, User: user, FileID: fileID, Content: content})
}
