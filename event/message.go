package event

import (
	"encoding/json"
	"fmt"
)

// ClientMessage is the closed set of messages a client may send on the
// realtime channel. The wire form carries a "type" discriminator with the
// variant's fields inlined beside it.
type ClientMessage interface {
	clientMessage()
}

// EditMessage submits an edit operation for relay through the durable log.
type EditMessage struct {
	Event EditEvent
}

// TypingMessage reports typing activity; it is echoed back to the sender only.
type TypingMessage struct {
	DocID    string
	UserID   string
	IsTyping bool
}

// CursorMessage reports a cursor move; it is echoed back to the sender only.
type CursorMessage struct {
	DocID    string
	UserID   string
	Position int
}

// JoinMessage adds the user to a document's room.
type JoinMessage struct {
	DocID  string
	UserID string
}

// LeaveMessage removes the user from a document's room.
type LeaveMessage struct {
	DocID  string
	UserID string
}

func (EditMessage) clientMessage()   {}
func (TypingMessage) clientMessage() {}
func (CursorMessage) clientMessage() {}
func (JoinMessage) clientMessage()   {}
func (LeaveMessage) clientMessage()  {}

type messageTag struct {
	Type string `json:"type"`
}

type typingWire struct {
	Type     string `json:"type"`
	DocID    string `json:"doc_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type cursorWire struct {
	Type     string `json:"type"`
	DocID    string `json:"doc_id"`
	UserID   string `json:"user_id"`
	Position int    `json:"position"`
}

type roomWire struct {
	Type   string `json:"type"`
	DocID  string `json:"doc_id"`
	UserID string `json:"user_id"`
}

type editWire struct {
	Type string `json:"type"`
	EditEvent
}

// DecodeClientMessage parses a tagged client message. An unknown or missing
// "type" tag is an error; the caller drops the message and keeps the
// connection open.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var tag messageTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decoding client message: %w", err)
	}
	switch tag.Type {
	case "Edit":
		ev, err := DecodeEditEvent(data)
		if err != nil {
			return nil, err
		}
		return EditMessage{Event: ev}, nil
	case "Typing":
		var w typingWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding Typing message: %w", err)
		}
		return TypingMessage{DocID: w.DocID, UserID: w.UserID, IsTyping: w.IsTyping}, nil
	case "Cursor":
		var w cursorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding Cursor message: %w", err)
		}
		return CursorMessage{DocID: w.DocID, UserID: w.UserID, Position: w.Position}, nil
	case "Join":
		var w roomWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding Join message: %w", err)
		}
		return JoinMessage{DocID: w.DocID, UserID: w.UserID}, nil
	case "Leave":
		var w roomWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding Leave message: %w", err)
		}
		return LeaveMessage{DocID: w.DocID, UserID: w.UserID}, nil
	case "":
		return nil, fmt.Errorf("client message missing type tag")
	default:
		return nil, fmt.Errorf("unknown client message type %q", tag.Type)
	}
}

// EncodeClientMessage serializes a message back into its tagged wire form.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	var v any
	switch m := m.(type) {
	case EditMessage:
		v = editWire{Type: "Edit", EditEvent: m.Event}
	case TypingMessage:
		v = typingWire{Type: "Typing", DocID: m.DocID, UserID: m.UserID, IsTyping: m.IsTyping}
	case CursorMessage:
		v = cursorWire{Type: "Cursor", DocID: m.DocID, UserID: m.UserID, Position: m.Position}
	case JoinMessage:
		v = roomWire{Type: "Join", DocID: m.DocID, UserID: m.UserID}
	case LeaveMessage:
		v = roomWire{Type: "Leave", DocID: m.DocID, UserID: m.UserID}
	default:
		return nil, fmt.Errorf("unknown client message variant %T", m)
	}
	return json.Marshal(v)
}

// TypingIndicator is the server's acknowledgment of a TypingMessage, sent
// only to the connection that produced it.
type TypingIndicator struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// CursorIndicator is the server's acknowledgment of a CursorMessage, sent
// only to the connection that produced it.
type CursorIndicator struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Position int    `json:"position"`
}

// NewTypingIndicator builds the echo for a typing report.
func NewTypingIndicator(userID string, isTyping bool) TypingIndicator {
	return TypingIndicator{Type: "typing", UserID: userID, IsTyping: isTyping}
}

// NewCursorIndicator builds the echo for a cursor move.
func NewCursorIndicator(userID string, position int) CursorIndicator {
	return CursorIndicator{Type: "cursor", UserID: userID, Position: position}
}
