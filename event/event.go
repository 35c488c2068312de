// Package event defines the wire types relayed between clients, the durable
// log, and the notification webhook.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EditEvent is a single edit operation on a document. It is immutable once
// created and travels unchanged from submission through the log to every
// subscribed connection.
type EditEvent struct {
	DocID     string  `json:"doc_id"`
	UserID    string  `json:"user_id"`
	Operation string  `json:"operation"`
	Position  int     `json:"position"`
	Character *string `json:"character"`
	Timestamp uint64  `json:"timestamp"`
}

// Validate reports whether the event is well-formed enough to relay.
func (e EditEvent) Validate() error {
	if e.DocID == "" {
		return errors.New("edit event missing doc_id")
	}
	if e.UserID == "" {
		return errors.New("edit event missing user_id")
	}
	if e.Operation == "" {
		return errors.New("edit event missing operation")
	}
	if e.Position < 0 {
		return fmt.Errorf("edit event position %d is negative", e.Position)
	}
	return nil
}

// Encode serializes the event in its untagged wire form, the shape used for
// log records, webhook bodies, and broadcast deliveries.
func (e EditEvent) Encode() []byte {
	buf, err := json.Marshal(e)
	if err != nil {
		// All field types marshal cleanly; this cannot fail.
		panic(err)
	}
	return buf
}

// DecodeEditEvent parses an untagged EditEvent and validates it.
func DecodeEditEvent(data []byte) (EditEvent, error) {
	var e EditEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return EditEvent{}, fmt.Errorf("decoding edit event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return EditEvent{}, err
	}
	return e, nil
}
