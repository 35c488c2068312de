// Package session runs the per-connection state machine: it merges inbound
// client messages with broadcast edit deliveries and drives the room registry
// and the ingestion path.
package session

import (
	"context"
	"encoding/json"
	"log"

	"collabrelay/bus"
	"collabrelay/event"
	"collabrelay/room"
	"collabrelay/stream"
)

// Wire is the bidirectional message channel to one client. The websocket
// adapter lives in the server package; tests use an in-memory fake.
type Wire interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Session owns one client connection from accept to close. It is driven by a
// single goroutine (Run); current doc and user are set on the first Join and
// removed from the registry exactly once when the session closes.
type Session struct {
	ID       string
	wire     Wire
	registry room.Registry
	appender stream.Appender
	bus      *bus.Bus

	currentDoc  string
	currentUser string
}

// New builds a session for one accepted connection.
func New(id string, w Wire, registry room.Registry, appender stream.Appender, b *bus.Bus) *Session {
	return &Session{ID: id, wire: w, registry: registry, appender: appender, bus: b}
}

// Run subscribes to the bus and services the connection until the client
// disconnects, a write fails, or ctx is cancelled. It waits on the two event
// sources at once and reacts to whichever is ready first; there is no
// ordering guarantee between client messages and bus deliveries.
func (s *Session) Run(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	defer s.wire.Close()
	defer s.cleanup()

	done := make(chan struct{})
	defer close(done)

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			msg, err := s.wire.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			log.Printf("Session %s: client disconnected: %v", s.ID, err)
			return
		case raw := <-inbound:
			if err := s.handleClient(ctx, raw); err != nil {
				log.Printf("Session %s: send failed, disconnecting: %v", s.ID, err)
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			// Deliver every committed edit, unfiltered by room. See the
			// delivery-scoping note in DESIGN.md.
			if err := s.wire.WriteMessage(ev.Encode()); err != nil {
				log.Printf("Session %s: send failed, disconnecting: %v", s.ID, err)
				return
			}
		}
	}
}

// handleClient dispatches one inbound message. A malformed message is dropped
// and the connection stays open; a returned error means a client write failed
// and the session must close.
func (s *Session) handleClient(ctx context.Context, raw []byte) error {
	msg, err := event.DecodeClientMessage(raw)
	if err != nil {
		log.Printf("Session %s: dropping malformed message: %v", s.ID, err)
		return nil
	}
	switch m := msg.(type) {
	case event.EditMessage:
		// The edit is relayed under its own doc/user ids; the protocol does
		// not require them to match the joined room.
		if err := s.appender.Append(ctx, m.Event); err != nil {
			log.Printf("Session %s: log append failed for doc %s: %v", s.ID, m.Event.DocID, err)
		}
	case event.TypingMessage:
		return s.echo(event.NewTypingIndicator(m.UserID, m.IsTyping))
	case event.CursorMessage:
		return s.echo(event.NewCursorIndicator(m.UserID, m.Position))
	case event.JoinMessage:
		s.currentDoc = m.DocID
		s.currentUser = m.UserID
		s.registry.Join(m.DocID, m.UserID)
		log.Printf("User %s joined %s", m.UserID, m.DocID)
	case event.LeaveMessage:
		s.registry.Leave(m.DocID, m.UserID)
		log.Printf("User %s left %s", m.UserID, m.DocID)
	}
	return nil
}

// echo sends an indicator back to this connection only. Typing and cursor
// reports never reach other clients.
func (s *Session) echo(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.wire.WriteMessage(buf)
}

// cleanup removes the session's joined pair exactly once. Leave on a missing
// entry is a no-op, so a session that already left explicitly is harmless
// here.
func (s *Session) cleanup() {
	if s.currentDoc == "" || s.currentUser == "" {
		return
	}
	s.registry.Leave(s.currentDoc, s.currentUser)
	log.Printf("User %s disconnected from %s", s.currentUser, s.currentDoc)
}
