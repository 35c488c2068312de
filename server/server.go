// Package server exposes the relay over HTTP: one-shot edit submission, the
// websocket realtime channel, and a health probe.
package server

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"collabrelay/bus"
	"collabrelay/event"
	"collabrelay/room"
	"collabrelay/session"
	"collabrelay/stream"
)

const maxSubmissionBytes = 1 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Pinger reports whether the durable log connection is usable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the injected service handles shared by all requests.
type Server struct {
	ctx      context.Context
	appender stream.Appender
	registry room.Registry
	bus      *bus.Bus
	pinger   Pinger
}

// New wires the HTTP surface. ctx bounds the lifetime of websocket sessions;
// pinger may be nil to disable the health check's log probe.
func New(ctx context.Context, appender stream.Appender, registry room.Registry, b *bus.Bus, pinger Pinger) *Server {
	return &Server{ctx: ctx, appender: appender, registry: registry, bus: b, pinger: pinger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	// Preflight requests match here so the CORS middleware can answer them.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	r.Use(permissiveCORS)
	return r
}

// handleSend accepts one EditEvent and appends it to the durable log. The
// submission is committed once the append succeeds; fan-out happens later,
// off the log.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	ev, err := event.DecodeEditEvent(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.appender.Append(r.Context(), ev); err != nil {
		log.Printf("Submission append failed for doc %s: %v", ev.DocID, err)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "log append failed, retry later", http.StatusBadGateway)
		return
	}
	w.Write([]byte("Message sent"))
}

// handleWS upgrades the connection and runs its session until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()
	log.Printf("WebSocket %s connected from %s", id, r.RemoteAddr)
	sess := session.New(id, wsWire{conn: conn}, s.registry, s.appender, s.bus)
	sess.Run(s.ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			http.Error(w, "log unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("ok"))
}

// wsWire adapts a gorilla connection to the session.Wire interface. The
// session's single event loop is the only writer, as gorilla requires.
type wsWire struct {
	conn *websocket.Conn
}

func (w wsWire) ReadMessage() ([]byte, error) {
	_, msg, err := w.conn.ReadMessage()
	return msg, err
}

func (w wsWire) WriteMessage(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w wsWire) Close() error {
	return w.conn.Close()
}

// permissiveCORS allows any origin. The relay carries no credentials.
func permissiveCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
