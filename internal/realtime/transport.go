package realtime

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 4 << 10
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opEvents      = "events"
	opError       = "error"
)

// frame is the single message shape exchanged on the wire. Clients send
// subscribe and unsubscribe ops; the server sends events and error ops.
type frame struct {
	Op      string  `json:"op"`
	Channel string  `json:"channel,omitempty"`
	Events  []Event `json:"events,omitempty"`
	Message string  `json:"message,omitempty"`
}

// NewHandler serves hub subscriptions over websocket. Each connection may
// subscribe to any number of channels and receives their batches as events
// frames. A nil logger discards transport logs.
func NewHandler(hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &wsHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

type wsHandler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	session := &wsSession{
		conn: conn,
		subs: make(map[string]*Subscription),
		done: make(chan struct{}),
	}
	h.serve(session)
}

// wsSession tracks one connection. The subs map is touched only by the read
// loop, so it needs no lock; writes are serialized through writeMu because
// every subscription forwards from its own goroutine.
type wsSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	subs    map[string]*Subscription
	done    chan struct{}
}

func (h *wsHandler) serve(s *wsSession) {
	defer func() {
		close(s.done)
		for _, sub := range s.subs {
			sub.Unsubscribe()
		}
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.ping()

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		switch f.Op {
		case opSubscribe:
			h.subscribe(s, f.Channel)
		case opUnsubscribe:
			if sub, ok := s.subs[f.Channel]; ok {
				sub.Unsubscribe()
				delete(s.subs, f.Channel)
			}
		default:
			_ = s.writeFrame(frame{Op: opError, Message: "unsupported op " + f.Op})
		}
	}
}

func (h *wsHandler) subscribe(s *wsSession, channel string) {
	if channel == "" {
		_ = s.writeFrame(frame{Op: opError, Message: "channel is required"})
		return
	}
	if _, ok := s.subs[channel]; ok {
		return
	}
	sub := h.hub.Subscribe(channel)
	s.subs[channel] = sub
	go s.forward(sub)
}

// forward streams one subscription to the connection. It ends when the
// subscription is cancelled or the connection stops accepting writes.
func (s *wsSession) forward(sub *Subscription) {
	for batch := range sub.Events() {
		if err := s.writeFrame(frame{Op: opEvents, Channel: sub.Channel(), Events: batch}); err != nil {
			return
		}
	}
}

func (s *wsSession) ping() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) writeFrame(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(f)
}
