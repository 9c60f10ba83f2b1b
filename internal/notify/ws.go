package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/taxi-dispatch/internal/models"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// wsMessage is the envelope exchanged with driver apps.
type wsMessage struct {
	Type    string        `json:"type"`
	Offer   *models.Offer `json:"offer,omitempty"`
	OfferID string        `json:"offer_id,omitempty"`
	Accept  bool          `json:"accept,omitempty"`
	Error   string        `json:"error,omitempty"`
}

const (
	wsTypeOffer         = "offer"
	wsTypeOfferResponse = "offer_response"
	wsTypeAck           = "ack"
	wsTypeError         = "error"
)

// WSSession represents a connected driver session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) send(ctx context.Context, msg wsMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *WSSession) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// WSRegistry holds driver sessions and feeds their replies into the hub.
type WSRegistry struct {
	hub    *Hub
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(hub *Hub, logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{hub: hub, logger: logger.With("component", "ws_registry"), sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Name() string { return "ws" }

// Add registers conn for driverID, closing any previous session of that driver.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

func (r *WSRegistry) remove(driverID string, s *WSSession) {
	r.mu.Lock()
	if r.sessions[driverID] == s {
		delete(r.sessions, driverID)
	}
	r.mu.Unlock()
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

func (r *WSRegistry) SendOffer(ctx context.Context, ep models.Endpoint, offer models.Offer) error {
	r.mu.RLock()
	s, ok := r.sessions[ep.DriverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(ctx, wsMessage{Type: wsTypeOffer, Offer: &offer})
}

// Serve runs the session until the connection drops or ctx ends. Driver replies are resolved
// through the hub and acknowledged on the same connection.
func (r *WSRegistry) Serve(ctx context.Context, driverID string, conn *websocket.Conn) {
	s := r.Add(driverID, conn)
	defer func() {
		r.remove(driverID, s)
		_ = conn.Close()
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.ping(); err != nil {
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Warn("ws read failed", "driver_id", driverID, "error", err)
			}
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != wsTypeOfferResponse {
			_ = s.send(ctx, wsMessage{Type: wsTypeError, Error: "expected offer_response"})
			continue
		}
		reply := wsMessage{Type: wsTypeAck, OfferID: msg.OfferID}
		if err := r.hub.Resolve(models.OfferResponse{OfferID: msg.OfferID, DriverID: driverID, Accept: msg.Accept}); err != nil {
			reply = wsMessage{Type: wsTypeError, OfferID: msg.OfferID, Error: err.Error()}
			if !errors.Is(err, ErrOfferClosed) {
				r.logger.Warn("ws offer response rejected", "driver_id", driverID, "offer_id", msg.OfferID, "error", err)
			}
		}
		if err := s.send(ctx, reply); err != nil {
			return
		}
	}
}
