package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-orchestrator/internal/app"
	"quiz-orchestrator/internal/domain"
	"quiz-orchestrator/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

type WSHandler struct {
	service  *app.QuizService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, log *zap.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     logger.OrNop(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

type actionPayload struct {
	RoomID string `json:"roomId"`
	DeckID string `json:"deckId"`
	Answer string `json:"answer"`
}

type outboundMessage[T any] struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Payload   T      `json:"payload"`
}

type ackPayload struct {
	Success bool             `json:"success"`
	Reason  string           `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
	RoomID  string           `json:"roomId,omitempty"`
	Room    *domain.Snapshot `json:"room,omitempty"`
}

// connection is one websocket client. A connection may be a member of several
// rooms; each membership has its own pump goroutine feeding the writer.
type connection struct {
	id   string
	who  domain.Identity
	ws   *websocket.Conn
	log  *zap.Logger
	send chan outboundMessage[any]

	closing chan struct{}
	pumps   sync.WaitGroup

	mu    sync.Mutex
	rooms map[string]*app.Subscription
}

// ServeWS upgrades HTTP requests to websockets and routes client frames to the quiz service.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	who := domain.Identity{
		PlayerID:    r.URL.Query().Get("userId"),
		DisplayName: r.URL.Query().Get("name"),
		AvatarRef:   r.URL.Query().Get("avatar"),
	}
	if who.PlayerID == "" || who.DisplayName == "" {
		http.Error(w, "missing userId or name", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &connection{
		id:      uuid.NewString(),
		who:     who,
		ws:      ws,
		send:    make(chan outboundMessage[any], sendBuffer),
		closing: make(chan struct{}),
		rooms:   make(map[string]*app.Subscription),
	}
	c.log = h.log.With(zap.String("conn_id", c.id), zap.String("player_id", who.PlayerID))
	c.log.Debug("connection opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	h.readLoop(r.Context(), c)

	close(c.closing)
	c.pumps.Wait()
	h.disconnectAll(c)
	close(c.send)
	<-writerDone
	ws.Close()
	c.log.Debug("connection closed")
}

func (h *WSHandler) readLoop(ctx context.Context, c *connection) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := c.ws.ReadJSON(&inbound); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.ack(inbound.RequestID, "", nil, domain.ErrInvalidEvent)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("ws read error", zap.Error(err))
			}
			return
		}
		h.dispatch(ctx, c, inbound)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, c *connection, in inboundMessage) {
	var p actionPayload
	if len(in.Payload) > 0 {
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			c.ack(in.RequestID, "", nil, domain.ErrInvalidEvent)
			return
		}
	}

	switch in.Type {
	case "create":
		snap, sub, err := h.service.CreateRoom(ctx, p.DeckID, c.who)
		if err != nil {
			c.ack(in.RequestID, "", nil, err)
			return
		}
		c.ack(in.RequestID, snap.RoomID, &snap, nil)
		c.attach(sub)
	case "join":
		snap, sub, err := h.service.Join(ctx, p.RoomID, p.DeckID, c.who)
		if err != nil {
			c.ack(in.RequestID, p.RoomID, nil, err)
			return
		}
		c.ack(in.RequestID, snap.RoomID, &snap, nil)
		c.attach(sub)
	case "leave":
		err := h.service.Leave(ctx, p.RoomID, c.who.PlayerID)
		if err == nil {
			c.forget(p.RoomID)
		}
		c.ack(in.RequestID, p.RoomID, nil, err)
	case "start":
		c.ack(in.RequestID, p.RoomID, nil, h.service.Start(ctx, p.RoomID, c.who.PlayerID, p.DeckID))
	case "submit_answer":
		c.ack(in.RequestID, p.RoomID, nil, h.service.SubmitAnswer(ctx, p.RoomID, c.who.PlayerID, p.Answer))
	default:
		c.ack(in.RequestID, p.RoomID, nil, domain.ErrInvalidEvent)
	}
}

// disconnectAll reports the dropped connection to every room it still belongs to.
func (h *WSHandler) disconnectAll(c *connection) {
	c.mu.Lock()
	subs := c.rooms
	c.rooms = make(map[string]*app.Subscription)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for roomID, sub := range subs {
		h.service.Disconnect(ctx, roomID, c.who.PlayerID, sub)
	}
}

func (c *connection) ack(requestID, roomID string, snap *domain.Snapshot, err error) {
	payload := ackPayload{Success: err == nil, RoomID: roomID, Room: snap}
	if err != nil {
		payload.Reason = domain.CodeOf(err)
		payload.Message = err.Error()
		c.log.Debug("request rejected", zap.String("room_id", roomID), zap.String("reason", payload.Reason))
	}
	c.enqueue(outboundMessage[any]{Type: "ack", RequestID: requestID, Payload: payload})
}

func (c *connection) enqueue(msg outboundMessage[any]) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.closing:
		return false
	}
}

// attach records sub as this connection's membership and starts pumping its events.
func (c *connection) attach(sub *app.Subscription) {
	c.mu.Lock()
	prev := c.rooms[sub.RoomID]
	c.rooms[sub.RoomID] = sub
	c.mu.Unlock()
	if prev != nil && prev != sub {
		prev.Close()
	}

	c.pumps.Add(1)
	go func() {
		defer c.pumps.Done()
		c.pump(sub)
	}()
}

func (c *connection) forget(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *connection) pump(sub *app.Subscription) {
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				c.detached(sub)
				return
			}
			msg := outboundMessage[any]{Type: string(ev.Type), RoomID: ev.RoomID, Seq: ev.Seq, Payload: ev.Payload}
			if !c.enqueue(msg) {
				return
			}
		case <-c.closing:
			return
		}
	}
}

// detached runs once the room closed sub. A member dropped for falling behind
// loses the whole connection so the client reconnects and resyncs from a snapshot.
func (c *connection) detached(sub *app.Subscription) {
	c.mu.Lock()
	if c.rooms[sub.RoomID] == sub {
		delete(c.rooms, sub.RoomID)
	}
	c.mu.Unlock()

	if sub.Dropped() {
		c.log.Warn("subscription dropped, closing connection", zap.String("room_id", sub.RoomID))
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "fell behind"),
			time.Now().Add(writeWait))
		_ = c.ws.SetReadDeadline(time.Now())
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Debug("ws write error", zap.Error(err))
				_ = c.ws.SetReadDeadline(time.Now())
				c.drain()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.ws.SetReadDeadline(time.Now())
				c.drain()
				return
			}
		}
	}
}

// drain discards queued frames after a write failure so senders never block.
func (c *connection) drain() {
	for range c.send {
	}
}
