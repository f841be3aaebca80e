// Package hub fans realtime events out to WebSocket subscribers, one
// subscription set per connection.
package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/transport/wsproto"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The reference backend trusts the CORS layer in front of it.
		return true
	},
}

// Hub tracks live connections and their topic subscriptions.
type Hub struct {
	log zerolog.Logger

	mu     sync.RWMutex
	topics map[wire.Topic]map[*conn]struct{}
}

// New creates an empty Hub.
func New(log zerolog.Logger) *Hub {
	return &Hub{log: log, topics: make(map[wire.Topic]map[*conn]struct{})}
}

// PublishEvent delivers ev to every subscriber of its topic.
func (h *Hub) PublishEvent(ev wire.Event) {
	frame, err := json.Marshal(wsproto.ServerFrame{Type: wsproto.FrameEvent, Event: &ev})
	if err != nil {
		h.log.Error().Err(err).Msg("encode event frame")
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.topics[ev.Topic]))
	for c := range h.topics[ev.Topic] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(frame)
	}
}

// Subscribers returns the subscriber count for topic.
func (h *Hub) Subscribers(topic wire.Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// HandleWS upgrades the request and serves the connection until it drops.
func (h *Hub) HandleWS(c *gin.Context, userID string) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cn := &conn{
		hub:    h,
		ws:     ws,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}

	h.log.Debug().Str("user", userID).Msg("websocket connected")
	go cn.writePump()
	cn.readPump()
	h.log.Debug().Str("user", userID).Msg("websocket disconnected")
}

func (h *Hub) subscribe(topic wire.Topic, cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*conn]struct{})
		h.topics[topic] = set
	}
	set[cn] = struct{}{}
}

func (h *Hub) unsubscribe(topic wire.Topic, cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.topics[topic]; ok {
		delete(set, cn)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) dropConn(cn *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.topics {
		delete(set, cn)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

type conn struct {
	hub    *Hub
	ws     *websocket.Conn
	userID string
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	case <-c.done:
	default:
		// Slow consumer: drop the frame. The client's resync path recovers
		// persisted state; ephemeral signals heal via TTL.
		c.hub.log.Warn().Str("user", c.userID).Msg("dropping frame for slow consumer")
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.dropConn(c)
		c.ws.Close()
	})
}

func (c *conn) readPump() {
	defer c.close()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame wsproto.ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn().Str("user", c.userID).Err(err).Msg("websocket read error")
			}
			return
		}
		c.handleFrame(frame)
	}
}

func (c *conn) handleFrame(frame wsproto.ClientFrame) {
	if err := frame.Topic.Validate(); err != nil {
		c.sendError(err.Error())
		return
	}

	switch frame.Type {
	case wsproto.FrameSubscribe:
		c.hub.subscribe(frame.Topic, c)
	case wsproto.FrameUnsubscribe:
		c.hub.unsubscribe(frame.Topic, c)
	case wsproto.FrameBroadcast:
		// Ephemeral relay: fan out without persistence. The sender is
		// included; clients filter self-originated signals.
		c.hub.PublishEvent(wire.Event{
			Topic:      frame.Topic,
			Kind:       wire.EventBroadcast,
			Payload:    frame.Payload,
			ServerTime: time.Now().UnixMilli(),
		})
	default:
		c.sendError("unknown frame type " + frame.Type)
	}
}

func (c *conn) sendError(msg string) {
	frame, err := json.Marshal(wsproto.ServerFrame{Type: wsproto.FrameError, Error: msg})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
