// Package wsclient implements the transport contract against the reference
// backend: HTTP for snapshots, inserts, and profile lookups, and a single
// shared WebSocket for topic channels and ephemeral broadcasts.
package wsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/transport"
	"github.com/cyb3rh3ad/auradesk/internal/transport/wsproto"
	"github.com/cyb3rh3ad/auradesk/internal/wire"
)

const (
	dialTimeout = 10 * time.Second
	writeWait   = 10 * time.Second
	eventBuffer = 256
	httpTimeout = 15 * time.Second
)

// Client talks to one auradesk backend on behalf of one authenticated user.
// It implements transport.Transport, transport.Store, and transport.Auth.
type Client struct {
	baseURL string
	token   string
	userID  string
	http    *http.Client
	log     zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	channels map[wire.Topic]*wsChannel
	closed   bool
}

// New creates a client for baseURL (e.g. http://127.0.0.1:8787) using an
// already-issued token.
func New(baseURL, token, userID string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		userID:   userID,
		http:     &http.Client{Timeout: httpTimeout},
		log:      log,
		channels: make(map[wire.Topic]*wsChannel),
	}
}

// Login registers the profile with the backend and returns a session token.
func Login(ctx context.Context, baseURL, userID, displayName string) (string, error) {
	body, err := json.Marshal(map[string]string{"userId": userID, "displayName": displayName})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/v1/auth", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: httpTimeout}).Do(req)
	if err != nil {
		return "", fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth request: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("auth response: %w", err)
	}
	return out.Token, nil
}

// CurrentUserID implements transport.Auth.
func (c *Client) CurrentUserID() string { return c.userID }

// SubscribeChannel implements transport.Transport. All topics share one
// WebSocket; the first subscription dials it and a failed socket is redialed
// on the next subscribe.
func (c *Client) SubscribeChannel(ctx context.Context, topic wire.Topic) (transport.Channel, error) {
	if err := topic.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.NewConnectionError("subscribe", fmt.Errorf("client closed"))
	}
	if _, ok := c.channels[topic]; ok {
		c.mu.Unlock()
		return nil, transport.NewConnectionError("subscribe", fmt.Errorf("topic %s already subscribed", topic))
	}
	conn, err := c.ensureConnLocked(ctx)
	if err != nil {
		c.mu.Unlock()
		return nil, transport.NewConnectionError("dial", err)
	}
	ch := &wsChannel{client: c, topic: topic, events: make(chan wire.Event, eventBuffer)}
	c.channels[topic] = ch
	c.mu.Unlock()

	if err := c.writeFrame(conn, wsproto.ClientFrame{Type: wsproto.FrameSubscribe, Topic: topic}); err != nil {
		c.mu.Lock()
		delete(c.channels, topic)
		c.mu.Unlock()
		ch.fail(nil)
		return nil, transport.NewConnectionError("subscribe", err)
	}
	return ch, nil
}

// SendBroadcast implements transport.Transport.
func (c *Client) SendBroadcast(ctx context.Context, topic wire.Topic, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return transport.NewConnectionError("broadcast", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.NewConnectionError("broadcast", fmt.Errorf("client closed"))
	}
	conn, err := c.ensureConnLocked(ctx)
	c.mu.Unlock()
	if err != nil {
		return transport.NewConnectionError("broadcast", err)
	}

	if err := c.writeFrame(conn, wsproto.ClientFrame{
		Type:    wsproto.FrameBroadcast,
		Topic:   topic,
		Payload: raw,
	}); err != nil {
		return transport.NewConnectionError("broadcast", err)
	}
	return nil
}

// FetchSnapshot implements transport.Store.
func (c *Client) FetchSnapshot(ctx context.Context, topic wire.Topic, limit int) ([]wire.Message, error) {
	if err := topic.Validate(); err != nil {
		return nil, transport.NewFetchError("snapshot", err)
	}

	endpoint := c.baseURL + "/v1/topics/" + url.PathEscape(string(topic)) + "/snapshot"
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}

	var out struct {
		Messages []wire.Message `json:"messages"`
	}
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, transport.NewFetchError("snapshot", err)
	}
	return out.Messages, nil
}

// InsertMessage implements transport.Store. The backend derives the sender
// from the session token; senderID is accepted for interface symmetry.
func (c *Client) InsertMessage(ctx context.Context, conversationID, senderID, content, localID string) (wire.Message, error) {
	endpoint := c.baseURL + "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	body := map[string]string{"content": content, "localId": localID}

	var out struct {
		Message wire.Message `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return wire.Message{}, &transport.SendFailure{LocalID: localID, Err: err}
	}
	return out.Message, nil
}

// LookupProfiles implements transport.Store.
func (c *Client) LookupProfiles(ctx context.Context, ids []string) (map[string]wire.Profile, error) {
	var out struct {
		Profiles []wire.Profile `json:"profiles"`
	}
	err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/v1/profiles/lookup",
		map[string][]string{"ids": ids}, &out)
	if err != nil {
		return nil, transport.NewFetchError("profiles", err)
	}

	byID := make(map[string]wire.Profile, len(out.Profiles))
	for _, p := range out.Profiles {
		byID[p.ID] = p
	}
	return byID, nil
}

// Close tears down the socket and fails every open channel.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	open := c.channels
	c.channels = make(map[wire.Topic]*wsChannel)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, ch := range open {
		ch.fail(nil)
	}
}

// ensureConnLocked dials the WebSocket if needed. Caller holds c.mu.
func (c *Client) ensureConnLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop fans incoming events out to their topic channels. A read error
// fails every open channel so the subscription layer can resubscribe, which
// redials the socket.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame wsproto.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.failConn(conn, err)
			return
		}

		switch frame.Type {
		case wsproto.FrameEvent:
			if frame.Event == nil {
				continue
			}
			c.dispatch(*frame.Event)
		case wsproto.FrameError:
			c.log.Warn().Str("error", frame.Error).Msg("server frame error")
		}
	}
}

func (c *Client) dispatch(ev wire.Event) {
	c.mu.Lock()
	ch := c.channels[ev.Topic]
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch.events <- ev:
	default:
		c.log.Warn().Str("topic", string(ev.Topic)).Msg("dropping event for slow consumer")
	}
}

// failConn tears down conn and its channels, but only if it is still the
// active socket. A later dial may already have replaced it.
func (c *Client) failConn(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	open := c.channels
	c.channels = make(map[wire.Topic]*wsChannel)
	c.mu.Unlock()

	conn.Close()
	connErr := transport.NewConnectionError("read", err)
	for _, ch := range open {
		ch.fail(connErr)
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, frame wsproto.ClientFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// releaseChannel removes a cleanly closed channel and tells the server to
// stop sending for its topic.
func (c *Client) releaseChannel(ch *wsChannel) {
	c.mu.Lock()
	if c.channels[ch.topic] != ch {
		c.mu.Unlock()
		return
	}
	delete(c.channels, ch.topic)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.writeFrame(conn, wsproto.ClientFrame{Type: wsproto.FrameUnsubscribe, Topic: ch.topic}); err != nil {
			c.log.Debug().Err(err).Str("topic", string(ch.topic)).Msg("unsubscribe frame")
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", endpoint, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// wsChannel is one topic subscription on the shared socket.
type wsChannel struct {
	client *Client
	topic  wire.Topic
	events chan wire.Event

	mu   sync.Mutex
	done bool
	err  error
}

// Events implements transport.Channel.
func (ch *wsChannel) Events() <-chan wire.Event { return ch.events }

// Err implements transport.Channel.
func (ch *wsChannel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.err
}

// Close implements transport.Channel.
func (ch *wsChannel) Close() {
	ch.mu.Lock()
	if ch.done {
		ch.mu.Unlock()
		return
	}
	ch.done = true
	ch.mu.Unlock()

	ch.client.releaseChannel(ch)
	close(ch.events)
}

func (ch *wsChannel) fail(err error) {
	ch.mu.Lock()
	if ch.done {
		ch.mu.Unlock()
		return
	}
	ch.done = true
	ch.err = err
	ch.mu.Unlock()
	close(ch.events)
}
