package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/homegateway/internal/infrastructure/config"
	"github.com/nerrad567/homegateway/internal/infrastructure/logging"
	"github.com/nerrad567/homegateway/internal/notify"
	"github.com/nerrad567/homegateway/internal/workflow"
)

// Frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
	framePong        = "pong"
	frameEvent       = "event"
	frameAck         = "ack"
	frameError       = "error"

	// listenerBuffer is the per-listener outbound frame buffer.
	listenerBuffer = 256
)

// Channels lists what a listener may subscribe to.
var Channels = []string{
	notify.ChannelStateChanges,
	notify.ChannelNotifications,
	workflow.ExecutedChannel,
}

// wsFrame is one message on the wire in either direction. Seq increases by
// one per broadcast across the hub, so a listener can spot frames it missed.
type wsFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   any             `json:"payload,omitempty"`
	Channels  json.RawMessage `json:"channels,omitempty"`
}

// Hub is the downstream listener group: every state transition,
// notification and workflow summary is fanned out to the websocket
// listeners subscribed to its channel. Delivery is best effort; a slow
// listener loses frames rather than stalling the broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	seq    atomic.Uint64

	mu        sync.RWMutex
	listeners map[*listener]struct{}
}

// listener is one connected websocket.
type listener struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	caller string

	mu       sync.RWMutex
	channels map[string]struct{}
	dropped  atomic.Uint64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are authenticated before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[*listener]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every listener.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for l := range h.listeners {
		close(l.send)
		if l.conn != nil {
			l.conn.Close()
		}
		delete(h.listeners, l)
	}
}

// Broadcast sends payload to every listener subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(wsFrame{
		Type:      frameEvent,
		Channel:   channel,
		Seq:       h.seq.Add(1),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding broadcast failed", "channel", channel, "error", err)
		return
	}

	// Listener locks are never taken while holding the hub lock.
	h.mu.RLock()
	targets := make([]*listener, 0, len(h.listeners))
	for l := range h.listeners {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	for _, l := range targets {
		if l.subscribed(channel) {
			l.deliver(data)
		}
	}
}

// ClientCount returns the number of connected listeners.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *Hub) add(l *listener) {
	h.mu.Lock()
	h.listeners[l] = struct{}{}
	n := len(h.listeners)
	h.mu.Unlock()
	h.logger.Debug("listener connected", "caller", l.caller, "listeners", n)
}

// remove closes l.send exactly once, whichever of remove and Run gets
// there first.
func (h *Hub) remove(l *listener) {
	h.mu.Lock()
	_, ok := h.listeners[l]
	delete(h.listeners, l)
	n := len(h.listeners)
	h.mu.Unlock()

	if ok {
		close(l.send)
	}
	h.logger.Debug("listener disconnected",
		"caller", l.caller,
		"dropped_frames", l.dropped.Load(),
		"listeners", n,
	)
}

// handleWebSocket joins the caller to the listener group. Callers have
// already passed webhookAuthMiddleware. A comma-separated channels query
// parameter subscribes on connect; unknown channels are rejected.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var initial []string
	if q := r.URL.Query().Get("channels"); q != "" {
		for _, ch := range strings.Split(q, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				initial = append(initial, ch)
			}
		}
		if bad := unknownChannels(initial); len(bad) > 0 {
			writeBadRequest(w, "unknown channels: "+strings.Join(bad, ", "))
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	l := &listener{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, listenerBuffer),
		caller:   callerFrom(r.Context()),
		channels: make(map[string]struct{}, len(Channels)),
	}
	for _, ch := range initial {
		l.channels[ch] = struct{}{}
	}

	s.hub.add(l)
	go l.writeLoop(s.wsCfg)
	go l.readLoop(s.wsCfg)
}

func unknownChannels(channels []string) []string {
	var bad []string
	for _, ch := range channels {
		if !slices.Contains(Channels, ch) {
			bad = append(bad, ch)
		}
	}
	return bad
}

func (l *listener) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		l.hub.remove(l)
		l.conn.Close()
	}()

	// Any inbound frame counts as liveness, not only protocol pongs.
	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return l.conn.SetReadDeadline(time.Now().Add(deadline)) }

	l.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	l.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.hub.logger.Warn("listener read failed", "caller", l.caller, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // a failed deadline surfaces as a read error
		l.handle(data)
	}
}

func (l *listener) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		l.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return l.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-l.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one inbound frame.
func (l *listener) handle(data []byte) {
	var in wsFrame
	if err := json.Unmarshal(data, &in); err != nil {
		l.reply(wsFrame{Type: frameError, Payload: "invalid JSON frame"})
		return
	}

	switch in.Type {
	case frameSubscribe, frameUnsubscribe:
		var channels []string
		if err := json.Unmarshal(in.Channels, &channels); err != nil || len(channels) == 0 {
			l.reply(wsFrame{Type: frameError, ID: in.ID, Payload: "channels must be a non-empty list"})
			return
		}
		if bad := unknownChannels(channels); len(bad) > 0 {
			l.reply(wsFrame{Type: frameError, ID: in.ID, Payload: "unknown channels: " + strings.Join(bad, ", ")})
			return
		}
		l.mu.Lock()
		for _, ch := range channels {
			if in.Type == frameSubscribe {
				l.channels[ch] = struct{}{}
			} else {
				delete(l.channels, ch)
			}
		}
		l.mu.Unlock()
		l.hub.logger.Info("listener subscriptions changed", "caller", l.caller, "op", in.Type, "channels", channels)
		l.reply(wsFrame{Type: frameAck, ID: in.ID, Payload: l.subscriptions()})
	case framePing:
		l.reply(wsFrame{Type: framePong, ID: in.ID})
	default:
		l.reply(wsFrame{Type: frameError, ID: in.ID, Payload: "unknown frame type: " + in.Type})
	}
}

func (l *listener) reply(f wsFrame) {
	f.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	l.deliver(data)
}

// deliver queues data without blocking. A full buffer drops the frame;
// a closed channel means the listener left mid-broadcast.
func (l *listener) deliver(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a channel closed by remove
	}()

	select {
	case l.send <- data:
	default:
		if l.dropped.Add(1) == 1 {
			l.hub.logger.Warn("listener too slow, dropping frames", "caller", l.caller)
		}
	}
}

func (l *listener) subscribed(channel string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.channels[channel]
	return ok
}

func (l *listener) subscriptions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.channels))
	for ch := range l.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}
