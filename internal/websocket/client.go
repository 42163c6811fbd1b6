package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection limits for leaderboard subscribers. Clients only send small
// control messages, so inbound frames are capped well below a page of data.
const (
	writeTimeout     = 10 * time.Second
	idleTimeout      = 60 * time.Second
	keepaliveEvery   = idleTimeout * 9 / 10
	maxControlFrame  = 4096
	sendQueueLength  = 256
	subscriptionHint = "unknown topic, expected leaderboard or history"
)

// Cross-origin checks are left to the CORS middleware in front of /ws,
// which is configured by server.cors_origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one subscriber connection. The hub writes to send; the write
// loop owns conn for writing and the read loop for reading.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ClientMessage is a control message sent by a subscriber
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendQueueLength),
		logger: logger.With("client_id", id),
	}
}

// ServeWs upgrades the request and starts the client's loops
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writeLoop()
	go client.readLoop()

	client.logger.Debug("subscriber connected", "remote_addr", r.RemoteAddr)
}

// readLoop handles control messages until the peer goes away or stops
// answering keepalive pings
func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxControlFrame)
	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("subscriber connection lost", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if !ValidTopic(msg.Topic) {
			c.sendError(subscriptionHint)
			return
		}
		c.hub.Subscribe(c, msg.Topic)
		c.sendAck(MessageTypeSubscribed, msg.Topic)

	case MessageTypeUnsubscribe:
		if !ValidTopic(msg.Topic) {
			c.sendError(subscriptionHint)
			return
		}
		c.hub.Unsubscribe(c, msg.Topic)
		c.sendAck(MessageTypeUnsubscribed, msg.Topic)

	case MessageTypePing:
		c.reply(Message{Type: MessageTypePong})

	default:
		c.sendError("unknown message type " + msg.Type)
	}
}

// writeLoop sends one JSON document per frame and keeps the connection
// alive. It exits when the hub closes send or a write fails.
func (c *Client) writeLoop() {
	keepalive := time.NewTicker(keepaliveEvery)
	defer func() {
		keepalive.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, open := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !open {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write to subscriber failed", "error", err)
				return
			}

		case <-keepalive.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a message for this client only; it is dropped when the
// send queue is full
func (c *Client) reply(msg Message) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to encode reply", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(reason string) {
	c.reply(Message{Type: MessageTypeError, Data: map[string]string{"error": reason}})
}

func (c *Client) sendAck(kind, topic string) {
	c.reply(Message{Type: kind, Topic: topic, Data: map[string]string{"status": "ok"}})
}
