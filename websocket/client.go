package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	errMalformedFrame = errors.New("malformed frame")
	errUnknownFrame   = errors.New("unknown frame type")
)

// inbound is a frame from the app: {"type": "...", "payload": {...}}.
type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type frameError struct {
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

type Client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	flush   chan struct{}
	once    sync.Once
	manager *Manager
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger
}

// emit queues a frame. It gives up once the connection is gone.
func (c *Client) emit(kind string, payload any) {
	msg, err := json.Marshal(outbound{Type: kind, Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Str("type", kind).Msg("marshal frame")
		return
	}
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}

func (c *Client) emitError(op string, err error) {
	c.emit("error", frameError{Op: op, Error: err.Error()})
}

// close writes whatever is queued, then closes the connection normally.
func (c *Client) close() {
	c.once.Do(func() { close(c.flush) })
}

func (c *Client) readPump(onFrame func(*Client, inbound)) {
	defer func() {
		c.cancel()
		c.manager.release(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			c.emitError("", errMalformedFrame)
			continue
		}
		if in.Type == "ping" {
			c.emit("pong", map[string]int64{"time": time.Now().Unix()})
			continue
		}
		onFrame(c, in)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.flush:
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case <-c.ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}
