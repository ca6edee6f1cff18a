package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mudassirishfaq94/chat-app/metrics"
	"github.com/mudassirishfaq94/chat-app/session"
	"github.com/mudassirishfaq94/chat-app/types"
)

const (
	pongWait   = 2 * time.Minute
	pingPeriod = time.Minute
	writeWait  = 10 * time.Second
)

// Client is a middleman between the websocket connection and the session layer. It implements presence.Conn.
// The embedded WaitGroup tracks the write loop, which owns closing the connection.
type Client struct {
	sync.WaitGroup

	id   string
	conn *websocket.Conn

	// Buffered channel of outbound frames. It is never closed; done tells the write loop to stop.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	maxFrameBytes      int64
	maxFramesPerSecond int
	windowStart        time.Time
	windowCount        int

	logger hclog.Logger
}

func NewClient(conn *websocket.Conn, sendBuffer int, maxFrameBytes int64, maxFramesPerSecond int, logger hclog.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:                 id,
		conn:               conn,
		send:               make(chan []byte, sendBuffer),
		done:               make(chan struct{}),
		maxFrameBytes:      maxFrameBytes,
		maxFramesPerSecond: maxFramesPerSecond,
		logger:             logger.With("conn", id),
	}
}

func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking. A full buffer drops the frame.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		metrics.FramesDropped.Inc()
		c.logger.Warn("send buffer full, dropping frame")
		return false
	}
}

// Close tells the write loop to send a close frame and close the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// allow applies the per-connection frame rate limit over one second windows.
func (c *Client) allow(now time.Time) bool {
	if c.maxFramesPerSecond <= 0 {
		return true
	}
	if now.Sub(c.windowStart) >= time.Second {
		c.windowStart = now
		c.windowCount = 0
	}
	c.windowCount++
	return c.windowCount <= c.maxFramesPerSecond
}

func (c *Client) reply(ack uint64, err error) {
	if ack != 0 {
		frame, encErr := types.EncodeAck(ack, types.AckFromError(err))
		if encErr == nil {
			c.Send(frame)
		}
		return
	}
	frame, encErr := types.EncodeFrame(types.EventSystem, types.PublicMessage(err))
	if encErr == nil {
		c.Send(frame)
	}
}

// ReadLoop pumps frames from the websocket connection to the session.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop(ctx context.Context, s *session.Session) {
	defer c.Close()
	c.conn.SetReadLimit(c.maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("ws closed unexpectedly", "error", err)
			} else {
				c.logger.Debug("read loop done", "error", err)
			}
			return
		}

		msg := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("could not unmarshal ws frame", "error", err)
			metrics.EventsRejected.WithLabelValues("", string(types.KindValidation)).Inc()
			c.reply(0, types.NewValidationError("decode", "malformed frame"))
			continue
		}
		if !c.allow(time.Now()) {
			metrics.RateLimitHits.Inc()
			c.logger.Warn("rate limit exceeded, dropping frame", "event", msg.Event)
			if msg.Ack != 0 {
				c.reply(msg.Ack, types.NewValidationError("rate limit", "too many frames, slow down"))
			}
			continue
		}
		ev, err := types.DecodeClientEvent(&msg)
		if err != nil {
			c.logger.Warn("rejected client event", "event", msg.Event, "error", err)
			metrics.EventsRejected.WithLabelValues(msg.Event, string(types.KindOf(err))).Inc()
			c.reply(msg.Ack, err)
			continue
		}
		s.Handle(ctx, ev, msg.Ack)
	}
}

// WriteLoop pumps frames from the send buffer to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection, after a call to
// Add(1). The application ensures that there is at most one writer to a
// connection by executing all writes from this goroutine. The connection is
// closed when WriteLoop returns, which also ends a blocked ReadLoop.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
		c.Done()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
