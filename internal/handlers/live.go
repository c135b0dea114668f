package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/fanout"
	"github.com/stanstork/sensorhub/internal/ingest"
)

type LiveIngester interface {
	IngestLive(ctx context.Context, raw ingest.RawReading, conn fanout.Conn) (ingest.Result, error)
}

type Unbinder interface {
	Unbind(conn fanout.Conn) int
}

type LiveOptions struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

// LiveHandler serves the long-lived viewer connection. Every message is a
// reading naming its identity; the connection is bound to that identity and
// receives the processed readings back.
type LiveHandler struct {
	ingester LiveIngester
	router   Unbinder
	upgrader websocket.Upgrader
	opts     LiveOptions
	logger   zerolog.Logger
}

func NewLiveHandler(ingester LiveIngester, router Unbinder, opts LiveOptions, logger zerolog.Logger) *LiveHandler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	h := &LiveHandler{
		ingester: ingester,
		router:   router,
		opts:     opts,
		logger:   logger.With().Str("handler", "live").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newWSConn(h.opts.SendBuffer)
	go conn.writeLoop(ws, h.opts.WriteTimeout, h.logger)
	defer func() {
		conn.close()
		if n := h.router.Unbind(conn); n > 0 {
			h.logger.Debug().Int("bindings", n).Msg("live connection unbound")
		}
	}()

	ws.SetReadLimit(h.opts.MaxMessageSize)
	ctx := context.WithoutCancel(r.Context())
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("live connection closed")
			}
			return
		}

		var raw ingest.RawReading
		if err := json.Unmarshal(msg, &raw); err != nil {
			h.logger.Debug().Err(err).Msg("discarding malformed live message")
			continue
		}
		if _, err := h.ingester.IngestLive(ctx, raw, conn); err != nil {
			var verr *ingest.ValidationError
			if errors.As(err, &verr) {
				h.logger.Debug().Err(err).Msg("live reading rejected")
				continue
			}
			h.logger.Error().Err(err).Str("identity", raw.Identity).Msg("failed to ingest live reading")
		}
	}
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
}

// wsConn is the fanout.Conn side of a websocket. Frames are queued on a
// bounded channel and written by a single goroutine.
type wsConn struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(buffer int) *wsConn {
	return &wsConn{
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Enqueue(frame []byte) bool {
	if c.Closed() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) writeLoop(ws *websocket.Conn, timeout time.Duration, logger zerolog.Logger) {
	defer ws.Close()
	for {
		select {
		case frame := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug().Err(err).Msg("live write failed")
				c.close()
				return
			}
		case <-c.done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(timeout))
			return
		}
	}
}
