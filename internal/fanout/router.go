// Package fanout mirrors processed readings to the live connection bound to
// each identity.
package fanout

import (
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/keyed"
	"github.com/stanstork/sensorhub/internal/models"
)

// Conn is a live viewer connection. Enqueue must not block: it returns false
// when the frame was dropped or the connection is closed.
type Conn interface {
	Enqueue(frame []byte) bool
	Closed() bool
}

// Router holds at most one connection per identity.
type Router struct {
	conns  *keyed.Map[Conn]
	logger zerolog.Logger
}

func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		conns:  keyed.New[Conn](),
		logger: logger.With().Str("component", "fanout").Logger(),
	}
}

// Bind makes conn the identity's viewer, replacing any previous binding.
func (r *Router) Bind(identity string, conn Conn) {
	r.conns.Set(identity, conn)
}

// Unbind removes every binding that points at conn.
func (r *Router) Unbind(conn Conn) int {
	return r.conns.DeleteFunc(func(_ string, c Conn) bool { return c == conn })
}

func (r *Router) Bound(identity string) (Conn, bool) {
	return r.conns.Get(identity)
}

// Send pushes the reading to the identity's connection, if one is open.
func (r *Router) Send(identity string, reading models.Reading) {
	conn, ok := r.conns.Get(identity)
	if !ok || conn.Closed() {
		return
	}

	frame, err := json.Marshal(reading)
	if err != nil {
		r.logger.Error().Err(err).Str("identity", identity).Msg("encode live frame")
		return
	}
	if !conn.Enqueue(frame) {
		r.logger.Debug().Str("identity", identity).Msg("live frame dropped")
	}
}
