package fanout

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) Enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func reading() models.Reading {
	return models.Reading{Identity: "a@x.com", Temp: 21, Timestamp: time.Now().UTC()}
}

func TestRouter_SendToBoundConnection(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	conn := &fakeConn{}
	r.Bind("a@x.com", conn)

	r.Send("a@x.com", reading())

	require.Equal(t, 1, conn.count())
	var got models.Reading
	require.NoError(t, json.Unmarshal(conn.frames[0], &got))
	assert.Equal(t, 21.0, got.Temp)
}

func TestRouter_SendWithoutBindingIsNoop(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	assert.NotPanics(t, func() { r.Send("nobody@x.com", reading()) })
}

func TestRouter_SendSkipsClosedConnection(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	conn := &fakeConn{closed: true}
	r.Bind("a@x.com", conn)

	r.Send("a@x.com", reading())

	assert.Equal(t, 0, conn.count())
}

func TestRouter_RebindReplaces(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	first, second := &fakeConn{}, &fakeConn{}
	r.Bind("a@x.com", first)
	r.Bind("a@x.com", second)

	r.Send("a@x.com", reading())

	assert.Equal(t, 0, first.count())
	assert.Equal(t, 1, second.count())
}

func TestRouter_UnbindRemovesOnlyOwnBindings(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	shared, other := &fakeConn{}, &fakeConn{}
	r.Bind("a@x.com", shared)
	r.Bind("b@x.com", shared)
	r.Bind("c@x.com", other)

	assert.Equal(t, 2, r.Unbind(shared))

	_, ok := r.Bound("a@x.com")
	assert.False(t, ok)
	_, ok = r.Bound("b@x.com")
	assert.False(t, ok)
	c, ok := r.Bound("c@x.com")
	require.True(t, ok)
	assert.Same(t, other, c)
}

func TestRouter_UnbindAfterRebindKeepsNewConnection(t *testing.T) {
	r := NewRouter(zerolog.Nop())
	old, current := &fakeConn{}, &fakeConn{}
	r.Bind("a@x.com", old)
	r.Bind("a@x.com", current)

	r.Unbind(old)

	c, ok := r.Bound("a@x.com")
	require.True(t, ok)
	assert.Same(t, current, c)
}
