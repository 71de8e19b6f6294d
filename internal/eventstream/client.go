package eventstream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ErrDesync reports that the stream broke mid-event: a header that does not
// parse or a payload cut short. The connection is unusable afterwards.
var ErrDesync = errors.New("event stream desynchronized")

type header struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// Conn is a persistent ordered bidirectional event channel to a speech
// engine. Not safe for concurrent use; callers own the connection for the
// duration of one protocol exchange.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
}

// Dial opens an event stream to addr, honoring the context deadline.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}

// NewConn wraps an established connection. Exposed so tests can drive the
// protocol over net.Pipe.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

// SetWriteDeadline bounds every subsequent write. A zero time removes the
// bound. Reads carry their own per-call deadline via ReadEvent.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.nc.SetWriteDeadline(t)
}

// WriteEvent sends one event: header line then payload bytes.
func (c *Conn) WriteEvent(ev Event) error {
	h := header{Type: ev.Type, Data: ev.Data, PayloadLength: len(ev.Payload)}
	line, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal event header: %w", err)
	}
	line = append(line, '\n')
	if _, err := c.nc.Write(line); err != nil {
		return fmt.Errorf("write event header: %w", err)
	}
	if len(ev.Payload) > 0 {
		if _, err := c.nc.Write(ev.Payload); err != nil {
			return fmt.Errorf("write event payload: %w", err)
		}
	}
	return nil
}

// ReadEvent blocks for the next event until deadline. A zero deadline blocks
// indefinitely. Returns io.EOF when the peer closes the stream cleanly
// between events, ErrDesync when it breaks mid-event.
func (c *Conn) ReadEvent(deadline time.Time) (Event, error) {
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return Event{}, err
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return Event{}, io.EOF
		}
		if errors.Is(err, io.EOF) {
			return Event{}, fmt.Errorf("%w: truncated header", ErrDesync)
		}
		return Event{}, err
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return Event{}, fmt.Errorf("%w: bad header: %v", ErrDesync, err)
	}

	ev := Event{Type: h.Type, Data: h.Data}
	if h.PayloadLength > 0 {
		ev.Payload = make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(c.r, ev.Payload); err != nil {
			return Event{}, fmt.Errorf("%w: truncated payload: %v", ErrDesync, err)
		}
	}
	return ev, nil
}
