// Package bridge carries the watch protocol between the phone-side Hub and a
// companion over newline-delimited JSON (TCP) or WebSocket text frames.
package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// maxFrameSize bounds a single encoded frame.
const maxFrameSize = 1 << 20

// ErrBadFrame marks an undecodable frame. The link stays usable.
var ErrBadFrame = errors.New("bridge: malformed frame")

// FrameKind distinguishes the three frame shapes on the wire.
type FrameKind string

const (
	// KindContext replaces the companion's application context.
	KindContext FrameKind = "context"
	// KindMessage is a one-shot message in either direction.
	KindMessage FrameKind = "message"
	// KindReply answers a message that carried an id.
	KindReply FrameKind = "reply"
)

// Frame is the unit exchanged over a Link.
type Frame struct {
	Kind    FrameKind         `json:"kind"`
	ID      string            `json:"id,omitempty"`
	Type    watch.MessageType `json:"type,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	// State is set on context frames: a snapshot or the literal null.
	State json.RawMessage `json:"state,omitempty"`
}

// Envelope returns the message carried by a message frame.
func (f Frame) Envelope() watch.Envelope {
	return watch.Envelope{Type: f.Type, Payload: f.Payload}
}

// ContextState returns the state of a context frame, treating an absent
// state as null.
func (f Frame) ContextState() []byte {
	if len(f.State) == 0 {
		return []byte("null")
	}
	return f.State
}

// Link is one established connection to a peer.
type Link interface {
	// ReadFrame blocks for the next frame. Errors wrapping ErrBadFrame are
	// recoverable; any other error means the link is gone.
	ReadFrame() (Frame, error)
	// WriteFrame sends f, honoring ctx's deadline. Safe for concurrent use.
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
	RemoteAddr() string
}

// Dial connects to a hub. addr is tcp://host:port, ws://host/path,
// wss://host/path or a bare host:port (TCP).
func Dial(ctx context.Context, addr string) (Link, error) {
	if !strings.Contains(addr, "://") {
		addr = "tcp://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing hub address %q: %w", addr, err)
	}

	switch u.Scheme {
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", u.Host, err)
		}
		return newTCPLink(conn), nil
	case "ws", "wss":
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		return newWSLink(conn), nil
	default:
		return nil, fmt.Errorf("unsupported hub scheme %q", u.Scheme)
	}
}

func encodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Kind, err)
	}
	return data, nil
}

func decodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	switch f.Kind {
	case KindContext, KindMessage, KindReply:
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown kind %q", ErrBadFrame, f.Kind)
	}
}

// tcpLink frames JSON objects with a trailing newline.
type tcpLink struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

func newTCPLink(conn net.Conn) *tcpLink {
	s := bufio.NewScanner(conn)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &tcpLink{conn: conn, scanner: s}
}

func (l *tcpLink) ReadFrame() (Frame, error) {
	for l.scanner.Scan() {
		line := l.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return decodeFrame(line)
	}
	if err := l.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

func (l *tcpLink) WriteFrame(ctx context.Context, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	if _, err := l.conn.Write(data); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Kind, err)
	}
	return nil
}

func (l *tcpLink) Close() error      { return l.conn.Close() }
func (l *tcpLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }

// wsLink sends one frame per WebSocket text message.
type wsLink struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSLink(conn *websocket.Conn) *wsLink {
	conn.SetReadLimit(maxFrameSize)
	return &wsLink{conn: conn}
}

func (l *wsLink) ReadFrame() (Frame, error) {
	_, data, err := l.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	return decodeFrame(data)
}

func (l *wsLink) WriteFrame(ctx context.Context, f Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting deadline: %w", err)
	}
	if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", f.Kind, err)
	}
	return nil
}

func (l *wsLink) Close() error      { return l.conn.Close() }
func (l *wsLink) RemoteAddr() string { return l.conn.RemoteAddr().String() }
