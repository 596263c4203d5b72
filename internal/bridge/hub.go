package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

var _ watch.Bridge = (*Hub)(nil)

// Options tunes a Hub. Zero values take defaults.
type Options struct {
	// WriteTimeout bounds a frame write when the caller's context has no
	// deadline.
	WriteTimeout time.Duration
	// OnReachabilityChange is called outside the hub's lock whenever the
	// companion link comes up or goes away.
	OnReachabilityChange func(reachable bool)
}

// Hub is the phone side of the bridge. It holds at most one companion link;
// a new link replaces the previous one.
type Hub struct {
	debug *DebugLog
	opts  Options
	log   *slog.Logger

	upgrader websocket.Upgrader

	mu        sync.Mutex
	cur       *peer
	pending   map[string]chan watch.Reply
	subs      map[uint64]func(watch.Envelope)
	nextSub   uint64
	listeners []net.Listener
	closed    bool
	// lastState is the last context a companion accepted.
	lastState []byte
}

// peer is one attached link. done closes when its read loop exits.
type peer struct {
	link Link
	done chan struct{}
}

// New creates a Hub. debug may be nil, in which case debug log reads return
// nothing.
func New(debug *DebugLog, opts Options, log *slog.Logger) *Hub {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Hub{
		debug:    debug,
		opts:     opts,
		log:      log,
		pending:  make(map[string]chan watch.Reply),
		subs:     make(map[uint64]func(watch.Envelope)),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Serve accepts companion TCP connections on ln until the hub is closed.
func (h *Hub) Serve(ln net.Listener) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		ln.Close()
		return watch.ErrClosed
	}
	h.listeners = append(h.listeners, ln)
	h.mu.Unlock()

	h.log.Info("bridge listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if h.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting companion: %w", err)
		}
		h.Attach(newTCPLink(conn))
	}
}

// ServeWS upgrades an HTTP request to a WebSocket companion link.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.Attach(newWSLink(conn))
}

// Attach makes link the active companion link and starts reading from it.
func (h *Hub) Attach(link Link) {
	p := &peer{link: link, done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		link.Close()
		return
	}
	old := h.cur
	h.cur = p
	replay := h.lastState
	h.mu.Unlock()

	if old != nil {
		old.link.Close()
		h.debugf("companion replaced: %s -> %s", old.link.RemoteAddr(), link.RemoteAddr())
		// No reachability event fires for a replacement, so hand the new
		// link the context the old one had.
		if replay != nil {
			if err := h.write(context.Background(), p, Frame{Kind: KindContext, State: replay}); err != nil {
				h.log.Warn("context replay failed", "remote", link.RemoteAddr(), "error", err)
			}
		}
	} else {
		h.debugf("companion connected: %s", link.RemoteAddr())
		h.notify(true)
	}
	h.log.Info("companion attached", "remote", link.RemoteAddr())

	go h.readLoop(p)
}

func (h *Hub) readLoop(p *peer) {
	defer func() {
		close(p.done)
		p.link.Close()

		h.mu.Lock()
		current := h.cur == p
		if current {
			h.cur = nil
		}
		h.mu.Unlock()

		if current {
			h.log.Info("companion detached", "remote", p.link.RemoteAddr())
			h.debugf("companion disconnected: %s", p.link.RemoteAddr())
			h.notify(false)
		}
	}()

	for {
		f, err := p.link.ReadFrame()
		if errors.Is(err, ErrBadFrame) {
			h.log.Warn("dropping malformed frame", "remote", p.link.RemoteAddr(), "error", err)
			continue
		}
		if err != nil {
			return
		}
		h.handle(p, f)
	}
}

func (h *Hub) handle(p *peer, f Frame) {
	switch f.Kind {
	case KindReply:
		h.mu.Lock()
		ch := h.pending[f.ID]
		delete(h.pending, f.ID)
		h.mu.Unlock()
		if ch != nil {
			ch <- watch.Reply{Payload: f.Payload}
		}

	case KindMessage:
		for _, fn := range h.subscribers() {
			fn(f.Envelope())
		}
		if f.ID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.WriteTimeout)
			err := p.link.WriteFrame(ctx, Frame{Kind: KindReply, ID: f.ID})
			cancel()
			if err != nil {
				h.log.Warn("reply not sent", "id", f.ID, "error", err)
			}
		}

	default:
		h.log.Debug("ignoring frame from companion", "kind", f.Kind)
	}
}

// subscribers returns the listeners in registration order.
func (h *Hub) subscribers() []func(watch.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]uint64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(watch.Envelope), 0, len(ids))
	for _, id := range ids {
		out = append(out, h.subs[id])
	}
	return out
}

// PushState replaces the companion's context. An empty state is sent as null.
func (h *Hub) PushState(ctx context.Context, state []byte) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	if len(state) == 0 {
		state = []byte("null")
	}
	if err := h.write(ctx, p, Frame{Kind: KindContext, State: state}); err != nil {
		h.debugf("context push failed: %v", err)
		return fmt.Errorf("pushing context: %w", err)
	}
	h.mu.Lock()
	h.lastState = append([]byte(nil), state...)
	h.mu.Unlock()
	return nil
}

// SendMessage sends env and waits for the companion's reply, ctx expiry, or
// link loss.
func (h *Hub) SendMessage(ctx context.Context, env watch.Envelope) (watch.Reply, error) {
	p, err := h.current()
	if err != nil {
		return watch.Reply{}, err
	}

	id := uuid.NewString()
	ch := make(chan watch.Reply, 1)
	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
	}()

	if err := h.write(ctx, p, Frame{Kind: KindMessage, ID: id, Type: env.Type, Payload: env.Payload}); err != nil {
		return watch.Reply{}, fmt.Errorf("sending %s: %w", env.Type, err)
	}

	select {
	case r := <-ch:
		return r, nil
	case <-ctx.Done():
		return watch.Reply{}, ctx.Err()
	case <-p.done:
		return watch.Reply{}, watch.ErrUnreachable
	}
}

// SendAck sends FINISH_WORKOUT_ACK without waiting for a reply.
func (h *Hub) SendAck(ctx context.Context, ack watch.AckPayload) error {
	p, err := h.current()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("encoding ack: %w", err)
	}
	if err := h.write(ctx, p, Frame{Kind: KindMessage, Type: watch.TypeFinishAck, Payload: payload}); err != nil {
		h.debugf("ack failed for %s: %v", ack.WorkoutID, err)
		return fmt.Errorf("sending ack: %w", err)
	}
	h.debugf("ack sent for %s", ack.WorkoutID)
	return nil
}

// Subscribe registers onMessage for inbound messages. Listeners run on the
// link's read goroutine, one frame at a time, in arrival order.
func (h *Hub) Subscribe(onMessage func(watch.Envelope)) (watch.Subscription, error) {
	if onMessage == nil {
		return nil, fmt.Errorf("subscribe: nil listener")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, watch.ErrClosed
	}
	h.nextSub++
	id := h.nextSub
	h.subs[id] = onMessage
	return &hubSub{h: h, id: id}, nil
}

// IsReachable reports whether a companion link is attached.
func (h *Hub) IsReachable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cur != nil && !h.closed
}

// RemoteAddr returns the attached companion's address, or "".
func (h *Hub) RemoteAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur == nil {
		return ""
	}
	return h.cur.link.RemoteAddr()
}

func (h *Hub) ReadDebugLogs(ctx context.Context) ([]string, error) {
	if h.debug == nil {
		return []string{}, nil
	}
	return h.debug.Read(ctx)
}

func (h *Hub) ClearDebugLogs(ctx context.Context) error {
	if h.debug == nil {
		return nil
	}
	return h.debug.Clear(ctx)
}

// Close stops listeners, drops the companion link and rejects further calls.
// The debug log is owned by the caller and left open.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	p := h.cur
	lns := h.listeners
	h.listeners = nil
	h.mu.Unlock()

	for _, ln := range lns {
		ln.Close()
	}
	if p != nil {
		p.link.Close()
		<-p.done
	}
	return nil
}

func (h *Hub) current() (*peer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, watch.ErrClosed
	}
	if h.cur == nil {
		return nil, watch.ErrUnreachable
	}
	return h.cur, nil
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// write sends f on p. A failed write drops the link; the companion will
// reconnect.
func (h *Hub) write(ctx context.Context, p *peer, f Frame) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.WriteTimeout)
		defer cancel()
	}
	if err := p.link.WriteFrame(ctx, f); err != nil {
		p.link.Close()
		return err
	}
	return nil
}

func (h *Hub) notify(reachable bool) {
	if h.opts.OnReachabilityChange != nil {
		h.opts.OnReachabilityChange(reachable)
	}
}

func (h *Hub) debugf(format string, args ...any) {
	if h.debug == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.debug.Append(ctx, line); err != nil {
		h.log.Warn("debug log append failed", "error", err)
	}
}

type hubSub struct {
	h    *Hub
	id   uint64
	once sync.Once
}

func (s *hubSub) Unsubscribe() error {
	s.once.Do(func() {
		s.h.mu.Lock()
		delete(s.h.subs, s.id)
		s.h.mu.Unlock()
	})
	return nil
}
