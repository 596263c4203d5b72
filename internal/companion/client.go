package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/bridge"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// Config configures a Client.
type Config struct {
	// HubAddr is tcp://host:port or ws://host/api/v1/watch/ws.
	HubAddr      string
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
	// OnContext is called after every context push from the phone.
	OnContext func(*watch.WorkoutSnapshot)
	// OnAck is called when the phone acknowledges a finished workout.
	OnAck func(workoutID string)
}

// Client keeps a link to the phone's hub open, resending unacknowledged
// finishes every time the link comes up.
type Client struct {
	cfg    Config
	outbox *Outbox
	latest *LatestContext
	log    *slog.Logger

	mu   sync.Mutex
	link bridge.Link
}

// NewClient creates a Client. The outbox is owned by the caller.
func NewClient(cfg Config, outbox *Outbox, log *slog.Logger) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, outbox: outbox, latest: NewLatestContext(), log: log}
}

// Latest returns the holder of the most recent context from the phone.
func (c *Client) Latest() *LatestContext { return c.latest }

// Connected reports whether a link to the hub is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Run connects to the hub and serves the link until ctx is cancelled,
// reconnecting with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		link, err := bridge.Dial(ctx, c.cfg.HubAddr)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Info("hub not reachable, retrying", "addr", c.cfg.HubAddr, "in", backoff, "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(backoff*2, c.cfg.MaxBackoff)
			continue
		}
		backoff = c.cfg.MinBackoff

		c.log.Info("connected to hub", "addr", c.cfg.HubAddr)
		c.setLink(link)
		c.flushPending(ctx)
		c.serve(ctx, link)
		c.setLink(nil)

		if ctx.Err() != nil {
			return nil
		}
		c.log.Info("hub link lost", "addr", c.cfg.HubAddr)
	}
}

func (c *Client) setLink(link bridge.Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.link = link
}

func (c *Client) current() (bridge.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return nil, watch.ErrUnreachable
	}
	return c.link, nil
}

func (c *Client) serve(ctx context.Context, link bridge.Link) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			link.Close()
		case <-stop:
		}
	}()
	defer link.Close()

	for {
		f, err := link.ReadFrame()
		if errors.Is(err, bridge.ErrBadFrame) {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if err != nil {
			return
		}
		c.handle(ctx, link, f)
	}
}

func (c *Client) handle(ctx context.Context, link bridge.Link, f bridge.Frame) {
	switch f.Kind {
	case bridge.KindContext:
		snap, err := watch.DecodeSnapshot(f.ContextState())
		if err != nil {
			c.log.Warn("ignoring invalid context", "error", err)
			return
		}
		c.latest.Set(snap)
		if c.cfg.OnContext != nil {
			c.cfg.OnContext(snap)
		}

	case bridge.KindMessage:
		if f.Type == watch.TypeFinishAck {
			c.handleAck(f.Payload)
		} else {
			c.log.Debug("ignoring message from phone", "type", f.Type)
		}
		if f.ID != "" {
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
			defer cancel()
			if err := link.WriteFrame(wctx, bridge.Frame{Kind: bridge.KindReply, ID: f.ID}); err != nil {
				c.log.Warn("reply not sent", "id", f.ID, "error", err)
			}
		}

	case bridge.KindReply:
	}
}

func (c *Client) handleAck(payload json.RawMessage) {
	ack, err := watch.ParseAck(payload)
	if err != nil {
		c.log.Warn("ignoring invalid ack", "error", err)
		return
	}
	removed, err := c.outbox.Remove(ack)
	if err != nil {
		c.log.Error("ack not applied to outbox", "workout_id", ack.WorkoutID, "finish_id", ack.FinishID, "error", err)
		return
	}
	c.log.Info("finish acknowledged", "workout_id", ack.WorkoutID, "finish_id", ack.FinishID, "was_pending", removed)
	if c.cfg.OnAck != nil {
		c.cfg.OnAck(ack.WorkoutID)
	}
}

// flushPending resends every unacknowledged finish.
func (c *Client) flushPending(ctx context.Context) {
	pending, err := c.outbox.Pending()
	if err != nil {
		c.log.Error("reading outbox", "error", err)
		return
	}
	for _, p := range pending {
		if err := c.sendFinish(ctx, p.Event); err != nil {
			c.log.Warn("resend failed", "workout_id", p.Event.WorkoutID, "error", err)
			return
		}
		c.log.Info("resent finish", "workout_id", p.Event.WorkoutID, "attempts", p.Attempts+1)
	}
}

// StartWorkout tells the phone the user tapped start.
func (c *Client) StartWorkout(ctx context.Context, workoutID string) error {
	return c.send(ctx, watch.TypeStartWorkout, watch.StartWorkoutEvent{WorkoutID: workoutID})
}

// CompleteSet reports one completed set. Set progress is fire-and-forget.
func (c *Client) CompleteSet(ctx context.Context, ev watch.SetCompletionEvent) error {
	return c.send(ctx, watch.TypeSetComplete, ev)
}

// FinishWorkout stores ev in the outbox, then sends it. A send failure is
// not an error: the entry is resent on the next connection until the phone
// acknowledges it. An empty FinishID is filled with a fresh one.
func (c *Client) FinishWorkout(ctx context.Context, ev watch.FinishWorkoutEvent) error {
	if ev.WorkoutID == "" {
		return fmt.Errorf("finish workout: workout id is required")
	}
	if ev.FinishID == "" {
		ev.FinishID = uuid.NewString()
	}
	if err := c.outbox.Add(ev); err != nil {
		return err
	}
	if err := c.sendFinish(ctx, ev); err != nil {
		c.log.Info("finish queued until the phone is reachable", "workout_id", ev.WorkoutID, "error", err)
	}
	return nil
}

func (c *Client) sendFinish(ctx context.Context, ev watch.FinishWorkoutEvent) error {
	if err := c.outbox.MarkAttempt(ev.FinishID); err != nil {
		c.log.Warn("outbox attempt not recorded", "workout_id", ev.WorkoutID, "error", err)
	}
	return c.send(ctx, watch.TypeFinishWorkout, ev)
}

func (c *Client) send(ctx context.Context, t watch.MessageType, payload any) error {
	link, err := c.current()
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", t, err)
	}
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := link.WriteFrame(wctx, bridge.Frame{Kind: bridge.KindMessage, Type: t, Payload: data}); err != nil {
		return fmt.Errorf("sending %s: %w", t, err)
	}
	return nil
}
