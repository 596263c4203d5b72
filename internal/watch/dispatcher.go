package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDedupWindow is how long a repeated START_WORKOUT for the same
// workout is treated as a duplicate tap.
const DefaultDedupWindow = 1200 * time.Millisecond

// DefaultPersistTimeout bounds a single PersistFunc call.
const DefaultPersistTimeout = 10 * time.Second

// Handlers are the application callbacks for validated inbound events.
// Any of them may be nil.
type Handlers struct {
	OnSetComplete   func(SetCompletionEvent)
	OnStartWorkout  func(StartWorkoutEvent)
	OnFinishWorkout func(FinishOutcome)
}

// DispatcherConfig configures a Dispatcher. Zero values take defaults.
type DispatcherConfig struct {
	DedupWindow    time.Duration
	PersistTimeout time.Duration
	// Persist records FINISH_WORKOUT events before they are acknowledged.
	Persist PersistFunc
	// Now is the clock used for the dedup window.
	Now func() time.Time
}

// Stats counts frames seen by a Dispatcher.
type Stats struct {
	Received   uint64 `json:"received"`
	Dispatched uint64 `json:"dispatched"`
	Invalid    uint64 `json:"invalid"`
	Suppressed uint64 `json:"suppressed"`
	Unknown    uint64 `json:"unknown"`
}

// Dispatcher owns the single inbound subscription on a Bridge, validates
// frames, suppresses duplicate START_WORKOUT taps, and routes events to the
// currently registered Handlers. Frames are handled one at a time in
// arrival order.
type Dispatcher struct {
	bridge   Bridge
	reliable *ReliableChannel
	cfg      DispatcherConfig
	log      *slog.Logger

	handlers atomic.Pointer[Handlers]

	subMu sync.Mutex
	sub   Subscription

	// mu serializes dispatch and guards everything below.
	mu          sync.Mutex
	gen         uint64
	live        bool
	lastStartID string
	lastStartAt time.Time
	stats       Stats
}

// NewDispatcher creates a Dispatcher. It does not subscribe until Subscribe
// is called.
func NewDispatcher(bridge Bridge, reliable *ReliableChannel, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if reliable == nil {
		reliable = NewReliableChannel(bridge, log)
	}
	d := &Dispatcher{bridge: bridge, reliable: reliable, cfg: cfg, log: log}
	d.handlers.Store(&Handlers{})
	return d
}

// RegisterHandlers replaces the handler set. The change applies to the next
// frame; the underlying subscription is untouched.
func (d *Dispatcher) RegisterHandlers(h Handlers) {
	d.handlers.Store(&h)
}

// Subscribe attaches the dispatcher to the bridge's inbound stream. Calling
// it again while subscribed returns the existing handle without creating a
// second listener.
func (d *Dispatcher) Subscribe() (Subscription, error) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	if d.sub != nil {
		d.log.Warn("dispatcher already subscribed, reusing listener")
		return dispatcherHandle{d: d, gen: d.currentGen()}, nil
	}

	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.live = true
	d.mu.Unlock()

	sub, err := d.bridge.Subscribe(func(env Envelope) { d.dispatch(gen, env) })
	if err != nil {
		d.mu.Lock()
		d.live = false
		d.mu.Unlock()
		return nil, fmt.Errorf("subscribing to bridge: %w", err)
	}
	d.sub = sub
	d.log.Info("dispatcher subscribed")
	return dispatcherHandle{d: d, gen: gen}, nil
}

// Unsubscribe releases the bridge subscription. Once it returns no handler
// runs again, even for frames already in flight. It is a no-op when not
// subscribed. It must not be called from inside a handler.
func (d *Dispatcher) Unsubscribe() error {
	return d.unsubscribe(0)
}

// Subscribed reports whether the dispatcher holds a live subscription.
func (d *Dispatcher) Subscribed() bool {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return d.sub != nil
}

// Stats returns a copy of the frame counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) currentGen() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// unsubscribe releases the subscription if gen matches it (0 matches any).
func (d *Dispatcher) unsubscribe(gen uint64) error {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	if d.sub == nil {
		return nil
	}

	// Waiting on mu lets an in-flight dispatch finish before we cut off.
	d.mu.Lock()
	if gen != 0 && gen != d.gen {
		d.mu.Unlock()
		return nil
	}
	d.live = false
	d.mu.Unlock()

	sub := d.sub
	d.sub = nil
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("releasing bridge subscription: %w", err)
	}
	d.log.Info("dispatcher unsubscribed")
	return nil
}

func (d *Dispatcher) dispatch(gen uint64, env Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.live || gen != d.gen {
		return
	}
	d.stats.Received++
	h := d.handlers.Load()

	switch env.Type {
	case TypeSetComplete:
		ev, err := ParseSetCompletion(env.Payload)
		if err != nil {
			d.reject(err)
			return
		}
		d.stats.Dispatched++
		if h.OnSetComplete != nil {
			d.invoke(env.Type, func() { h.OnSetComplete(ev) })
		}

	case TypeStartWorkout:
		ev, err := ParseStartWorkout(env.Payload)
		if err != nil {
			d.reject(err)
			return
		}
		now := d.cfg.Now()
		if ev.WorkoutID == d.lastStartID && now.Sub(d.lastStartAt) < d.cfg.DedupWindow {
			d.stats.Suppressed++
			d.log.Debug("duplicate start suppressed", "workout_id", ev.WorkoutID, "since", now.Sub(d.lastStartAt))
			return
		}
		d.lastStartID = ev.WorkoutID
		d.lastStartAt = now
		d.stats.Dispatched++
		if h.OnStartWorkout != nil {
			d.invoke(env.Type, func() { h.OnStartWorkout(ev) })
		}

	case TypeFinishWorkout:
		ev, err := ParseFinishWorkout(env.Payload)
		if err != nil {
			d.reject(err)
			return
		}
		d.stats.Dispatched++
		d.invoke(env.Type, func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PersistTimeout)
			defer cancel()
			d.reliable.OnFinishReceived(ctx, ev, d.cfg.Persist, h.OnFinishWorkout)
		})

	default:
		d.stats.Unknown++
		d.log.Debug("ignoring unknown frame", "type", env.Type)
	}
}

func (d *Dispatcher) reject(err error) {
	d.stats.Invalid++
	var verr *ValidationError
	if errors.As(err, &verr) {
		d.log.Warn("discarding invalid frame", "type", verr.Type, "field", verr.Field, "reason", verr.Reason)
		return
	}
	d.log.Warn("discarding invalid frame", "error", err)
}

// invoke runs a handler so that a panic in application code cannot take
// down the event loop.
func (d *Dispatcher) invoke(t MessageType, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", "type", t, "panic", r)
		}
	}()
	fn()
}

type dispatcherHandle struct {
	d   *Dispatcher
	gen uint64
}

func (h dispatcherHandle) Unsubscribe() error {
	return h.d.unsubscribe(h.gen)
}
