package watch

import (
	"context"
	"fmt"
	"log/slog"
)

// PersistFunc durably records a finished workout on the phone side. It must
// be idempotent: the companion resends until it sees an acknowledgement.
type PersistFunc func(ctx context.Context, ev FinishWorkoutEvent) error

// FinishOutcome is what the finish handler learns about a FINISH_WORKOUT frame.
type FinishOutcome struct {
	Event FinishWorkoutEvent
	// Persisted is true once the store accepted the event.
	Persisted bool
	// Acknowledged is true when the ack was handed to the bridge.
	Acknowledged bool
	// Err is a *PersistenceError when the store rejected the event.
	Err error
	// AckErr is set when the ack could not be sent. The companion keeps
	// its copy and resends on the next reachable window.
	AckErr error
}

// ReliableChannel applies the ack discipline to FINISH_WORKOUT: persist
// first, acknowledge only on success, never retry the ack.
type ReliableChannel struct {
	bridge Bridge
	log    *slog.Logger
}

// NewReliableChannel creates a ReliableChannel on top of bridge.
func NewReliableChannel(bridge Bridge, log *slog.Logger) *ReliableChannel {
	return &ReliableChannel{bridge: bridge, log: log}
}

// OnFinishReceived calls persist exactly once, sends the ack if and only if
// persist succeeded, then hands the outcome to onFinish (if non-nil).
func (c *ReliableChannel) OnFinishReceived(ctx context.Context, ev FinishWorkoutEvent, persist PersistFunc, onFinish func(FinishOutcome)) FinishOutcome {
	out := FinishOutcome{Event: ev}

	if err := callPersist(ctx, persist, ev); err != nil {
		out.Err = &PersistenceError{WorkoutID: ev.WorkoutID, Err: err}
		c.log.Error("finish not persisted, withholding ack", "workout_id", ev.WorkoutID, "error", err)
	} else {
		out.Persisted = true
		if err := c.bridge.SendAck(ctx, AckPayload{WorkoutID: ev.WorkoutID, FinishID: ev.FinishID}); err != nil {
			out.AckErr = err
			c.log.Warn("finish ack not delivered, companion will resend", "workout_id", ev.WorkoutID, "error", err)
		} else {
			out.Acknowledged = true
			c.log.Info("finish acknowledged", "workout_id", ev.WorkoutID)
		}
	}

	if onFinish != nil {
		onFinish(out)
	}
	return out
}

func callPersist(ctx context.Context, persist PersistFunc, ev FinishWorkoutEvent) (err error) {
	if persist == nil {
		return fmt.Errorf("no finish store configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persist panicked: %v", r)
		}
	}()
	return persist(ctx, ev)
}
