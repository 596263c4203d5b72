package watch

import (
	"context"
	"fmt"
	"log/slog"
)

// StateChannel pushes the continuously-overwritten workout snapshot.
// It is stateless between calls: a failed push is dropped, never buffered
// or retried, and the next natural trigger supersedes it.
type StateChannel struct {
	bridge Bridge
	log    *slog.Logger
}

// NewStateChannel creates a StateChannel on top of bridge.
func NewStateChannel(bridge Bridge, log *slog.Logger) *StateChannel {
	return &StateChannel{bridge: bridge, log: log}
}

// Push sends s to the companion. Push(ctx, nil) clears the companion's
// pending-workout display. The returned error is informational only.
func (c *StateChannel) Push(ctx context.Context, s *WorkoutSnapshot) error {
	data, err := EncodeSnapshot(s)
	if err != nil {
		c.log.Warn("state push skipped: invalid snapshot", "error", err)
		return err
	}
	if err := c.bridge.PushState(ctx, data); err != nil {
		c.log.Warn("state push dropped", "workout_id", snapshotID(s), "error", err)
		return fmt.Errorf("pushing state: %w", err)
	}
	c.log.Debug("state pushed", "workout_id", snapshotID(s), "bytes", len(data))
	return nil
}

func snapshotID(s *WorkoutSnapshot) string {
	if s == nil {
		return "<none>"
	}
	return s.WorkoutID
}
