package mcp

import (
	"context"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/models"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/session"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// PushResult is the outcome of pushing the next workout to the companion.
type PushResult struct {
	Snapshot  *watch.WorkoutSnapshot `json:"snapshot"`
	Delivered bool                   `json:"delivered"`
	Error     string                 `json:"error,omitempty"`
}

// DataSource abstracts the watch sync for MCP tools. HTTPClient satisfies it
// against a running kinevo-sync admin API.
type DataSource interface {
	NextWorkout(ctx context.Context) (*watch.WorkoutSnapshot, error)
	PushNextWorkout(ctx context.Context) (*PushResult, error)
	WatchStatus(ctx context.Context) (*session.Status, error)
	DebugLogs(ctx context.Context) ([]string, error)
	RecentSessions(ctx context.Context, limit int) ([]models.WorkoutSessionRow, error)
}
