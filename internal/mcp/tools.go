package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

const defaultSessionLimit = 10

// --- Tool definitions ---

var toolGetNextWorkout = mcp.NewTool("get_next_workout",
	mcp.WithDescription("Resolve the workout the watch should show right now without pushing it. Returns the snapshot (exercises, sets, reps, rest, cursor) or null when nothing is pending today."),
)

var toolPushNextWorkout = mcp.NewTool("push_next_workout",
	mcp.WithDescription("Resolve the next workout and push it to the watch. Reports whether the watch received it; an unreachable watch picks up the next push."),
)

var toolGetWatchStatus = mcp.NewTool("get_watch_status",
	mcp.WithDescription("Watch reachability, event counters (received, dispatched, invalid, suppressed duplicate starts), the snapshot last pushed, and the last finished workout."),
)

var toolGetWatchDebugLogs = mcp.NewTool("get_watch_debug_logs",
	mcp.WithDescription("Timestamped entries from the companion bridge debug log, oldest first."),
)

var toolGetRecentSessions = mcp.NewTool("get_recent_sessions",
	mcp.WithDescription("Recently recorded workout sessions, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum sessions to return. Defaults to 10.")),
)

// --- Tool handlers ---

func (h *handlers) getNextWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := h.ds.NextWorkout(ctx)
	if err != nil {
		h.log.Error("mcp get_next_workout", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if snap == nil {
		return mcp.NewToolResultText("null"), nil
	}

	result, err := mcp.NewToolResultJSON(snap)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) pushNextWorkout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pushed, err := h.ds.PushNextWorkout(ctx)
	if err != nil {
		h.log.Error("mcp push_next_workout", "error", err)
		return mcp.NewToolResultError("push failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(pushed)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWatchStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.ds.WatchStatus(ctx)
	if err != nil {
		h.log.Error("mcp get_watch_status", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(st)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getWatchDebugLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.ds.DebugLogs(ctx)
	if err != nil {
		h.log.Error("mcp get_watch_debug_logs", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	if entries == nil {
		entries = []string{}
	}

	result, err := mcp.NewToolResultJSON(map[string]any{"entries": entries})
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}

func (h *handlers) getRecentSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", defaultSessionLimit)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	sessions, err := h.ds.RecentSessions(ctx, limit)
	if err != nil {
		h.log.Error("mcp get_recent_sessions", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}

	result, err := mcp.NewToolResultJSON(sessions)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
