package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("Kinevo Watch", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("Kinevo companion-watch sync. Inspect which workout the watch should show, push it, check whether the watch is reachable, and read the bridge debug log."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolGetNextWorkout, Handler: h.getNextWorkout},
		server.ServerTool{Tool: toolPushNextWorkout, Handler: h.pushNextWorkout},
		server.ServerTool{Tool: toolGetWatchStatus, Handler: h.getWatchStatus},
		server.ServerTool{Tool: toolGetWatchDebugLogs, Handler: h.getWatchDebugLogs},
		server.ServerTool{Tool: toolGetRecentSessions, Handler: h.getRecentSessions},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resNextWorkout, Handler: h.nextWorkoutResource},
		server.ServerResource{Resource: resRecentSessions, Handler: h.recentSessionsResource},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resNextWorkout = mcp.NewResource(
	"kinevo://next_workout",
	"Next Workout",
	mcp.WithResourceDescription("The workout snapshot the watch should show right now, or null"),
	mcp.WithMIMEType("application/json"),
)

var resRecentSessions = mcp.NewResource(
	"kinevo://recent_sessions",
	"Recent Sessions",
	mcp.WithResourceDescription("The latest recorded workout sessions"),
	mcp.WithMIMEType("application/json"),
)
