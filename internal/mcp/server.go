// Package mcp exposes the workout session over the Model Context Protocol.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(backend Backend, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("liftoff", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("liftoff workout tracker. Start a workout from a program template or blank, log sets as they are lifted, then complete it to record personal records and earn XP. Exercise and set indexes are zero-based."),
	)

	h := &handlers{backend: backend, log: log}

	s.AddTools(
		server.ServerTool{Tool: toolListTemplates, Handler: h.listTemplates},
		server.ServerTool{Tool: toolStartWorkout, Handler: h.startWorkout},
		server.ServerTool{Tool: toolAddExercise, Handler: h.addExercise},
		server.ServerTool{Tool: toolRemoveExercise, Handler: h.removeExercise},
		server.ServerTool{Tool: toolAddSet, Handler: h.addSet},
		server.ServerTool{Tool: toolLogSet, Handler: h.logSet},
		server.ServerTool{Tool: toolRemoveSet, Handler: h.removeSet},
		server.ServerTool{Tool: toolCompleteWorkout, Handler: h.completeWorkout},
		server.ServerTool{Tool: toolDiscardWorkout, Handler: h.discardWorkout},
		server.ServerTool{Tool: toolGetSession, Handler: h.getSession},
		server.ServerTool{Tool: toolGetLevel, Handler: h.getLevel},
		server.ServerTool{Tool: toolAcknowledgeLevelUp, Handler: h.acknowledgeLevelUp},
		server.ServerTool{Tool: toolGetPersonalRecords, Handler: h.getPersonalRecords},
		server.ServerTool{Tool: toolGetWorkoutLogs, Handler: h.getWorkoutLogs},
		server.ServerTool{Tool: toolGetTrainingSummary, Handler: h.getTrainingSummary},
	)

	s.AddResources(
		server.ServerResource{Resource: resSession, Handler: h.sessionResource},
		server.ServerResource{Resource: resLevel, Handler: h.levelResource},
	)

	return s
}

// ServeStdio runs the MCP server over stdin/stdout until stdin closes.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	backend Backend
	log     *slog.Logger
}

// --- Resource definitions ---

var resSession = mcp.NewResource(
	"liftoff://session",
	"Workout Session",
	mcp.WithResourceDescription("The workout in progress, or the idle state with the last completion's new personal records"),
	mcp.WithMIMEType("application/json"),
)

var resLevel = mcp.NewResource(
	"liftoff://level",
	"Level",
	mcp.WithResourceDescription("Current level, XP and any pending level-up"),
	mcp.WithMIMEType("application/json"),
)
