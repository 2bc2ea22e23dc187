// Package handlers implements the HTTP and WebSocket handlers of the change
// service. Handlers push domain errors into the Gin error chain; the error
// middleware renders them.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wobcom/netbox-sub000/internal/api/middleware"
	"github.com/wobcom/netbox-sub000/internal/broadcast"
	"github.com/wobcom/netbox-sub000/internal/provision"
	"github.com/wobcom/netbox-sub000/internal/repository"
	"github.com/wobcom/netbox-sub000/internal/session"
	"github.com/wobcom/netbox-sub000/internal/tracking"
)

// Server carries the handler dependencies.
type Server struct {
	pool         *pgxpool.Pool
	sessions     *session.Service
	orchestrator *provision.Orchestrator
	recorder     *tracking.Recorder
	devices      *repository.DeviceRepo
	hub          *broadcast.Hub
	logs         *broadcast.LogStreamer
	jwtCfg       middleware.JWTConfig
}

// ServerDeps holds all dependencies for creating a Server. Manual dependency
// injection, wired in the app bootstrap.
type ServerDeps struct {
	Pool         *pgxpool.Pool
	Sessions     *session.Service
	Orchestrator *provision.Orchestrator
	Recorder     *tracking.Recorder
	Devices      *repository.DeviceRepo
	Hub          *broadcast.Hub
	Logs         *broadcast.LogStreamer
	JWTCfg       middleware.JWTConfig
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		pool:         deps.Pool,
		sessions:     deps.Sessions,
		orchestrator: deps.Orchestrator,
		recorder:     deps.Recorder,
		devices:      deps.Devices,
		hub:          deps.Hub,
		logs:         deps.Logs,
		jwtCfg:       deps.JWTCfg,
	}
}

// actorFromCtx extracts the authenticated username from the request context.
func actorFromCtx(c *gin.Context) string {
	if username := c.GetString("username"); username != "" {
		return username
	}
	return "anonymous"
}
