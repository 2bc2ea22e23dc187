package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/broadcast"
	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// upgrader performs the WebSocket handshake. Origin checking is delegated to
// the CORS layer in front of the API.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProvisionStatusWS handles GET /ws/provision-status: a feed of provision
// status transitions.
func (s *Server) ProvisionStatusWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Subscribe(broadcast.GroupProvisionStatus, conn)
}

// UsersInChangeWS handles GET /ws/users-in-change: the roster of users with
// open draft sessions. The current roster is delivered on connect.
func (s *Server) UsersInChangeWS(c *gin.Context) {
	users, err := s.sessions.ActiveUsernames(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	if users == nil {
		users = []string{}
	}
	if err := conn.WriteJSON(gin.H{"users": users}); err != nil {
		conn.Close()
		return
	}
	s.hub.Subscribe(broadcast.GroupUsersInChange, conn)
}

// ProvisionLogWS handles GET /ws/provisions/:id/log: replays the persisted
// log, then follows the live log file while the run is active.
func (s *Server) ProvisionLogWS(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := s.logs.Stream(c.Request.Context(), conn, id); err != nil {
		logger.Debug("log stream ended",
			zap.Int64("provision_set_id", id),
			zap.Error(err),
		)
	}
}
