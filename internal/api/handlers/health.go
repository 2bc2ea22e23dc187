package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Healthz handles GET /healthz.
func (s *Server) Healthz(c *gin.Context) {
	checks := make(map[string]string)
	status := http.StatusOK

	if err := s.pool.Ping(c.Request.Context()); err != nil {
		checks["database"] = "error"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	c.JSON(status, gin.H{
		"status": http.StatusText(status),
		"checks": checks,
	})
}
