package app

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/wobcom/netbox-sub000/internal/api/handlers"
	"github.com/wobcom/netbox-sub000/internal/api/middleware"
	"github.com/wobcom/netbox-sub000/internal/config"
	"github.com/wobcom/netbox-sub000/internal/session"
)

// Public routes that do NOT require JWT authentication.
var publicPrefixes = []string{
	"/healthz",
}

func newRouter(cfg *config.Config, server *handlers.Server, gate *session.Gate, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	router.Use(jwtSkipPublic(jwtCfg.SigningKey))

	router.GET("/healthz", server.Healthz)

	api := router.Group("/api/v1")
	{
		changes := api.Group("/changes")
		changes.POST("", middleware.RequirePerm(gate, "change.add_changeset"), server.ToggleChange)
		changes.POST("/end", middleware.RequirePerm(gate, "change.change_changeset"), server.EndChange)
		changes.GET("", server.ListChanges)
		changes.GET("/:id", server.GetChange)
		changes.GET("/:id/yaml", server.GetChangeYAML)
		changes.POST("/:id/reject", middleware.RequirePerm(gate, "change.review_changeset"), server.RejectChange)

		provisions := api.Group("/provisions")
		provisions.POST("", middleware.RequirePerm(gate, "change.deploy_provisionset"), server.Deploy)
		provisions.GET("", server.ListProvisions)
		provisions.GET("/:id", server.GetProvision)
		provisions.GET("/:id/diff", server.GetProvisionDiff)
		provisions.POST("/:id/terminate", middleware.RequirePerm(gate, "change.terminate_provisionset"), server.TerminateProvision)
		provisions.POST("/:id/review", middleware.RequirePerm(gate, "change.review_provisionset"), server.ReviewProvision)
		provisions.POST("/:id/rollback", middleware.RequirePerm(gate, "change.rollback_provisionset"), server.RollbackProvision)

		devices := api.Group("/devices")
		devices.GET("", server.ListDevices)
		devices.GET("/:id", server.GetDevice)
		devices.POST("", middleware.RequirePerm(gate, "dcim.add_device"), server.CreateDevice)
		devices.PUT("/:id", middleware.RequirePerm(gate, "dcim.change_device"), server.UpdateDevice)
	}

	ws := router.Group("/ws")
	{
		ws.GET("/provision-status", server.ProvisionStatusWS)
		ws.GET("/users-in-change", server.UsersInChangeWS)
		ws.GET("/provisions/:id/log", server.ProvisionLogWS)
	}

	return router
}

// jwtSkipPublic applies JWT auth only on non-public routes.
func jwtSkipPublic(signingKey []byte) gin.HandlerFunc {
	jwtMw := middleware.JWTAuth(signingKey)
	return func(c *gin.Context) {
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}
