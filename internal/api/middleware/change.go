package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wobcom/netbox-sub000/internal/session"
)

// ClaimsBackend answers permission checks from the JWT claims carried in the
// request context. "*" grants everything.
type ClaimsBackend struct{}

var _ session.Backend = ClaimsBackend{}

// HasPerm implements session.Backend.
func (ClaimsBackend) HasPerm(ctx context.Context, _ string, perm string) (bool, error) {
	for _, p := range GetPermissions(ctx) {
		if p == perm || p == "*" {
			return true, nil
		}
	}
	return false, nil
}

// RequirePerm enforces one permission through the change-discipline gate:
// writes are refused while the user is outside a change session.
func RequirePerm(gate *session.Gate, perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		username := GetUsername(ctx)

		ok, err := gate.HasPerm(ctx, username, perm)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "PERMISSION_DENIED",
				"message": "permission denied: " + perm,
			})
			return
		}
		c.Next()
	}
}
