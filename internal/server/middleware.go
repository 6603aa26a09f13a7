package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/divetrail/concierge/internal/ownerctx"
	"github.com/gin-gonic/gin"
)

const ownerHeader = "X-Owner-ID"

// SessionOwnerMiddleware resolves the authenticated owner for the request.
// Authentication itself is upstream; this layer only carries the already
// established identity into the request context.
func SessionOwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(ownerHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		owner, err := snowflake.ParseString(raw)
		if err != nil || owner == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := ownerctx.WithOwnerID(c.Request.Context(), int64(owner))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func sessionOwner(c *gin.Context) (snowflake.ID, bool) {
	return ownerctx.OwnerIDFromContext(c.Request.Context())
}
