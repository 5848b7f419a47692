package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/openedu/course-enrollment-api/internal/authz"
	appErrors "github.com/openedu/course-enrollment-api/pkg/errors"
	"github.com/openedu/course-enrollment-api/pkg/response"
)

// Authorize enforces the capability table for the given operation. It
// only answers the role question; ownership checks live in services.
func Authorize(op authz.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !authz.Allowed(claims.Role, op) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
