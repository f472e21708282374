package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	contextUserID = "user_id"
	contextUser   = "user"
)

// Authenticator resolves the calling user of a request.
type Authenticator interface {
	UserFromRequest(r *http.Request) (*User, error)
}

// Middleware rejects requests without a valid bearer token and stores the
// authenticated user on the gin context.
func Middleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := a.UserFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(contextUserID, user.ID)
		c.Set(contextUser, user)
		c.Next()
	}
}

// UserID returns the authenticated user ID set by Middleware.
func UserID(c *gin.Context) string {
	return c.GetString(contextUserID)
}

// CurrentUser returns the authenticated user set by Middleware, or nil.
func CurrentUser(c *gin.Context) *User {
	v, ok := c.Get(contextUser)
	if !ok {
		return nil
	}
	u, _ := v.(*User)
	return u
}
