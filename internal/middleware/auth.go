package middleware

import (
	"github.com/gin-gonic/gin"

	"globetales-service/internal/apperr"
	"globetales-service/internal/auth"
)

const UserIDKey = "userID"

// TokenVerifier resolves an access token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// AuthMiddleware accepts a bearer token or the access token cookie and stores
// the caller id under UserIDKey.
func AuthMiddleware(verifier TokenVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok && cookieName != "" {
			if cookie, err := c.Cookie(cookieName); err == nil {
				token, ok = cookie, cookie != ""
			}
		}
		if !ok {
			abort(c, apperr.Auth("Unauthorized"))
			return
		}

		userID, err := verifier.Verify(token)
		if err != nil {
			abort(c, apperr.Auth("Invalid token"))
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func abort(c *gin.Context, err error) {
	resp := apperr.ResponseFor(err)
	c.AbortWithStatusJSON(resp.StatusCode, resp)
}

// UserID returns the authenticated caller id.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
