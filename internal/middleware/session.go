package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionIDKey is the gin context key holding the browser session identifier.
const SessionIDKey = "session_id"

const sessionCookieMaxAge = 8 * 60 * 60

// Session ensures every caller carries a browser session cookie. Flow state
// is keyed by this identifier so two browsers never share progress.
func Session(cookieName string) gin.HandlerFunc {
	if cookieName == "" {
		cookieName = "portal_session"
	}

	return func(c *gin.Context) {
		sessionID, err := c.Cookie(cookieName)
		if err != nil || sessionID == "" {
			sessionID = uuid.NewString()
			c.SetCookie(cookieName, sessionID, sessionCookieMaxAge, "/", "", false, true)
		}
		c.Set(SessionIDKey, sessionID)
		c.Next()
	}
}

// SessionID returns the browser session identifier established by Session.
func SessionID(c *gin.Context) string {
	if v, ok := c.Get(SessionIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
