package authorization

import (
	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
)

// Guard wraps the JWT middleware so sibling modules can require an unlocked
// vault without touching the middleware details.
type Guard struct {
	jwt *jwt.GinJWTMiddleware
}

// Guard returns the guard shared by the other modules. A disabled lock still
// yields a guard, its checks simply pass.
func (m *Module) Guard() *Guard {
	if m == nil {
		return nil
	}
	return &Guard{jwt: m.jwtMiddleware}
}

// Enabled reports whether the vault lock is active.
func (m *Module) Enabled() bool {
	return m != nil && m.jwtMiddleware != nil
}

// RequireUnlocked admits only requests that carry a valid session token.
// When the lock is disabled it admits everything.
func (g *Guard) RequireUnlocked() gin.HandlerFunc {
	if g == nil || g.jwt == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return g.jwt.MiddlewareFunc()
}
