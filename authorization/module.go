package authorization

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	identityKey       = "keeper"
	defaultSessionTTL = 12 * time.Hour
	maxSessionRefresh = 7 * 24 * time.Hour
)

// Module guards the vault behind a single shared password. When no password
// is configured the lock is disabled and every guard check passes.
type Module struct {
	lock          *vaultLock
	jwtMiddleware *jwt.GinJWTMiddleware
}

// UnlockRequest is the payload for the unlock endpoint.
type UnlockRequest struct {
	Password string `json:"password" binding:"required"`
}

// RegisterRoutes bootstraps the vault lock endpoints under /auth.
func RegisterRoutes(router *gin.Engine) (*Module, error) {
	lock, err := newVaultLockFromEnv()
	if err != nil {
		return nil, err
	}

	module := &Module{lock: lock}
	authGroup := router.Group("/auth")

	if lock == nil {
		log.Printf("authorization: no VAULT_PASSWORD or VAULT_PASSWORD_HASH set, vault lock disabled")
		authGroup.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"enabled": false, "unlocked": true})
		})
		return module, nil
	}

	middleware, err := buildJWTMiddleware(lock)
	if err != nil {
		return nil, err
	}
	module.jwtMiddleware = middleware

	authGroup.POST("/unlock", middleware.LoginHandler)
	authGroup.POST("/lock", middleware.LogoutHandler)
	authGroup.POST("/refresh", middleware.RefreshHandler)
	authGroup.GET("/status", module.handleStatus)

	return module, nil
}

func (m *Module) handleStatus(c *gin.Context) {
	claims, err := m.jwtMiddleware.GetClaimsFromJWT(c)
	if err != nil || len(claims) == 0 {
		c.JSON(http.StatusOK, gin.H{"enabled": true, "unlocked": false})
		return
	}

	response := gin.H{"enabled": true, "unlocked": true}
	if exp, ok := claims["exp"].(float64); ok {
		response["expire"] = time.Unix(int64(exp), 0).UTC()
	}
	c.JSON(http.StatusOK, response)
}

// vaultLock keeps the bcrypt hash of the shared vault password.
type vaultLock struct {
	passwordHash []byte
}

// newVaultLockFromEnv reads the shared password. It returns nil when neither
// VAULT_PASSWORD nor VAULT_PASSWORD_HASH is set.
func newVaultLockFromEnv() (*vaultLock, error) {
	if hash := strings.TrimSpace(os.Getenv("VAULT_PASSWORD_HASH")); hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("authorization: VAULT_PASSWORD_HASH is not a bcrypt hash: %w", err)
		}
		return &vaultLock{passwordHash: []byte(hash)}, nil
	}

	password := strings.TrimSpace(os.Getenv("VAULT_PASSWORD"))
	if password == "" {
		return nil, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("authorization: hash vault password: %w", err)
	}
	return &vaultLock{passwordHash: hash}, nil
}

// verify checks a submitted password against the stored hash.
func (l *vaultLock) verify(password string) error {
	if l == nil {
		return nil
	}
	if strings.TrimSpace(password) == "" {
		return jwt.ErrMissingLoginValues
	}
	if err := bcrypt.CompareHashAndPassword(l.passwordHash, []byte(password)); err != nil {
		return jwt.ErrFailedAuthentication
	}
	return nil
}

func buildJWTMiddleware(lock *vaultLock) (*jwt.GinJWTMiddleware, error) {
	secret := strings.TrimSpace(os.Getenv("VAULT_JWT_SECRET"))
	if secret == "" {
		generated, err := randomSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		log.Printf("authorization: VAULT_JWT_SECRET not set, using a generated secret, sessions will not survive restarts")
	}

	return jwt.New(&jwt.GinJWTMiddleware{
		Realm:       "outfit-vault",
		Key:         []byte(secret),
		Timeout:     parseSessionTTL(),
		MaxRefresh:  maxSessionRefresh,
		IdentityKey: identityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			return jwt.MapClaims{identityKey: true}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			unlocked, _ := claims[identityKey].(bool)
			return unlocked
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var req UnlockRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			if err := lock.verify(req.Password); err != nil {
				return nil, err
			}
			return true, nil
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			unlocked, ok := data.(bool)
			return ok && unlocked
		},
		Unauthorized: func(c *gin.Context, code int, message string) {
			c.JSON(code, gin.H{"error": message})
		},
		LoginResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			c.JSON(code, gin.H{"token": token, "expire": expire})
		},
		RefreshResponse: func(c *gin.Context, code int, token string, expire time.Time) {
			c.JSON(code, gin.H{"token": token, "expire": expire})
		},
		LogoutResponse: func(c *gin.Context, code int) {
			c.JSON(code, gin.H{"locked": true})
		},
		SendCookie:     true,
		CookieName:     "token",
		CookieHTTPOnly: true,
		TokenLookup:    "header: Authorization, cookie: token",
		TokenHeadName:  "Bearer",
		TimeFunc:       time.Now,
	})
}

func parseSessionTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("VAULT_SESSION_TTL"))
	if raw == "" {
		return defaultSessionTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		log.Printf("authorization: invalid VAULT_SESSION_TTL value %q, using %s", raw, defaultSessionTTL)
		return defaultSessionTTL
	}
	return ttl
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("authorization: generate session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
