package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tourlink/booking-backend/pkg/jwt"
)

// UserContextKey is the gin context key holding the authenticated user
const UserContextKey = "user_context"

// UserContext is the authenticated caller extracted from the access token
type UserContext struct {
	UserID       uuid.UUID
	Email        string
	Role         string
	B2BAccountID *uuid.UUID
}

// IsAdmin reports whether the caller is an operator
func (u UserContext) IsAdmin() bool {
	return u.Role == jwt.RoleAdmin
}

// AuthMiddleware validates the bearer token and stores the user context
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			abortUnauthorized(c, "INVALID_AUTH_FORMAT", "Authorization header must be in format: Bearer <token>")
			return
		}

		claims, err := jwtService.ValidateAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid access token")
			return
		}

		c.Set(UserContextKey, UserContext{
			UserID:       claims.UserID,
			Email:        claims.Email,
			Role:         claims.Role,
			B2BAccountID: claims.B2BAccountID,
		})
		c.Set("user_id", claims.UserID.String())
		c.Set("role", claims.Role)

		c.Next()
	}
}

// GetUserContext returns the user context set by AuthMiddleware
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}
	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}
	return userCtx, true
}

// MustGetUserContext returns the user context or panics.
// Only use behind AuthMiddleware.
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("user context not found; AuthMiddleware missing")
	}
	return userCtx
}

// RequireRole allows the request through when the caller has one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "MISSING_USER_CONTEXT", "User context not found")
			return
		}

		for _, role := range roles {
			if userCtx.Role == role {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "Insufficient permissions",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

// RequireAdmin restricts a route group to operators
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(jwt.RoleAdmin)
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
		"code":    code,
	})
	c.Abort()
}
