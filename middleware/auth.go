package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/services"
	"github.com/cppla/audiohub/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextRoleKey stores the models.Role carried by the token.
	ContextRoleKey = "role"
	// ContextClaimsKey stores the parsed *utils.Claims.
	ContextClaimsKey = "claims"
	// ContextTokenKey stores the raw bearer token, used by logout and refresh.
	ContextTokenKey = "token"
)

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*utils.Claims, error)
}

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired(auth Authenticator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Abort(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
			return
		}
		tokenString, ok := utils.BearerToken(authHeader)
		if !ok {
			utils.Abort(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
			return
		}

		claims, err := auth.Authenticate(ctx.Request.Context(), tokenString)
		if err != nil {
			if errors.Is(err, services.ErrTokenExpired) {
				utils.Abort(ctx, http.StatusUnauthorized, 40104, "token expired")
				return
			}
			utils.Abort(ctx, http.StatusUnauthorized, 40105, "invalid token")
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Set(ContextRoleKey, models.Role(claims.Role))
		ctx.Set(ContextClaimsKey, claims)
		ctx.Set(ContextTokenKey, tokenString)
		ctx.Next()
	}
}

// RequireRole rejects callers ranked below min. It must run after AuthRequired.
func RequireRole(min models.Role) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !CurrentRole(ctx).AtLeast(min) {
			utils.Abort(ctx, http.StatusForbidden, 40301, "insufficient role")
			return
		}
		ctx.Next()
	}
}

// CurrentUserID returns the authenticated user id, or 0.
func CurrentUserID(ctx *gin.Context) uint {
	if v, ok := ctx.Get(ContextUserIDKey); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// CurrentRole returns the authenticated role, or "" when unauthenticated.
func CurrentRole(ctx *gin.Context) models.Role {
	if v, ok := ctx.Get(ContextRoleKey); ok {
		if r, ok := v.(models.Role); ok {
			return r
		}
	}
	return ""
}

// OptionalAuth sets the identity keys when a valid bearer token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(auth Authenticator) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, ok := utils.BearerToken(ctx.GetHeader("Authorization"))
		if ok {
			if claims, err := auth.Authenticate(ctx.Request.Context(), tokenString); err == nil {
				ctx.Set(ContextUserIDKey, claims.UserID)
				ctx.Set(ContextUsernameKey, claims.Username)
				ctx.Set(ContextRoleKey, models.Role(claims.Role))
				ctx.Set(ContextClaimsKey, claims)
				ctx.Set(ContextTokenKey, tokenString)
			}
		}
		ctx.Next()
	}
}
