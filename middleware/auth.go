package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/config"
	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextClaimsKey stores the parsed *utils.Claims.
	ContextClaimsKey = "claims"
	// ContextIsAdminKey caches the admin decision for the request.
	ContextIsAdminKey = "is_admin"
)

// AuthRequired ensures the request is authenticated via JWT.
// The token comes from the Authorization header, or the token query parameter
// for websocket handshakes where browsers cannot set headers.
// Tokens of deleted accounts are rejected; db may be nil to skip that lookup.
func AuthRequired(db *gorm.DB) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, status, code, msg := extractToken(ctx)
		if tokenString == "" {
			utils.Abort(ctx, status, code, msg)
			return
		}
		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Abort(ctx, http.StatusUnauthorized, 40105, "invalid token")
			return
		}
		if utils.IsTokenBlacklisted(ctx.Request.Context(), claims.ID) {
			utils.Abort(ctx, http.StatusUnauthorized, 40104, "token revoked")
			return
		}
		active, err := accountActive(ctx, db, claims.UserID)
		if err != nil {
			utils.Sugar.Errorf("load session account failed user=%d err=%v", claims.UserID, err)
			utils.Abort(ctx, http.StatusInternalServerError, 50100, "failed to verify session")
			return
		}
		if !active {
			utils.Abort(ctx, http.StatusUnauthorized, 40109, "account no longer exists")
			return
		}
		setIdentity(ctx, claims)
		ctx.Next()
	}
}

// OptionalAuth attaches the caller identity when a valid token is present and never rejects.
func OptionalAuth(db *gorm.DB) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString, _, _, _ := extractToken(ctx)
		if tokenString != "" {
			if claims, err := utils.ParseToken(tokenString); err == nil &&
				!utils.IsTokenBlacklisted(ctx.Request.Context(), claims.ID) {
				if active, err := accountActive(ctx, db, claims.UserID); err == nil && active {
					setIdentity(ctx, claims)
				}
			}
		}
		ctx.Next()
	}
}

// AdminRequired rejects callers that are not admins. It must run after AuthRequired.
func AdminRequired(db *gorm.DB) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if _, ok := CurrentUserID(ctx); !ok {
			utils.Abort(ctx, http.StatusUnauthorized, 40110, "unauthorized")
			return
		}
		if !IsAdmin(ctx, db) {
			utils.Abort(ctx, http.StatusForbidden, 40300, "admin only")
			return
		}
		ctx.Next()
	}
}

// IsAdmin reports whether the authenticated caller has the admin role on their profile
// or is listed in AdminUsernames. The result is cached on the context.
func IsAdmin(ctx *gin.Context, db *gorm.DB) bool {
	if v, ok := ctx.Get(ContextIsAdminKey); ok {
		b, _ := v.(bool)
		return b
	}
	admin := false
	if uid, ok := CurrentUserID(ctx); ok {
		admin = IsAdminUsername(ctx.GetString(ContextUsernameKey))
		if !admin && db != nil {
			var role string
			err := db.WithContext(ctx.Request.Context()).Model(&models.Profile{}).
				Where("user_id = ?", uid).Limit(1).Pluck("role", &role).Error
			admin = err == nil && role == models.RoleAdmin
		}
	}
	ctx.Set(ContextIsAdminKey, admin)
	return admin
}

// IsAdminUsername checks whether given username is configured as an admin (case-insensitive).
func IsAdminUsername(username string) bool {
	uname := strings.TrimSpace(username)
	if uname == "" {
		return false
	}
	for _, u := range config.Get().AdminUsernames {
		if strings.EqualFold(strings.TrimSpace(u), uname) {
			return true
		}
	}
	return false
}

// CurrentUserID returns the authenticated user id, if any.
func CurrentUserID(ctx *gin.Context) (uint, bool) {
	v, ok := ctx.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

// CurrentClaims returns the parsed token claims, if any.
func CurrentClaims(ctx *gin.Context) (*utils.Claims, bool) {
	v, ok := ctx.Get(ContextClaimsKey)
	if !ok {
		return nil, false
	}
	c, ok := v.(*utils.Claims)
	return c, ok
}

// accountActive reports whether the user behind a session still exists. Soft-deleted users do not.
func accountActive(ctx *gin.Context, db *gorm.DB, userID uint) (bool, error) {
	if db == nil {
		return true, nil
	}
	var count int64
	if err := db.WithContext(ctx.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func setIdentity(ctx *gin.Context, claims *utils.Claims) {
	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextUsernameKey, claims.Username)
	ctx.Set(ContextClaimsKey, claims)
}

func extractToken(ctx *gin.Context) (token string, status, code int, msg string) {
	authHeader := ctx.GetHeader("Authorization")
	if authHeader == "" {
		if q := strings.TrimSpace(ctx.Query("token")); q != "" {
			return q, 0, 0, ""
		}
		return "", http.StatusUnauthorized, 40101, "authorization header missing"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", http.StatusUnauthorized, 40102, "invalid authorization header format"
	}

	token = strings.TrimSpace(parts[1])
	if token == "" {
		return "", http.StatusUnauthorized, 40103, "empty bearer token"
	}
	return token, 0, 0, ""
}
