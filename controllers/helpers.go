package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/middleware"
	"github.com/travelhub/travelhub/models"
)

const maxPageSize = 100

func parsePagination(ctx *gin.Context, defaultSize int) (int, int) {
	page := 1
	pageSize := defaultSize
	if p, err := strconv.Atoi(strings.TrimSpace(ctx.Query("page"))); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(strings.TrimSpace(ctx.Query("page_size"))); err == nil && s > 0 {
		pageSize = min(s, maxPageSize)
	}
	return page, pageSize
}

// '!' is the LIKE escape: MySQL reads '\' as an open string literal.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern builds a LIKE operand matching term literally; pair it with ESCAPE '!'.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func parseID(ctx *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func getUserID(ctx *gin.Context) (uint, bool) {
	return middleware.CurrentUserID(ctx)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ensureProfile returns the user's profile, creating the default one when missing.
func ensureProfile(tx *gorm.DB, user *models.User) (*models.Profile, error) {
	var profile models.Profile
	err := tx.Where(models.Profile{UserID: user.ID}).
		Attrs(models.Profile{DisplayName: user.Username, Role: models.RoleUser}).
		FirstOrCreate(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// userPrivateView is the shape returned to the user themselves.
func userPrivateView(user models.User, isAdmin bool) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"provider":   user.Provider,
		"created_at": user.CreatedAt,
		"profile":    user.Profile,
		"is_admin":   isAdmin,
	}
}

// withAuthorProfile preloads the author and their profile on a query over a model with a User relation.
func withAuthorProfile(q *gorm.DB) *gorm.DB {
	return q.Preload("User").Preload("User.Profile")
}
