package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

const defaultAdminPageSize = 20

// AdminController exposes user management to admins.
type AdminController struct {
	db *gorm.DB
}

// NewAdminController creates an AdminController.
func NewAdminController(db *gorm.DB) *AdminController {
	return &AdminController{db: db}
}

// AdminUser is a user row joined with its profile.
type AdminUser struct {
	ID          uint      `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	Role        string    `json:"role"`
	PostCount   int64     `json:"post_count"`
}

// ListUsers returns users joined with their profiles, newest first.
func (a *AdminController) ListUsers(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx, defaultAdminPageSize)

	q := a.db.Table("users").
		Joins("LEFT JOIN profiles ON profiles.user_id = users.id").
		Where("users.deleted_at IS NULL")
	if search := strings.TrimSpace(ctx.Query("search")); search != "" {
		like := containsPattern(search)
		q = q.Where(`users.username LIKE ? ESCAPE '!' OR users.email LIKE ? ESCAPE '!' OR profiles.display_name LIKE ? ESCAPE '!'`, like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50090, "failed to count users")
		return
	}
	users := make([]AdminUser, 0, pageSize)
	err := q.Select(`users.id, users.email, users.username, COALESCE(users.provider, '') AS provider, users.created_at,
		COALESCE(profiles.display_name, '') AS display_name, COALESCE(profiles.avatar_url, '') AS avatar_url,
		COALESCE(profiles.role, ?) AS role,
		(SELECT COUNT(*) FROM posts WHERE posts.user_id = users.id) AS post_count`, models.RoleUser).
		Order("users.id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Scan(&users).Error
	if err != nil {
		utils.Sugar.Errorf("list admin users failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50091, "failed to list users")
		return
	}
	utils.Success(ctx, utils.NewPage(users, page, pageSize, total))
}

// SetRole promotes or demotes a user. Admins cannot change their own role.
func (a *AdminController) SetRole(ctx *gin.Context) {
	target, ok := a.loadTarget(ctx)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40090, "invalid request payload")
		return
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role != models.RoleUser && role != models.RoleAdmin {
		utils.Error(ctx, http.StatusBadRequest, 40091, "role must be user or admin")
		return
	}
	if me, _ := getUserID(ctx); me == target.ID {
		utils.Error(ctx, http.StatusForbidden, 40310, "cannot change your own role")
		return
	}

	profile, err := ensureProfile(a.db, target)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50092, "failed to load profile")
		return
	}
	if err := a.db.Model(&models.Profile{}).Where("id = ?", profile.ID).Update("role", role).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50093, "failed to update role")
		return
	}
	profile.Role = role
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheProfile+strconv.FormatUint(uint64(target.ID), 10))
	utils.Success(ctx, profile)
}

// DeleteUser soft-deletes a user. Admins cannot delete themselves.
func (a *AdminController) DeleteUser(ctx *gin.Context) {
	target, ok := a.loadTarget(ctx)
	if !ok {
		return
	}
	if me, _ := getUserID(ctx); me == target.ID {
		utils.Error(ctx, http.StatusForbidden, 40311, "cannot delete yourself")
		return
	}
	if err := a.db.Delete(target).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50094, "failed to delete user")
		return
	}
	// author embeds vanish from post views
	utils.InvalidateByPrefix(ctx.Request.Context(),
		utils.CacheProfile+strconv.FormatUint(uint64(target.ID), 10),
		utils.CachePostsList, utils.CachePostDetail, utils.CacheUserPosts)
	utils.Success(ctx, gin.H{"message": "user deleted"})
}

func (a *AdminController) loadTarget(ctx *gin.Context) (*models.User, bool) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid user id")
		return nil, false
	}
	var user models.User
	if err := a.db.First(&user, id).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40402, "user not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to load user")
		return nil, false
	}
	return &user, true
}
