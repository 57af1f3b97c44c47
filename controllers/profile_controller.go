package controllers

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

const (
	maxDisplayNameRunes = 64
	maxBioRunes         = 500
)

// ProfileController exposes public profiles and lets users edit their own.
type ProfileController struct {
	db    *gorm.DB
	store *storage.Store
}

// NewProfileController creates a ProfileController.
func NewProfileController(db *gorm.DB, store *storage.Store) *ProfileController {
	return &ProfileController{db: db, store: store}
}

type publicProfile struct {
	UserID      uint      `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Bio         string    `json:"bio"`
	AvatarURL   string    `json:"avatar_url"`
	Role        string    `json:"role"`
	PostCount   int64     `json:"post_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetProfile returns the public profile of a user.
func (p *ProfileController) GetProfile(ctx *gin.Context) {
	userID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid user id")
		return
	}
	cacheKey := utils.CacheProfile + strconv.FormatUint(uint64(userID), 10)
	if utils.ServeCached(ctx, cacheKey) {
		return
	}

	var user models.User
	if err := p.db.First(&user, userID).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40402, "user not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to load user")
		return
	}
	profile, err := ensureProfile(p.db, &user)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50061, "failed to load profile")
		return
	}
	out := publicProfile{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: profile.DisplayName,
		Bio:         profile.Bio,
		AvatarURL:   profile.AvatarURL,
		Role:        profile.Role,
		CreatedAt:   user.CreatedAt,
	}
	if err := p.db.Model(&models.Post{}).Where("user_id = ?", user.ID).Count(&out.PostCount).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to count user posts")
		return
	}

	utils.SuccessCached(ctx, cacheKey, out, time.Hour)
}

// UpdateMe applies a partial update to the caller's profile.
func (p *ProfileController) UpdateMe(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req struct {
		DisplayName *string `json:"display_name"`
		Bio         *string `json:"bio"`
		AvatarURL   *string `json:"avatar_url"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40061, "invalid request payload")
		return
	}

	profile, ok := p.loadOwn(ctx, userID)
	if !ok {
		return
	}
	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		name := utils.PlainText(*req.DisplayName)
		if name == "" || utf8.RuneCountInString(name) > maxDisplayNameRunes {
			utils.Error(ctx, http.StatusBadRequest, 40062, "display name must be 1-64 characters")
			return
		}
		updates["display_name"] = name
	}
	if req.Bio != nil {
		bio := utils.PlainText(*req.Bio)
		if utf8.RuneCountInString(bio) > maxBioRunes {
			utils.Error(ctx, http.StatusBadRequest, 40063, "bio must be at most 500 characters")
			return
		}
		updates["bio"] = bio
	}
	prevAvatar := profile.AvatarURL
	if req.AvatarURL != nil {
		if *req.AvatarURL != prevAvatar && !validImageRef(ctx.Request.Context(), p.store, *req.AvatarURL, storage.BucketAvatars, userID) {
			utils.Error(ctx, http.StatusBadRequest, 40064, "invalid avatar url")
			return
		}
		updates["avatar_url"] = *req.AvatarURL
	}
	if len(updates) > 0 {
		if err := p.db.Model(&models.Profile{}).Where("id = ?", profile.ID).Updates(updates).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50062, "failed to update profile")
			return
		}
		if req.DisplayName != nil {
			profile.DisplayName = updates["display_name"].(string)
		}
		if req.Bio != nil {
			profile.Bio = updates["bio"].(string)
		}
		if req.AvatarURL != nil {
			profile.AvatarURL = *req.AvatarURL
		}
	}
	p.store.Replace(ctx.Request.Context(), storage.BucketAvatars, prevAvatar, profile.AvatarURL, userID)
	p.invalidate(ctx, userID)

	utils.Success(ctx, profile)
}

// UploadAvatar stores a new avatar and points the caller's profile at it.
func (p *ProfileController) UploadAvatar(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	profile, ok := p.loadOwn(ctx, userID)
	if !ok {
		return
	}
	obj, ok := receiveUpload(ctx, p.store, storage.BucketAvatars)
	if !ok {
		return
	}
	prev := profile.AvatarURL
	if err := p.db.Model(&models.Profile{}).Where("id = ?", profile.ID).Update("avatar_url", obj.URL).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50062, "failed to update profile")
		return
	}
	profile.AvatarURL = obj.URL
	p.store.Replace(ctx.Request.Context(), storage.BucketAvatars, prev, obj.URL, userID)
	p.invalidate(ctx, userID)

	utils.Success(ctx, gin.H{"url": obj.URL, "profile": profile})
}

func (p *ProfileController) loadOwn(ctx *gin.Context, userID uint) (*models.Profile, bool) {
	var user models.User
	if err := p.db.First(&user, userID).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40402, "user not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to load user")
		return nil, false
	}
	profile, err := ensureProfile(p.db, &user)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50061, "failed to load profile")
		return nil, false
	}
	return profile, true
}

// invalidate drops the profile and every cached post view embedding the author.
func (p *ProfileController) invalidate(ctx *gin.Context, userID uint) {
	utils.InvalidateByPrefix(ctx.Request.Context(),
		utils.CacheProfile+strconv.FormatUint(uint64(userID), 10),
		utils.CachePostsList,
		utils.CachePostDetail,
		utils.CacheUserPosts,
	)
}
