package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

// FavoriteController lets users save places.
type FavoriteController struct {
	db *gorm.DB
}

// NewFavoriteController creates a FavoriteController.
func NewFavoriteController(db *gorm.DB) *FavoriteController {
	return &FavoriteController{db: db}
}

// Toggle saves the post for the caller, or removes it when already saved.
func (f *FavoriteController) Toggle(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	post, ok := f.loadPost(ctx)
	if !ok {
		return
	}

	favorited := false
	err := f.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND post_id = ?", userID, post.ID).Delete(&models.Favorite{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		favorited = true
		// a concurrent duplicate collapses onto the unique index
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Favorite{UserID: userID, PostID: post.ID}).Error
	})
	if err != nil {
		utils.Sugar.Errorf("toggle favorite failed user=%d post=%d err=%v", userID, post.ID, err)
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to update favorite")
		return
	}

	var count int64
	if err := f.db.Model(&models.Favorite{}).Where("post_id = ?", post.ID).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to count favorites")
		return
	}
	invalidatePost(ctx, post.ID, post.UserID)

	utils.Success(ctx, gin.H{"favorited": favorited, "favorite_count": count})
}

// Status reports whether the caller saved the post.
func (f *FavoriteController) Status(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	post, ok := f.loadPost(ctx)
	if !ok {
		return
	}
	var count int64
	if err := f.db.Model(&models.Favorite{}).
		Where("user_id = ? AND post_id = ?", userID, post.ID).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to load favorite")
		return
	}
	utils.Success(ctx, gin.H{"favorited": count > 0})
}

// List returns the caller's saved posts, most recently saved first.
func (f *FavoriteController) List(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	page, pageSize := parsePagination(ctx, defaultPostPageSize)

	q := f.db.Model(&models.Favorite{}).
		Joins("JOIN posts ON posts.id = favorites.post_id").
		Where("favorites.user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to count favorites")
		return
	}
	var favorites []models.Favorite
	if err := q.Preload("Post").Preload("Post.User").Preload("Post.User.Profile").
		Order("favorites.created_at DESC, favorites.id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&favorites).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50043, "failed to list favorites")
		return
	}

	posts := make([]models.Post, 0, len(favorites))
	for _, fav := range favorites {
		posts = append(posts, fav.Post)
	}
	attachFavoriteCounts(f.db, posts)
	yes := true
	for i := range posts {
		posts[i].IsFavorited = &yes
	}
	utils.Success(ctx, utils.NewPage(posts, page, pageSize, total))
}

func (f *FavoriteController) loadPost(ctx *gin.Context) (*models.Post, bool) {
	postID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid post id")
		return nil, false
	}
	var post models.Post
	if err := f.db.Select("id", "user_id").First(&post, postID).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load post")
		return nil, false
	}
	return &post, true
}
