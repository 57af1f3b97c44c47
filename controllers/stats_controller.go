package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/middleware"
	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

// StatsController provides site and per-post statistics.
type StatsController struct {
	db *gorm.DB
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{db: db}
}

// GetStats returns aggregate counts for the admin dashboard.
func (s *StatsController) GetStats(ctx *gin.Context) {
	var userCount, postCount, favoriteCount, chatCount, newsCount, viewsToday int64

	// Fallback to 0 instead of failing the whole endpoint
	if err := s.db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		userCount = 0
	}
	if err := s.db.Model(&models.Post{}).Count(&postCount).Error; err != nil {
		postCount = 0
	}
	if err := s.db.Model(&models.Favorite{}).Count(&favoriteCount).Error; err != nil {
		favoriteCount = 0
	}
	if err := s.db.Model(&models.ChatMessage{}).Count(&chatCount).Error; err != nil {
		chatCount = 0
	}
	if err := s.db.Model(&models.News{}).Count(&newsCount).Error; err != nil {
		newsCount = 0
	}
	if err := s.db.Model(&models.PostView{}).
		Where("date = ?", middleware.Today()).
		Select("COALESCE(SUM(count),0)").
		Scan(&viewsToday).Error; err != nil {
		viewsToday = 0
	}

	utils.Success(ctx, gin.H{
		"user_count":     userCount,
		"post_count":     postCount,
		"favorite_count": favoriteCount,
		"chat_count":     chatCount,
		"news_count":     newsCount,
		"views_today":    viewsToday,
	})
}

// GetPostStats returns views, favorites and discussion size for a post.
func (s *StatsController) GetPostStats(ctx *gin.Context) {
	postID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid post id")
		return
	}
	var post models.Post
	if err := s.db.Select("id").First(&post, postID).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load post")
		return
	}

	var views, favorites, messages int64
	if err := s.db.Model(&models.PostView{}).Where("post_id = ?", post.ID).
		Select("COALESCE(SUM(count),0)").Scan(&views).Error; err != nil {
		views = 0
	}
	if err := s.db.Model(&models.Favorite{}).Where("post_id = ?", post.ID).Count(&favorites).Error; err != nil {
		favorites = 0
	}
	if err := s.db.Model(&models.ChatMessage{}).Where("room = ?", PostRoom(post.ID)).Count(&messages).Error; err != nil {
		messages = 0
	}

	utils.Success(ctx, gin.H{
		"views":     views,
		"favorites": favorites,
		"messages":  messages,
	})
}
