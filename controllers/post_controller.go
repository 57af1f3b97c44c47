package controllers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/middleware"
	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

const (
	defaultPostPageSize = 12
	maxTitleRunes       = 120
	postDetailCacheTTL  = 5 * time.Minute
)

var postSorts = map[string]string{
	"newest":  "posts.created_at DESC, posts.id DESC",
	"oldest":  "posts.created_at ASC, posts.id ASC",
	"title":   "posts.title ASC, posts.id ASC",
	"rating":  "posts.rating IS NULL, posts.rating DESC, posts.id DESC",
	"popular": "posts.view_count DESC, posts.id DESC",
}

// PostController manages CRUD operations for place posts.
type PostController struct {
	db    *gorm.DB
	store *storage.Store
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB, store *storage.Store) *PostController {
	return &PostController{db: db, store: store}
}

type postRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Address     string   `json:"address"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	ImageURL    string   `json:"image_url"`
	Rating      *float64 `json:"rating"`
}

// apply validates req and copies it onto post. It returns a business code and message on failure.
// A new store image must have been uploaded by uploaderID.
func (req postRequest) apply(ctx context.Context, store *storage.Store, post *models.Post, uploaderID uint) (int, string) {
	title := utils.PlainText(req.Title)
	if title == "" {
		return 40021, "title cannot be empty"
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return 40022, fmt.Sprintf("title must be at most %d characters", maxTitleRunes)
	}
	description := utils.Sanitize(req.Description)
	if strings.TrimSpace(description) == "" {
		return 40023, "description cannot be empty"
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if !validCategory(category) {
		return 40024, "category must be one of " + strings.Join(models.Categories, ", ")
	}
	if req.Latitude != nil && (math.IsNaN(*req.Latitude) || *req.Latitude < -90 || *req.Latitude > 90) {
		return 40025, "latitude must be between -90 and 90"
	}
	if req.Longitude != nil && (math.IsNaN(*req.Longitude) || *req.Longitude < -180 || *req.Longitude > 180) {
		return 40026, "longitude must be between -180 and 180"
	}
	if req.Rating != nil && (math.IsNaN(*req.Rating) || *req.Rating < 0 || *req.Rating > 5) {
		return 40027, "rating must be between 0 and 5"
	}
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL != post.ImageURL && !validImageRef(ctx, store, imageURL, storage.BucketPostImage, uploaderID) {
		return 40028, "invalid image url"
	}

	post.Title = title
	post.Description = description
	post.Category = category
	post.Address = utils.Truncate(utils.PlainText(req.Address), 255)
	post.Latitude = req.Latitude
	post.Longitude = req.Longitude
	post.ImageURL = imageURL
	post.Rating = req.Rating
	return 0, ""
}

func validCategory(c string) bool {
	for _, v := range models.Categories {
		if c == v {
			return true
		}
	}
	return false
}

// CreatePost allows authenticated users to share a new place.
func (p *PostController) CreatePost(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	post := models.Post{UserID: userID}
	if code, msg := req.apply(ctx.Request.Context(), p.store, &post, userID); code != 0 {
		utils.Error(ctx, http.StatusBadRequest, code, msg)
		return
	}

	if err := p.db.Create(&post).Error; err != nil {
		utils.Sugar.Errorf("create post failed: %v", err)
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to create post")
		return
	}
	p.store.Claim(ctx.Request.Context(), post.ImageURL)
	p.invalidate(ctx, post)

	if err := withAuthorProfile(p.db).First(&post, post.ID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to load post")
		return
	}
	utils.Created(ctx, post)
}

// ListPosts returns paginated posts including author information.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx, defaultPostPageSize)
	search := strings.TrimSpace(ctx.Query("search"))
	category := strings.ToLower(strings.TrimSpace(ctx.Query("category")))
	sort := strings.ToLower(strings.TrimSpace(ctx.DefaultQuery("sort", "newest")))

	order, ok := postSorts[sort]
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40010, "sort must be one of newest, oldest, title, rating, popular")
		return
	}
	if category != "" && !validCategory(category) {
		utils.Error(ctx, http.StatusBadRequest, 40011, "invalid category")
		return
	}

	// Only unsearched lists are cached to avoid key explosion
	cacheKey := ""
	if search == "" {
		cacheKey = fmt.Sprintf("%scat=%s:sort=%s:page=%d:size=%d", utils.CachePostsList, category, sort, page, pageSize)
		if utils.ServeCached(ctx, cacheKey) {
			return
		}
	}

	query := p.db.Model(&models.Post{})
	if search != "" {
		like := containsPattern(search)
		query = query.Where(`posts.title LIKE ? ESCAPE '!' OR posts.description LIKE ? ESCAPE '!' OR posts.address LIKE ? ESCAPE '!'`, like, like, like)
	}
	if category != "" {
		query = query.Where("posts.category = ?", category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to count posts")
		return
	}
	var posts []models.Post
	if err := withAuthorProfile(query).Order(order).
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to list posts")
		return
	}
	p.attachFavoriteCounts(posts)

	payload := utils.NewPage(posts, page, pageSize, total)
	if cacheKey != "" {
		utils.SuccessCached(ctx, cacheKey, payload, time.Hour)
		return
	}
	utils.Success(ctx, payload)
}

// GetPost returns a single post with its favorite count and, for signed-in callers, whether they saved it.
func (p *PostController) GetPost(ctx *gin.Context) {
	postID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid post id")
		return
	}
	userID, authed := getUserID(ctx)
	cacheKey := utils.CachePostDetail + strconv.FormatUint(uint64(postID), 10)
	if !authed && utils.ServeCached(ctx, cacheKey) {
		return
	}

	var post models.Post
	if err := withAuthorProfile(p.db).First(&post, postID).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load post")
		return
	}
	if err := p.db.Model(&models.Favorite{}).Where("post_id = ?", post.ID).Count(&post.FavoriteCount).Error; err != nil {
		utils.Sugar.Warnf("count favorites failed post=%d err=%v", post.ID, err)
	}

	if !authed {
		utils.SuccessCached(ctx, cacheKey, post, postDetailCacheTTL)
		return
	}
	var mine int64
	if err := p.db.Model(&models.Favorite{}).Where("post_id = ? AND user_id = ?", post.ID, userID).Count(&mine).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to load favorite")
		return
	}
	favorited := mine > 0
	post.IsFavorited = &favorited
	utils.Success(ctx, post)
}

// ListMyPosts returns posts created by the authenticated user.
func (p *PostController) ListMyPosts(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	p.listByAuthor(ctx, userID, false)
}

// ListUserPosts returns posts created by a specific user (public).
func (p *PostController) ListUserPosts(ctx *gin.Context) {
	userID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid user id")
		return
	}
	p.listByAuthor(ctx, userID, true)
}

func (p *PostController) listByAuthor(ctx *gin.Context, userID uint, cache bool) {
	page, pageSize := parsePagination(ctx, defaultPostPageSize)
	cacheKey := fmt.Sprintf("%s%d:page=%d:size=%d", utils.CacheUserPosts, userID, page, pageSize)
	if cache && utils.ServeCached(ctx, cacheKey) {
		return
	}

	q := p.db.Model(&models.Post{}).Where("posts.user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to count user posts")
		return
	}
	var posts []models.Post
	if err := withAuthorProfile(q).Order(postSorts["newest"]).
		Offset((page - 1) * pageSize).Limit(pageSize).Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to list user posts")
		return
	}
	p.attachFavoriteCounts(posts)

	payload := utils.NewPage(posts, page, pageSize, total)
	if cache {
		utils.SuccessCached(ctx, cacheKey, payload, time.Hour)
		return
	}
	utils.Success(ctx, payload)
}

// UpdatePost lets the author or an admin replace a post's fields.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	post, ok := p.loadOwned(ctx)
	if !ok {
		return
	}
	var req postRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}
	userID, _ := getUserID(ctx)
	prevImage := post.ImageURL
	if code, msg := req.apply(ctx.Request.Context(), p.store, post, userID); code != 0 {
		utils.Error(ctx, http.StatusBadRequest, code, msg)
		return
	}

	// Select forces nil coordinates and rating to be written
	if err := p.db.Model(post).
		Select("title", "description", "category", "address", "latitude", "longitude", "image_url", "rating").
		Updates(post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to update post")
		return
	}
	p.store.Replace(ctx.Request.Context(), storage.BucketPostImage, prevImage, post.ImageURL, post.UserID)
	p.invalidate(ctx, *post)

	if err := withAuthorProfile(p.db).First(post, post.ID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load post")
		return
	}
	utils.Success(ctx, post)
}

// DeletePost lets the author or an admin remove a post together with its favorites and discussion.
func (p *PostController) DeletePost(ctx *gin.Context) {
	post, ok := p.loadOwned(ctx)
	if !ok {
		return
	}

	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Favorite{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room = ?", PostRoom(post.ID)).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.PostView{}).Error; err != nil {
			return err
		}
		return tx.Delete(post).Error
	})
	if err != nil {
		utils.Sugar.Errorf("delete post failed id=%d err=%v", post.ID, err)
		utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to delete post")
		return
	}
	p.store.Release(ctx.Request.Context(), post.ImageURL, storage.BucketPostImage, post.UserID)
	p.invalidate(ctx, *post)

	utils.Success(ctx, gin.H{"message": "post deleted"})
}

// UploadImage stores a post picture in the post_image bucket.
func (p *PostController) UploadImage(ctx *gin.Context) {
	obj, ok := receiveUpload(ctx, p.store, storage.BucketPostImage)
	if !ok {
		return
	}
	utils.Success(ctx, obj)
}

// loadOwned fetches the post named by :id and checks the caller may modify it.
func (p *PostController) loadOwned(ctx *gin.Context) (*models.Post, bool) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40111, "unauthorized")
		return nil, false
	}
	postID, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid post id")
		return nil, false
	}
	var post models.Post
	if err := p.db.First(&post, postID).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to load post")
		return nil, false
	}
	if post.UserID != userID && !middleware.IsAdmin(ctx, p.db) {
		utils.Error(ctx, http.StatusForbidden, 40301, "you can only modify your own posts")
		return nil, false
	}
	return &post, true
}

// attachFavoriteCounts fills FavoriteCount with one grouped query.
func (p *PostController) attachFavoriteCounts(posts []models.Post) {
	attachFavoriteCounts(p.db, posts)
}

func attachFavoriteCounts(db *gorm.DB, posts []models.Post) {
	if len(posts) == 0 {
		return
	}
	ids := make([]uint, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	var rows []struct {
		PostID uint
		Total  int64
	}
	if err := db.Model(&models.Favorite{}).Select("post_id, COUNT(*) AS total").
		Where("post_id IN ?", utils.Unique(ids)).Group("post_id").Scan(&rows).Error; err != nil {
		utils.Sugar.Warnf("count favorites failed: %v", err)
		return
	}
	counts := make(map[uint]int64, len(rows))
	for _, r := range rows {
		counts[r.PostID] = r.Total
	}
	for i := range posts {
		posts[i].FavoriteCount = counts[posts[i].ID]
	}
}

func (p *PostController) invalidate(ctx *gin.Context, post models.Post) {
	invalidatePost(ctx, post.ID, post.UserID)
}

// invalidatePost drops every cached view that embeds the post.
func invalidatePost(ctx *gin.Context, postID, authorID uint) {
	utils.InvalidateByPrefix(ctx.Request.Context(),
		utils.CachePostsList,
		utils.CachePostDetail+strconv.FormatUint(uint64(postID), 10),
		fmt.Sprintf("%s%d:", utils.CacheUserPosts, authorID),
	)
}
