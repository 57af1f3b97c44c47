package controllers

import (
	"context"
	"fmt"
	"net/http"
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

const defaultNewsPageSize = 10

// NewsController serves published articles publicly and manages all of them for admins.
type NewsController struct {
	db    *gorm.DB
	store *storage.Store
}

// NewNewsController creates a NewsController.
func NewNewsController(db *gorm.DB, store *storage.Store) *NewsController {
	return &NewsController{db: db, store: store}
}

type newsRequest struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Content   string `json:"content"`
	ImageURL  string `json:"image_url"`
	Published bool   `json:"published"`
}

func (req newsRequest) apply(ctx context.Context, store *storage.Store, n *models.News) (int, string) {
	title := utils.PlainText(req.Title)
	if title == "" || utf8.RuneCountInString(title) > 255 {
		return 40070, "title must be 1-255 characters"
	}
	content := utils.Sanitize(req.Content)
	if strings.TrimSpace(content) == "" {
		return 40071, "content cannot be empty"
	}
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL != n.ImageURL && !validImageRef(ctx, store, imageURL, storage.BucketNews, 0) {
		return 40072, "invalid image url"
	}
	n.Title = title
	n.Summary = utils.Truncate(utils.PlainText(req.Summary), 500)
	n.Content = content
	n.ImageURL = imageURL
	n.Published = req.Published
	// first publication only
	if n.Published && n.PublishedAt == nil {
		now := time.Now()
		n.PublishedAt = &now
	}
	return 0, ""
}

// List returns published news, newest first.
func (c *NewsController) List(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx, defaultNewsPageSize)
	search := strings.TrimSpace(ctx.Query("search"))

	cacheKey := ""
	if search == "" {
		cacheKey = fmt.Sprintf("%spage=%d:size=%d", utils.CacheNewsList, page, pageSize)
		if utils.ServeCached(ctx, cacheKey) {
			return
		}
	}

	q := c.db.Model(&models.News{}).Where("published = ?", true)
	if search != "" {
		like := containsPattern(search)
		q = q.Where(`title LIKE ? ESCAPE '!' OR summary LIKE ? ESCAPE '!'`, like, like)
	}
	items, total, ok := c.page(ctx, q.Order("published_at DESC, id DESC"), page, pageSize)
	if !ok {
		return
	}
	payload := utils.NewPage(items, page, pageSize, total)
	if cacheKey != "" {
		utils.SuccessCached(ctx, cacheKey, payload, time.Hour)
		return
	}
	utils.Success(ctx, payload)
}

// Get returns one article. Drafts are visible to admins only.
func (c *NewsController) Get(ctx *gin.Context) {
	item, ok := c.load(ctx)
	if !ok {
		return
	}
	if !item.Published && !middleware.IsAdmin(ctx, c.db) {
		utils.Error(ctx, http.StatusNotFound, 40403, "news not found")
		return
	}
	utils.Success(ctx, item)
}

// AdminList returns every article including drafts.
func (c *NewsController) AdminList(ctx *gin.Context) {
	page, pageSize := parsePagination(ctx, defaultNewsPageSize)
	q := c.db.Model(&models.News{})
	if search := strings.TrimSpace(ctx.Query("search")); search != "" {
		like := containsPattern(search)
		q = q.Where(`title LIKE ? ESCAPE '!' OR summary LIKE ? ESCAPE '!'`, like, like)
	}
	items, total, ok := c.page(ctx, q.Order("created_at DESC, id DESC"), page, pageSize)
	if !ok {
		return
	}
	utils.Success(ctx, utils.NewPage(items, page, pageSize, total))
}

// Create adds an article.
func (c *NewsController) Create(ctx *gin.Context) {
	userID, _ := getUserID(ctx)
	var req newsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40073, "invalid request payload")
		return
	}
	item := models.News{AuthorID: userID}
	if code, msg := req.apply(ctx.Request.Context(), c.store, &item); code != 0 {
		utils.Error(ctx, http.StatusBadRequest, code, msg)
		return
	}
	if err := c.db.Create(&item).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50070, "failed to create news")
		return
	}
	c.store.Claim(ctx.Request.Context(), item.ImageURL)
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheNewsList)
	utils.Created(ctx, item)
}

// Update replaces an article's fields.
func (c *NewsController) Update(ctx *gin.Context) {
	item, ok := c.load(ctx)
	if !ok {
		return
	}
	var req newsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40073, "invalid request payload")
		return
	}
	prevImage := item.ImageURL
	if code, msg := req.apply(ctx.Request.Context(), c.store, item); code != 0 {
		utils.Error(ctx, http.StatusBadRequest, code, msg)
		return
	}
	if err := c.db.Model(item).
		Select("title", "summary", "content", "image_url", "published", "published_at").
		Updates(item).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50071, "failed to update news")
		return
	}
	c.store.Replace(ctx.Request.Context(), storage.BucketNews, prevImage, item.ImageURL, 0)
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheNewsList)
	utils.Success(ctx, item)
}

// Delete removes an article and its picture.
func (c *NewsController) Delete(ctx *gin.Context) {
	item, ok := c.load(ctx)
	if !ok {
		return
	}
	if err := c.db.Delete(item).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50072, "failed to delete news")
		return
	}
	c.store.Release(ctx.Request.Context(), item.ImageURL, storage.BucketNews, 0)
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheNewsList)
	utils.Success(ctx, gin.H{"message": "news deleted"})
}

// UploadImage stores an article picture in the news_images bucket.
func (c *NewsController) UploadImage(ctx *gin.Context) {
	obj, ok := receiveUpload(ctx, c.store, storage.BucketNews)
	if !ok {
		return
	}
	utils.Success(ctx, obj)
}

func (c *NewsController) load(ctx *gin.Context) (*models.News, bool) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40074, "invalid news id")
		return nil, false
	}
	var item models.News
	if err := c.db.First(&item, id).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40403, "news not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50073, "failed to load news")
		return nil, false
	}
	return &item, true
}

func (c *NewsController) page(ctx *gin.Context, q *gorm.DB, page, pageSize int) ([]models.News, int64, bool) {
	var total int64
	if err := q.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50074, "failed to count news")
		return nil, 0, false
	}
	var items []models.News
	if err := q.Offset((page - 1) * pageSize).Limit(pageSize).Find(&items).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50075, "failed to list news")
		return nil, 0, false
	}
	return items, total, true
}
