package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

const heroOrder = "sort_order ASC, id ASC"

var errSlideMissing = errors.New("hero slide not found")

// HeroController manages the homepage carousel.
type HeroController struct {
	db    *gorm.DB
	store *storage.Store
}

// NewHeroController creates a HeroController.
func NewHeroController(db *gorm.DB, store *storage.Store) *HeroController {
	return &HeroController{db: db, store: store}
}

type heroRequest struct {
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	ImageURL  string `json:"image_url"`
	LinkURL   string `json:"link_url"`
	SortOrder *int   `json:"sort_order"`
	Active    *bool  `json:"active"`
}

func (req heroRequest) apply(ctx context.Context, store *storage.Store, s *models.HeroSlide) (int, string) {
	imageURL := strings.TrimSpace(req.ImageURL)
	if imageURL == "" {
		return 40080, "image_url is required"
	}
	if imageURL != s.ImageURL && !validImageRef(ctx, store, imageURL, storage.BucketHero, 0) {
		return 40081, "invalid image url"
	}
	link := strings.TrimSpace(req.LinkURL)
	if link != "" && !isLocalPath(link) && !strings.HasPrefix(link, "https://") && !strings.HasPrefix(link, "http://") {
		return 40082, "link must be a site path or http(s) url"
	}
	s.Title = utils.Truncate(utils.PlainText(req.Title), 255)
	s.Subtitle = utils.Truncate(utils.PlainText(req.Subtitle), 500)
	s.ImageURL = imageURL
	s.LinkURL = link
	if req.SortOrder != nil {
		s.SortOrder = *req.SortOrder
	}
	if req.Active != nil {
		s.Active = *req.Active
	}
	return 0, ""
}

// List returns active slides in display order.
func (h *HeroController) List(ctx *gin.Context) {
	if utils.ServeCached(ctx, utils.CacheHeroSlides) {
		return
	}
	var slides []models.HeroSlide
	if err := h.db.Where("active = ?", true).Order(heroOrder).Find(&slides).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50080, "failed to list hero slides")
		return
	}
	utils.SuccessCached(ctx, utils.CacheHeroSlides, slides, time.Hour)
}

// AdminList returns every slide including inactive ones.
func (h *HeroController) AdminList(ctx *gin.Context) {
	var slides []models.HeroSlide
	if err := h.db.Order(heroOrder).Find(&slides).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50080, "failed to list hero slides")
		return
	}
	utils.Success(ctx, slides)
}

// Create adds a slide; without sort_order it goes last.
func (h *HeroController) Create(ctx *gin.Context) {
	var req heroRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40083, "invalid request payload")
		return
	}
	slide := models.HeroSlide{Active: true}
	if code, msg := req.apply(ctx.Request.Context(), h.store, &slide); code != 0 {
		utils.Error(ctx, http.StatusBadRequest, code, msg)
		return
	}
	if req.SortOrder == nil {
		var last int
		h.db.Model(&models.HeroSlide{}).Select("COALESCE(MAX(sort_order), 0)").Scan(&last)
		slide.SortOrder = last + 1
	}

	// a false Active is a zero value: Create writes the column default and reads it back
	active := slide.Active
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&slide).Error; err != nil {
			return err
		}
		if !active {
			if err := tx.Model(&slide).Update("active", false).Error; err != nil {
				return err
			}
			slide.Active = false
		}
		return nil
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50081, "failed to create hero slide")
		return
	}
	h.store.Claim(ctx.Request.Context(), slide.ImageURL)
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheHeroSlides)
	utils.Created(ctx, slide)
}

// Update replaces a slide's fields.
func (h *HeroController) Update(ctx *gin.Context) {
	slide, ok := h.load(ctx)
	if !ok {
		return
	}
	var req heroRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40083, "invalid request payload")
		return
	}
	prevImage := slide.ImageURL
	if code, msg := req.apply(ctx.Request.Context(), h.store, slide); code != 0 {
		utils.Error(ctx, http.StatusBadRequest, code, msg)
		return
	}
	if err := h.db.Model(slide).
		Select("title", "subtitle", "image_url", "link_url", "sort_order", "active").
		Updates(slide).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50082, "failed to update hero slide")
		return
	}
	h.store.Replace(ctx.Request.Context(), storage.BucketHero, prevImage, slide.ImageURL, 0)
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheHeroSlides)
	utils.Success(ctx, slide)
}

// Delete removes a slide and its picture.
func (h *HeroController) Delete(ctx *gin.Context) {
	slide, ok := h.load(ctx)
	if !ok {
		return
	}
	if err := h.db.Delete(slide).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50083, "failed to delete hero slide")
		return
	}
	h.store.Release(ctx.Request.Context(), slide.ImageURL, storage.BucketHero, 0)
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheHeroSlides)
	utils.Success(ctx, gin.H{"message": "hero slide deleted"})
}

// Reorder assigns sort_order 1..n following the given ids.
func (h *HeroController) Reorder(ctx *gin.Context) {
	var req struct {
		IDs []uint `json:"ids" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40084, "ids are required")
		return
	}
	if len(utils.Unique(req.IDs)) != len(req.IDs) {
		utils.Error(ctx, http.StatusBadRequest, 40085, "ids must not repeat")
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&models.HeroSlide{}).Where("id IN ?", req.IDs).Count(&found).Error; err != nil {
			return err
		}
		if found != int64(len(req.IDs)) {
			return errSlideMissing
		}
		for i, id := range req.IDs {
			if err := tx.Model(&models.HeroSlide{}).Where("id = ?", id).Update("sort_order", i+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errSlideMissing) {
		utils.Error(ctx, http.StatusNotFound, 40404, "hero slide not found")
		return
	}
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50084, "failed to reorder hero slides")
		return
	}
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheHeroSlides)
	h.AdminList(ctx)
}

// UploadImage stores a banner picture in the hero_images bucket.
func (h *HeroController) UploadImage(ctx *gin.Context) {
	obj, ok := receiveUpload(ctx, h.store, storage.BucketHero)
	if !ok {
		return
	}
	utils.Success(ctx, obj)
}

func (h *HeroController) load(ctx *gin.Context) (*models.HeroSlide, bool) {
	id, ok := parseID(ctx, "id")
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40086, "invalid hero slide id")
		return nil, false
	}
	var slide models.HeroSlide
	if err := h.db.First(&slide, id).Error; err != nil {
		if isNotFound(err) {
			utils.Error(ctx, http.StatusNotFound, 40404, "hero slide not found")
			return nil, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50085, "failed to load hero slide")
		return nil, false
	}
	return &slide, true
}
