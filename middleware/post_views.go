package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

// PostViewRoute is the detail route whose successful GETs count as views.
const PostViewRoute = "/api/v1/posts/:id"

// PostViewRecorder counts successful post detail reads per day and bumps posts.view_count.
func PostViewRecorder(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.Method != http.MethodGet || c.FullPath() != PostViewRoute {
			return
		}
		if status := c.Writer.Status(); status < 200 || status >= 300 {
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil || id == 0 {
			return
		}
		RecordPostView(db.WithContext(c.Request.Context()), uint(id), time.Now())
	}
}

// RecordPostView upserts the daily counter and increments the post's running total.
func RecordPostView(db *gorm.DB, postID uint, at time.Time) {
	local := at.In(time.Local)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())

	// Atomic upsert to avoid duplicate key errors under concurrency
	err := db.Clauses(postViewUpsert()).Create(&models.PostView{Date: day, PostID: postID, Count: 1}).Error
	if err != nil {
		utils.Sugar.Warnf("record post view failed post=%d err=%v", postID, err)
	}
	if err := db.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("view_count", gorm.Expr("view_count + 1")).Error; err != nil {
		utils.Sugar.Warnf("bump view_count failed post=%d err=%v", postID, err)
	}
}

// postViewUpsert bumps an existing daily row. The column is table-qualified because
// postgres also exposes EXCLUDED.count inside DO UPDATE.
func postViewUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "post_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("post_views.count + 1"),
			"updated_at": time.Now(),
		}),
	}
}

// Today returns local midnight, the key used for daily counters.
func Today() time.Time {
	now := time.Now().In(time.Local)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}
