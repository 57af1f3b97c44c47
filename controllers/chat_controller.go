package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/realtime"
	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

const (
	// LobbyRoom is the site-wide chat room.
	LobbyRoom = "lobby"

	postRoomPrefix      = "post:"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxMessageRunes     = 2000
)

// PostRoom names the discussion room of a post.
func PostRoom(postID uint) string {
	return postRoomPrefix + strconv.FormatUint(uint64(postID), 10)
}

// ChatController serves chat history, posting and websocket subscriptions.
type ChatController struct {
	db    *gorm.DB
	store *storage.Store
	hub   *realtime.Hub
}

// NewChatController creates a ChatController.
func NewChatController(db *gorm.DB, store *storage.Store, hub *realtime.Hub) *ChatController {
	return &ChatController{db: db, store: store, hub: hub}
}

// resolveRoom validates the :room parameter. Post rooms require the post to exist.
func (c *ChatController) resolveRoom(ctx *gin.Context) (string, bool) {
	room := strings.TrimSpace(ctx.Param("room"))
	if room == LobbyRoom {
		return room, true
	}
	idStr, found := strings.CutPrefix(room, postRoomPrefix)
	id, err := strconv.ParseUint(idStr, 10, 64)
	if !found || err != nil || id == 0 || PostRoom(uint(id)) != room {
		utils.Error(ctx, http.StatusBadRequest, 40050, "room must be lobby or post:<id>")
		return "", false
	}
	var count int64
	if err := c.db.Model(&models.Post{}).Where("id = ?", id).Count(&count).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to load room")
		return "", false
	}
	if count == 0 {
		utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
		return "", false
	}
	return room, true
}

// History returns up to limit messages older than the before cursor, oldest first.
func (c *ChatController) History(ctx *gin.Context) {
	room, ok := c.resolveRoom(ctx)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if v := strings.TrimSpace(ctx.Query("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			utils.Error(ctx, http.StatusBadRequest, 40051, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	q := withAuthorProfile(c.db).Where("room = ?", room)
	if v := strings.TrimSpace(ctx.Query("before")); v != "" {
		before, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40052, "invalid before cursor")
			return
		}
		q = q.Where("id < ?", before)
	}

	var messages []models.ChatMessage
	if err := q.Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to load messages")
		return
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	var nextBefore *uint
	if len(messages) == limit {
		nextBefore = &messages[0].ID
	}
	utils.Success(ctx, gin.H{"room": room, "items": messages, "next_before": nextBefore})
}

// Send stores a message and fans it out to the room's subscribers.
func (c *ChatController) Send(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	room, ok := c.resolveRoom(ctx)
	if !ok {
		return
	}
	var req struct {
		Content  string `json:"content"`
		ImageURL string `json:"image_url"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40053, "invalid request payload")
		return
	}
	content := utils.PlainText(req.Content)
	imageURL := strings.TrimSpace(req.ImageURL)
	if content == "" && imageURL == "" {
		utils.Error(ctx, http.StatusBadRequest, 40054, "message cannot be empty")
		return
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		utils.Error(ctx, http.StatusBadRequest, 40055, "message must be at most 2000 characters")
		return
	}
	if imageURL != "" {
		if err := c.store.Authorize(ctx.Request.Context(), imageURL, storage.BucketChat, userID); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40056, "image must be uploaded to chat first")
			return
		}
	}

	msg := models.ChatMessage{Room: room, UserID: userID, Content: content, ImageURL: imageURL}
	if err := c.db.Create(&msg).Error; err != nil {
		utils.Sugar.Errorf("create chat message failed room=%s err=%v", room, err)
		utils.Error(ctx, http.StatusInternalServerError, 50052, "failed to send message")
		return
	}
	c.store.Claim(ctx.Request.Context(), imageURL)
	if err := withAuthorProfile(c.db).First(&msg, msg.ID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50053, "failed to load message")
		return
	}

	if err := c.hub.Publish(ctx.Request.Context(), room, msg); err != nil {
		// stored; subscribers catch up from history
		utils.Sugar.Warnf("publish chat message failed room=%s id=%d err=%v", room, msg.ID, err)
	}
	utils.Created(ctx, msg)
}

// UploadImage stores a chat picture in the chat_images bucket.
func (c *ChatController) UploadImage(ctx *gin.Context) {
	obj, ok := receiveUpload(ctx, c.store, storage.BucketChat)
	if !ok {
		return
	}
	utils.Success(ctx, obj)
}

// Subscribe upgrades to a websocket that receives every new message of the room.
func (c *ChatController) Subscribe(ctx *gin.Context) {
	room, ok := c.resolveRoom(ctx)
	if !ok {
		return
	}
	userID, _ := getUserID(ctx)
	if err := c.hub.Serve(ctx.Writer, ctx.Request, room, userID); err != nil {
		utils.Sugar.Debugf("chat subscribe failed room=%s err=%v", room, err)
	}
}
