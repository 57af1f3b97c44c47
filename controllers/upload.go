package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

// multipart framing allowance on top of the object size limit
const uploadOverhead = 1 << 20

// receiveUpload stores the multipart field "file" in bucket and writes the error response on failure.
func receiveUpload(ctx *gin.Context, store *storage.Store, bucket string) (*storage.Object, bool) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40113, "unauthorized")
		return nil, false
	}

	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, store.MaxSize()+uploadOverhead)
	file, _, err := ctx.Request.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			utils.Error(ctx, http.StatusRequestEntityTooLarge, 41300, tooLargeMessage(store))
			return nil, false
		}
		utils.Error(ctx, http.StatusBadRequest, 40030, "no file uploaded")
		return nil, false
	}
	defer file.Close()

	obj, err := store.Put(ctx.Request.Context(), bucket, userID, file)
	switch {
	case err == nil:
		return obj, true
	case errors.Is(err, storage.ErrTooLarge):
		utils.Error(ctx, http.StatusRequestEntityTooLarge, 41300, tooLargeMessage(store))
	case errors.Is(err, storage.ErrUnsupportedType):
		utils.Error(ctx, http.StatusBadRequest, 40031, "only jpeg, png, gif and webp images are accepted")
	case errors.Is(err, storage.ErrEmpty):
		utils.Error(ctx, http.StatusBadRequest, 40032, "file is empty")
	case errors.Is(err, storage.ErrUnknownBucket):
		utils.Error(ctx, http.StatusBadRequest, 40033, "unknown bucket")
	default:
		utils.Sugar.Errorf("store upload failed bucket=%s err=%v", bucket, err)
		utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to save file")
	}
	return nil, false
}

func tooLargeMessage(store *storage.Store) string {
	return fmt.Sprintf("file size exceeds %dMB", store.MaxSize()>>20)
}

// validImageRef accepts an empty reference, an absolute http(s) URL, or an object of bucket
// uploaded by ownerID (any uploader when ownerID is 0).
func validImageRef(ctx context.Context, store *storage.Store, ref, bucket string, ownerID uint) bool {
	if ref == "" {
		return true
	}
	if _, _, ok := store.Locate(ref); ok {
		return store.Authorize(ctx, ref, bucket, ownerID) == nil
	}
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}
