package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/travelhub/travelhub/models"
)

var png = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func newTestStore(t *testing.T, opts Options) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UploadedFile{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	s, err := New(db, opts)
	require.NoError(t, err)
	return s, db
}

func TestPutStoresImageAndRecordsIt(t *testing.T) {
	s, db := newTestStore(t, Options{PublicBase: "media/"})
	assert.Equal(t, "/media", s.PublicBase())

	obj, err := s.Put(context.Background(), BucketAvatars, 7, bytes.NewReader(png))
	require.NoError(t, err)
	assert.Equal(t, BucketAvatars, obj.Bucket)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.EqualValues(t, len(png), obj.Size)
	assert.True(t, strings.HasPrefix(obj.URL, "/media/avatars/"), obj.URL)
	assert.True(t, strings.HasSuffix(obj.Key, ".png"), obj.Key)

	data, err := os.ReadFile(filepath.Join(s.Root(), BucketAvatars, filepath.FromSlash(obj.Key)))
	require.NoError(t, err)
	assert.Equal(t, png, data)

	var rec models.UploadedFile
	require.NoError(t, db.Where("url = ?", obj.URL).First(&rec).Error)
	assert.EqualValues(t, 7, rec.OwnerID)
	require.NotNil(t, rec.ExpireAt)
	assert.True(t, rec.ExpireAt.After(time.Now()))
}

func TestPutRejectsBadInput(t *testing.T) {
	s, _ := newTestStore(t, Options{MaxSize: 64})
	ctx := context.Background()

	_, err := s.Put(ctx, "documents", 1, bytes.NewReader(png))
	assert.ErrorIs(t, err, ErrUnknownBucket)

	_, err = s.Put(ctx, BucketChat, 1, bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = s.Put(ctx, BucketChat, 1, strings.NewReader("#!/bin/sh\necho hi\n"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	big := append(append([]byte{}, png...), make([]byte, 100)...)
	_, err = s.Put(ctx, BucketChat, 1, bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrTooLarge)

	// nothing half-written is left behind
	var files int
	_ = filepath.Walk(filepath.Join(s.Root(), BucketChat), func(_ string, info os.FileInfo, _ error) error {
		if info != nil && !info.IsDir() {
			files++
		}
		return nil
	})
	assert.Zero(t, files)
}

func TestLocate(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	bucket, key, ok := s.Locate("/storage/post_image/2024/05/a.png")
	require.True(t, ok)
	assert.Equal(t, BucketPostImage, bucket)
	assert.Equal(t, "2024/05/a.png", key)

	for _, u := range []string{
		"https://cdn.example/storage/post_image/a.png",
		"/storage/unknown/a.png",
		"/storage/post_image/",
		"/storage/post_image/../../etc/passwd",
		"/static/post_image/a.png",
	} {
		_, _, ok := s.Locate(u)
		assert.False(t, ok, u)
	}
}

func TestClaimKeepsObjectFromCleaner(t *testing.T) {
	s, db := newTestStore(t, Options{UnclaimedTTL: time.Millisecond})
	ctx := context.Background()

	kept, err := s.Put(ctx, BucketPostImage, 1, bytes.NewReader(png))
	require.NoError(t, err)
	dropped, err := s.Put(ctx, BucketPostImage, 1, bytes.NewReader(png))
	require.NoError(t, err)
	s.Claim(ctx, kept.URL)

	time.Sleep(5 * time.Millisecond)
	n, err := s.CleanExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(filepath.Join(s.Root(), BucketPostImage, filepath.FromSlash(kept.Key)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Root(), BucketPostImage, filepath.FromSlash(dropped.Key)))
	assert.True(t, os.IsNotExist(err))

	var rows int64
	db.Model(&models.UploadedFile{}).Count(&rows)
	assert.EqualValues(t, 1, rows)
}

func TestReplaceDeletesPreviousObject(t *testing.T) {
	s, db := newTestStore(t, Options{})
	ctx := context.Background()

	prev, err := s.Put(ctx, BucketAvatars, 1, bytes.NewReader(png))
	require.NoError(t, err)
	next, err := s.Put(ctx, BucketAvatars, 1, bytes.NewReader(png))
	require.NoError(t, err)

	s.Replace(ctx, BucketAvatars, prev.URL, next.URL, 1)

	_, err = os.Stat(filepath.Join(s.Root(), BucketAvatars, filepath.FromSlash(prev.Key)))
	assert.True(t, os.IsNotExist(err))

	var rec models.UploadedFile
	require.NoError(t, db.Where("url = ?", next.URL).First(&rec).Error)
	assert.Nil(t, rec.ExpireAt)

	// foreign URLs are left alone
	s.Replace(ctx, BucketAvatars, "https://example.com/a.png", next.URL, 1)
	assert.ErrorIs(t, s.Delete(ctx, "https://example.com/a.png"), ErrUnknownBucket)
}

func TestAuthorizeChecksBucketAndUploader(t *testing.T) {
	s, _ := newTestStore(t, Options{})
	ctx := context.Background()

	obj, err := s.Put(ctx, BucketAvatars, 1, bytes.NewReader(png))
	require.NoError(t, err)

	assert.NoError(t, s.Authorize(ctx, obj.URL, BucketAvatars, 1))
	assert.NoError(t, s.Authorize(ctx, obj.URL, BucketAvatars, 0))
	assert.ErrorIs(t, s.Authorize(ctx, obj.URL, BucketAvatars, 2), ErrNotOwner)
	assert.ErrorIs(t, s.Authorize(ctx, obj.URL, BucketPostImage, 1), ErrUnknownBucket)
	assert.ErrorIs(t, s.Authorize(ctx, "/storage/avatars/2024/01/missing.png", BucketAvatars, 1), ErrNotOwner)

	// another user's release is a no-op
	s.Release(ctx, obj.URL, BucketAvatars, 2)
	s.Replace(ctx, BucketAvatars, obj.URL, "", 2)
	path := filepath.Join(s.Root(), BucketAvatars, filepath.FromSlash(obj.Key))
	_, err = os.Stat(path)
	require.NoError(t, err)

	s.Release(ctx, obj.URL, BucketAvatars, 1)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
