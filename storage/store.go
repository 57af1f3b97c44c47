// Package storage keeps uploaded images in named buckets on the local filesystem
// and tracks them so that uploads never attached to a row are eventually removed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/models"
	"github.com/travelhub/travelhub/utils"
)

// Buckets.
const (
	BucketPostImage = "post_image"
	BucketAvatars   = "avatars"
	BucketNews      = "news_images"
	BucketHero      = "hero_images"
	BucketChat      = "chat_images"
)

var buckets = map[string]struct{}{
	BucketPostImage: {},
	BucketAvatars:   {},
	BucketNews:      {},
	BucketHero:      {},
	BucketChat:      {},
}

var allowedTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
}

var (
	ErrUnknownBucket   = errors.New("unknown bucket")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrEmpty           = errors.New("empty file")
	ErrNotOwner        = errors.New("object belongs to another user")
)

// sniffLen covers every signature mimetype needs for the allowed image types.
const sniffLen = 3072

// Object describes a stored file.
type Object struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// Options configures a Store.
type Options struct {
	Root         string
	PublicBase   string
	MaxSize      int64
	UnclaimedTTL time.Duration
}

// Store writes objects under Root/<bucket>/<yyyy>/<mm>/ and serves them at PublicBase.
type Store struct {
	db   *gorm.DB
	opts Options
}

// New prepares bucket directories. db may be nil, in which case uploads are not tracked.
func New(db *gorm.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("storage root is required")
	}
	if opts.PublicBase == "" {
		opts.PublicBase = "/storage"
	}
	opts.PublicBase = "/" + strings.Trim(opts.PublicBase, "/")
	if opts.MaxSize <= 0 {
		opts.MaxSize = 10 << 20
	}
	if opts.UnclaimedTTL <= 0 {
		opts.UnclaimedTTL = 24 * time.Hour
	}
	for b := range buckets {
		if err := os.MkdirAll(filepath.Join(opts.Root, b), 0o755); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", b, err)
		}
	}
	return &Store{db: db, opts: opts}, nil
}

// Root returns the directory holding all buckets.
func (s *Store) Root() string { return s.opts.Root }

// PublicBase returns the URL prefix objects are served under.
func (s *Store) PublicBase() string { return s.opts.PublicBase }

// MaxSize returns the per-object size limit in bytes.
func (s *Store) MaxSize() int64 { return s.opts.MaxSize }

// Put stores r in bucket after checking it is an accepted image no larger than MaxSize.
func (s *Store) Put(ctx context.Context, bucket string, ownerID uint, r io.Reader) (*Object, error) {
	if _, ok := buckets[bucket]; !ok {
		return nil, ErrUnknownBucket
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if n == 0 {
		return nil, ErrEmpty
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	if _, ok := allowedTypes[mt.String()]; !ok {
		return nil, ErrUnsupportedType
	}
	if int64(n) > s.opts.MaxSize {
		return nil, ErrTooLarge
	}

	now := time.Now()
	key := path.Join(now.Format("2006"), now.Format("01"), uuid.NewString()+mt.Extension())
	dst := filepath.Join(s.opts.Root, bucket, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("create object: %w", err)
	}

	written, err := writeLimited(out, head, r, s.opts.MaxSize)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, err
	}

	obj := &Object{
		Bucket:      bucket,
		Key:         key,
		URL:         s.opts.PublicBase + "/" + bucket + "/" + key,
		Size:        written,
		ContentType: mt.String(),
	}
	s.record(ctx, obj, dst, ownerID, now)
	return obj, nil
}

func writeLimited(w io.Writer, head []byte, rest io.Reader, limit int64) (int64, error) {
	if _, err := w.Write(head); err != nil {
		return 0, fmt.Errorf("write object: %w", err)
	}
	lr := &io.LimitedReader{R: rest, N: limit - int64(len(head)) + 1}
	n, err := io.Copy(w, lr)
	if err != nil {
		return 0, fmt.Errorf("write object: %w", err)
	}
	total := int64(len(head)) + n
	if total > limit {
		return 0, ErrTooLarge
	}
	return total, nil
}

func (s *Store) record(ctx context.Context, obj *Object, filePath string, ownerID uint, now time.Time) {
	if s.db == nil {
		return
	}
	exp := now.Add(s.opts.UnclaimedTTL)
	abs, _ := filepath.Abs(filePath)
	row := models.UploadedFile{
		Bucket:      obj.Bucket,
		ObjectKey:   obj.Key,
		FilePath:    abs,
		URL:         obj.URL,
		OwnerID:     ownerID,
		Size:        obj.Size,
		ContentType: obj.ContentType,
		ExpireAt:    &exp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		utils.Sugar.Warnf("record upload failed url=%s err=%v", obj.URL, err)
	}
}

// Claim marks an uploaded object as referenced so the cleaner keeps it.
// URLs that do not belong to this store are ignored.
func (s *Store) Claim(ctx context.Context, url string) {
	if s.db == nil || url == "" {
		return
	}
	if _, _, ok := s.Locate(url); !ok {
		return
	}
	if err := s.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Where("url = ?", url).Update("expire_at", nil).Error; err != nil {
		utils.Sugar.Warnf("claim upload failed url=%s err=%v", url, err)
	}
}

// Authorize checks that url is an object of bucket uploaded by ownerID.
// ownerID 0 accepts any uploader; used for admin-managed buckets.
func (s *Store) Authorize(ctx context.Context, url, bucket string, ownerID uint) error {
	b, _, ok := s.Locate(url)
	if !ok || b != bucket {
		return ErrUnknownBucket
	}
	if ownerID == 0 || s.db == nil {
		return nil
	}
	var owners []uint
	if err := s.db.WithContext(ctx).Model(&models.UploadedFile{}).
		Where("url = ?", url).Limit(1).Pluck("owner_id", &owners).Error; err != nil {
		return fmt.Errorf("load upload owner: %w", err)
	}
	if len(owners) == 0 || owners[0] != ownerID {
		return ErrNotOwner
	}
	return nil
}

// Release deletes url when Authorize accepts it for bucket and ownerID, and leaves it alone otherwise.
func (s *Store) Release(ctx context.Context, url, bucket string, ownerID uint) {
	if url == "" {
		return
	}
	if err := s.Authorize(ctx, url, bucket, ownerID); err != nil {
		if !errors.Is(err, ErrUnknownBucket) && !errors.Is(err, ErrNotOwner) {
			utils.Sugar.Warnf("release object failed url=%s err=%v", url, err)
		}
		return
	}
	if err := s.Delete(ctx, url); err != nil {
		utils.Sugar.Warnf("delete released object failed url=%s err=%v", url, err)
	}
}

// Replace claims next and releases prev when the reference changed.
func (s *Store) Replace(ctx context.Context, bucket, prev, next string, ownerID uint) {
	if prev == next {
		return
	}
	s.Claim(ctx, next)
	s.Release(ctx, prev, bucket, ownerID)
}

// Locate maps a public URL back to its bucket and key.
func (s *Store) Locate(url string) (bucket, key string, ok bool) {
	prefix := s.opts.PublicBase + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, prefix)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || key == "" {
		return "", "", false
	}
	if _, known := buckets[bucket]; !known {
		return "", "", false
	}
	clean := path.Clean("/" + key)[1:]
	if clean != key {
		return "", "", false
	}
	return bucket, key, true
}

// Delete removes the object behind url and its tracking row.
func (s *Store) Delete(ctx context.Context, url string) error {
	bucket, key, ok := s.Locate(url)
	if !ok {
		return ErrUnknownBucket
	}
	p := filepath.Join(s.opts.Root, bucket, filepath.FromSlash(key))
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	if s.db != nil {
		return s.db.WithContext(ctx).Where("url = ?", url).Delete(&models.UploadedFile{}).Error
	}
	return nil
}

// CleanExpired deletes up to limit unclaimed uploads whose expiry has passed.
func (s *Store) CleanExpired(ctx context.Context, limit int) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	var items []models.UploadedFile
	if err := s.db.WithContext(ctx).
		Where("expire_at IS NOT NULL AND expire_at <= ?", time.Now()).
		Limit(limit).Find(&items).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, it := range items {
		if it.FilePath != "" {
			if err := os.Remove(it.FilePath); err != nil && !os.IsNotExist(err) {
				utils.Sugar.Warnf("upload cleaner remove failed path=%s err=%v", it.FilePath, err)
			}
		}
		// Remove row regardless of file deletion outcome
		if err := s.db.WithContext(ctx).Delete(&models.UploadedFile{}, it.ID).Error; err != nil {
			utils.Sugar.Warnf("upload cleaner delete row failed id=%d err=%v", it.ID, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// StartCleaner periodically removes expired unclaimed uploads until ctx is done.
func (s *Store) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CleanExpired(ctx, 100)
				if err != nil {
					utils.Sugar.Errorf("upload cleaner query failed: %v", err)
					continue
				}
				if n > 0 {
					utils.Sugar.Infof("upload cleaner removed %d expired uploads", n)
				}
			}
		}
	}()
}
