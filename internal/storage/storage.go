package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"molttok/internal/util"
)

// AvatarStore persists avatar images and returns the public URL they are served from.
type AvatarStore interface {
	PutAvatar(ctx context.Context, agentID uuid.UUID, contentType string, data []byte) (string, error)
}

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// objectName gives every upload a fresh name so caches never serve a stale avatar.
func objectName(agentID uuid.UUID, contentType string, now time.Time) (string, error) {
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("unsupported avatar content type %q", contentType)
	}
	return fmt.Sprintf("%s-%d.%s", agentID, now.UnixMilli(), ext), nil
}

// ObjectPutter is the subset of the S3 API used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client  ObjectPutter
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewS3Store uploads under avatars/ in bucket. baseURL defaults to the
// bucket's virtual-hosted endpoint.
func NewS3Store(client ObjectPutter, bucket, region, baseURL string) *S3Store {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return &S3Store{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}
}

func (s *S3Store) PutAvatar(ctx context.Context, agentID uuid.UUID, contentType string, data []byte) (string, error) {
	name, err := objectName(agentID, contentType, s.now())
	if err != nil {
		return "", err
	}
	key := "avatars/" + name

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		util.Error("Failed to upload avatar",
			zap.String("agent_id", agentID.String()),
			zap.String("bucket", s.bucket),
			zap.Error(err))
		return "", fmt.Errorf("failed to upload avatar: %w", err)
	}
	return s.baseURL + "/" + key, nil
}

// LocalStore writes avatars to a directory that the HTTP server exposes under /avatars/.
type LocalStore struct {
	dir     string
	baseURL string
	now     func() time.Time
}

func NewLocalStore(dir, publicURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(publicURL, "/") + "/avatars",
		now:     time.Now,
	}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) PutAvatar(_ context.Context, agentID uuid.UUID, contentType string, data []byte) (string, error) {
	name, err := objectName(agentID, contentType, s.now())
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}
	return s.baseURL + "/" + name, nil
}
