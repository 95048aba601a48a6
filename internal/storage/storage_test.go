package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

var fixed = time.UnixMilli(1735689600000)

func TestS3StorePutAvatar(t *testing.T) {
	putter := &fakePutter{}
	store := NewS3Store(putter, "molttok-media", "eu-west-1", "")
	store.now = func() time.Time { return fixed }
	agentID := uuid.MustParse("6f1c1c5e-8a51-4c0e-9d7b-1f2a3b4c5d6e")

	url, err := store.PutAvatar(context.Background(), agentID, "image/png", []byte("png-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "https://molttok-media.s3.eu-west-1.amazonaws.com/avatars/6f1c1c5e-8a51-4c0e-9d7b-1f2a3b4c5d6e-1735689600000.png", url)
	assert.Equal(t, "molttok-media", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(putter.input.ContentType))
	assert.Equal(t, []byte("png-bytes"), putter.body)
}

func TestS3StoreCustomBaseURLAndFailure(t *testing.T) {
	putter := &fakePutter{}
	store := NewS3Store(putter, "b", "us-east-1", "https://cdn.example.com/")
	store.now = func() time.Time { return fixed }

	url, err := store.PutAvatar(context.Background(), uuid.Nil, "image/jpeg", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/00000000-0000-0000-0000-000000000000-1735689600000.jpg", url)

	putter.err = errors.New("access denied")
	_, err = store.PutAvatar(context.Background(), uuid.Nil, "image/gif", []byte("x"))
	assert.ErrorContains(t, err, "access denied")

	_, err = store.PutAvatar(context.Background(), uuid.Nil, "image/bmp", []byte("x"))
	assert.ErrorContains(t, err, "unsupported avatar content type")
}

func TestLocalStoreWritesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "avatars"), "http://localhost:8080/")
	require.NoError(t, err)
	store.now = func() time.Time { return fixed }
	agentID := uuid.New()

	url, err := store.PutAvatar(context.Background(), agentID, "image/webp", []byte("webp"))
	require.NoError(t, err)

	name := agentID.String() + "-1735689600000.webp"
	assert.Equal(t, "http://localhost:8080/avatars/"+name, url)

	data, err := os.ReadFile(filepath.Join(store.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, []byte("webp"), data)
}
