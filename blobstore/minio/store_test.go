package minio

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/walbuf/blobstore"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	ctx := context.Background()
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := Dial(dialCtx, Config{
		Endpoint:     endpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		Bucket:       "test-walbuf",
		Prefix:       "test-prefix/",
		CreateBucket: true,
	})
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "wal/1.rec", data))

	got, err := store.Get(ctx, "wal/1.rec")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "wal/")
	require.NoError(t, err)
	assert.Contains(t, names, "wal/1.rec")

	require.NoError(t, store.Delete(ctx, "wal/1.rec"))
	require.NoError(t, store.Delete(ctx, "wal/1.rec"))

	_, err = store.Get(ctx, "wal/1.rec")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_Key(t *testing.T) {
	s := NewStore(nil, "bucket", "root/")
	assert.Equal(t, "root/wal/1.rec", s.key("wal/1.rec"))

	s = NewStore(nil, "bucket", "")
	assert.Equal(t, "wal/1.rec", s.key("wal/1.rec"))
}
