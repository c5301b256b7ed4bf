package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "AWSLogs/1/CloudTrail/us-east-1/2024/05/01/a.json.gz", []byte("a")))
	require.NoError(t, store.Put(ctx, "AWSLogs/1/CloudTrail/us-east-1/2024/05/01/b.json.gz", []byte("b")))
	require.NoError(t, store.Put(ctx, "AWSLogs/1/CloudTrail/us-east-1/2024/05/02/c.json.gz", []byte("c")))
	require.NoError(t, store.Put(ctx, "AWSLogs/1/CloudTrail/us-east-1/2024/05/011/d.json.gz", []byte("d")))

	keys, err := store.List(ctx, "AWSLogs/1/CloudTrail/us-east-1/2024/05/01/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"AWSLogs/1/CloudTrail/us-east-1/2024/05/01/a.json.gz",
		"AWSLogs/1/CloudTrail/us-east-1/2024/05/01/b.json.gz",
	}, keys)

	data, err := store.Get(ctx, keys[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)
}

func TestLocalStoreMissing(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	keys, err := store.List(ctx, "AWSLogs/none/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = store.Get(ctx, "AWSLogs/none/x.gz")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePartialPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	require.NoError(t, store.Put(ctx, "out/detections_1.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, "out/other.json", []byte("{}")))

	keys, err := store.List(ctx, "out/detections_")
	require.NoError(t, err)
	assert.Equal(t, []string{"out/detections_1.json"}, keys)
}

func TestPrefixed(t *testing.T) {
	ctx := context.Background()
	base := NewLocalStore(t.TempDir())
	store := Prefixed{Store: base, Prefix: "mirror/"}

	require.NoError(t, store.Put(ctx, "detections_20240501_120000.json", []byte("[]")))

	raw, err := base.Get(ctx, "mirror/detections_20240501_120000.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), raw)

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"detections_20240501_120000.json"}, keys)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{in: "s3://bucket", want: Location{Bucket: "bucket"}},
		{in: "s3://bucket/", want: Location{Bucket: "bucket"}},
		{in: "s3://bucket/a/b", want: Location{Bucket: "bucket", Prefix: "a/b/"}},
		{in: "s3:///a", wantErr: true},
		{in: "https://bucket/a", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
