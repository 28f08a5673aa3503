package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "file_hashes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRecord_InsertOrIgnore(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	fp := checksum.Fingerprint(strings.Repeat("a", 64))

	inserted, err := c.Record(ctx, "/data/first.txt", fp)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = c.Record(ctx, "/data/second.txt", fp)
	require.NoError(t, err)
	assert.False(t, inserted)

	entry, err := c.Lookup(ctx, fp)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "/data/first.txt", entry.OriginalPath)
	assert.Equal(t, string(fp), entry.SHA256)
	assert.NotZero(t, entry.ID)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLookup_Unknown(t *testing.T) {
	c := openTemp(t)

	entry, err := c.Lookup(context.Background(), checksum.Fingerprint(strings.Repeat("f", 64)))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRecord_Concurrent(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()
	fps := []checksum.Fingerprint{
		checksum.Fingerprint(strings.Repeat("1", 64)),
		checksum.Fingerprint(strings.Repeat("2", 64)),
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Record(ctx, "/p", fps[i%2])
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file_hashes.db")
	fp := checksum.Fingerprint(strings.Repeat("c", 64))

	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.Record(context.Background(), "/x", fp)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	entry, err := c.Lookup(context.Background(), fp)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "/x", entry.OriginalPath)
}
