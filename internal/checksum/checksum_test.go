package checksum

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateSHA256(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  Fingerprint
	}{
		{
			name:  "empty",
			input: nil,
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:  "abc",
			input: []byte("abc"),
			want:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
		{
			name:  "hello newline",
			input: []byte("hello\n"),
			want:  "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateSHA256(bytes.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestCalculateSHA256_BlockBoundaries(t *testing.T) {
	// Streaming in blocks must agree with a single read for sizes around the block edge.
	for _, size := range []int{BlockSize - 1, BlockSize, BlockSize + 1, 3*BlockSize + 7} {
		data := bytes.Repeat([]byte{'x'}, size)

		whole, err := CalculateSHA256(bytes.NewReader(data))
		require.NoError(t, err)

		oneByte, err := CalculateSHA256(io.LimitReader(&slowReader{data: data}, int64(size)))
		require.NoError(t, err)

		assert.Equal(t, whole, oneByte, "size %d", size)
	}
}

func TestCalculateFileSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	got, err := CalculateFileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, Fingerprint("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"), got)
}

func TestCalculateFileSHA256_Vanished(t *testing.T) {
	_, err := CalculateFileSHA256(filepath.Join(t.TempDir(), "gone"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVanished))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestFingerprintValid(t *testing.T) {
	tests := []struct {
		fp   Fingerprint
		want bool
	}{
		{Fingerprint(strings.Repeat("a", 64)), true},
		{Fingerprint(strings.Repeat("A", 64)), false},
		{Fingerprint(strings.Repeat("a", 63)), false},
		{Fingerprint(strings.Repeat("g", 64)), false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.fp.Valid(), string(tt.fp))
	}
}

func TestTeeReaderWithChecksum(t *testing.T) {
	tee := NewTeeReaderWithChecksum(strings.NewReader("abc"))

	_, err := tee.Checksum()
	assert.Error(t, err)

	var out bytes.Buffer
	_, err = io.Copy(&out, tee)
	require.NoError(t, err)

	got, err := tee.Checksum()
	require.NoError(t, err)
	assert.Equal(t, "abc", out.String())
	assert.Equal(t, Fingerprint("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"), got)
}

type slowReader struct {
	data []byte
	pos  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}
