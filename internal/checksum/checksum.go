package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
)

// BlockSize is the read granularity used while hashing.
const BlockSize = 4096

// ErrVanished is returned when a file disappeared between enumeration and hashing.
// It matches fs.ErrNotExist through errors.Is.
var ErrVanished = fmt.Errorf("file vanished: %w", fs.ErrNotExist)

// Fingerprint is the lowercase hex SHA-256 digest of a file's full content.
type Fingerprint string

// Valid reports whether f has the shape of a SHA-256 hex digest.
func (f Fingerprint) Valid() bool {
	if len(f) != sha256.Size*2 {
		return false
	}
	for _, c := range f {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (f Fingerprint) String() string {
	return string(f)
}

// CalculateFileSHA256 calculates the SHA-256 fingerprint of a file
func CalculateFileSHA256(filePath string) (Fingerprint, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrVanished, filePath)
		}
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	return CalculateSHA256(file)
}

// CalculateSHA256 calculates the SHA-256 fingerprint of everything read from r
func CalculateSHA256(r io.Reader) (Fingerprint, error) {
	hash := sha256.New()
	buffer := make([]byte, BlockSize)

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			if _, err := hash.Write(buffer[:n]); err != nil {
				return "", fmt.Errorf("write to hash: %w", err)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read: %w", err)
		}
	}

	return Fingerprint(hex.EncodeToString(hash.Sum(nil))), nil
}

// TeeReaderWithChecksum creates a reader that calculates the fingerprint while reading
type TeeReaderWithChecksum struct {
	reader   io.Reader
	hash     hash.Hash
	checksum Fingerprint
	done     bool
}

// NewTeeReaderWithChecksum creates a new TeeReaderWithChecksum
func NewTeeReaderWithChecksum(r io.Reader) *TeeReaderWithChecksum {
	return &TeeReaderWithChecksum{
		reader: r,
		hash:   sha256.New(),
	}
}

// Read implements io.Reader
func (t *TeeReaderWithChecksum) Read(p []byte) (n int, err error) {
	n, err = t.reader.Read(p)
	if n > 0 {
		if _, werr := t.hash.Write(p[:n]); werr != nil {
			return n, werr
		}
	}
	if err == io.EOF {
		t.done = true
		t.checksum = Fingerprint(hex.EncodeToString(t.hash.Sum(nil)))
	}
	return n, err
}

// Checksum returns the calculated fingerprint (only valid after EOF)
func (t *TeeReaderWithChecksum) Checksum() (Fingerprint, error) {
	if !t.done {
		return "", fmt.Errorf("checksum not yet calculated (read not complete)")
	}
	return t.checksum, nil
}
