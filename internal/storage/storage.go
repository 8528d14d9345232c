package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"golang.org/x/xerrors"
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
}

const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// New returns the backend named by backend. directory is only used by the
// file backend and bucket only by the S3 backend.
func New(ctx context.Context, backend string, directory string, bucket string) (Storage, error) {
	switch backend {
	case BackendFile:
		return NewFileStorage(ctx, FileConfig{
			Directory: directory,
		})
	case BackendS3:
		if bucket == "" {
			return nil, xerrors.New("S3 bucket not specified")
		}
		return NewS3Storage(ctx, S3Config{
			Bucket:      bucket,
			EndpointURL: os.Getenv("S3_ENDPOINT_URL"),
		})
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", backend)
	}
}

// DiffKey names the diff image of a baseline/target pair. Repeated runs for
// the same pair share a directory and are ordered by a nanosecond timestamp.
func DiffKey(baseline string, target string, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(baseline))
	h.Write([]byte{0})
	h.Write([]byte(target))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	return fmt.Sprintf("FrameDiff/diff/%s/%s%09d.png", hash, now.Format("20060102150405"), now.Nanosecond())
}
