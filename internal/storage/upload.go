package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"

	// Bucket drivers selected by URL scheme.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// Uploader mirrors artifacts into an object-store bucket addressed by a
// gocloud URL (file://, mem://, or a cloud scheme compiled in by the
// deployment).
type Uploader struct {
	bucketURL string
}

// NewUploader creates an uploader targeting bucketURL.
func NewUploader(bucketURL string) *Uploader {
	return &Uploader{bucketURL: bucketURL}
}

// Upload writes data under key. The bucket handle is opened per call;
// upload volume is a handful of objects per batch, so connection reuse
// is not worth caching handles across goroutines.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte) error {
	bucket, err := blob.OpenBucket(ctx, u.bucketURL)
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", u.bucketURL, err)
	}
	defer bucket.Close()

	if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
