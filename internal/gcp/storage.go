package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// BucketStore reads and writes the uploaded PDFs of a single GCS bucket.
type BucketStore struct {
	client *storage.Client
	bucket string

	maxRetries   int
	writeTimeout time.Duration
}

// NewBucketStore creates a storage client bound to bucket.
func NewBucketStore(ctx context.Context, bucket string) (*BucketStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name must be provided")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &BucketStore{
		client:       client,
		bucket:       bucket,
		maxRetries:   4,
		writeTimeout: 50 * time.Second,
	}, nil
}

// URI returns the gs:// reference the model uses to fetch the object.
func (b *BucketStore) URI(objectName string) string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, objectName)
}

// ObjectName reverses URI for objects of this bucket.
func (b *BucketStore) ObjectName(uri string) (string, bool) {
	prefix := fmt.Sprintf("gs://%s/", b.bucket)
	if !strings.HasPrefix(uri, prefix) || len(uri) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(uri, prefix), true
}

// Put writes data to objectName only if it doesn't already exist, retrying
// transient failures with exponential backoff. A 412 on a retry means an
// earlier attempt landed, which counts as success.
func (b *BucketStore) Put(ctx context.Context, objectName, contentType string, data []byte) error {
	backoff := 1 * time.Second
	var lastErr error

	for i := 0; i < b.maxRetries; i++ {
		err := b.writeOnce(ctx, objectName, contentType, data)
		if err == nil {
			return nil
		}
		if isPreconditionFailed(err) {
			slog.Info("Object already exists, treating as written.", "gcsObject", objectName, "attempt", i+1)
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", b.maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}

func (b *BucketStore) writeOnce(ctx context.Context, objectName, contentType string, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()

	w := b.client.Bucket(b.bucket).Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(writeCtx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

// SignedURL returns a V4 GET URL for objectName valid for ttl.
func (b *BucketStore) SignedURL(objectName string, ttl time.Duration) (string, error) {
	url, err := b.client.Bucket(b.bucket).SignedURL(objectName, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for gs://%s/%s: %w", b.bucket, objectName, err)
	}
	return url, nil
}

// Delete removes objectName. A missing object is not an error.
func (b *BucketStore) Delete(ctx context.Context, objectName string) error {
	err := b.client.Bucket(b.bucket).Object(objectName).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete gs://%s/%s: %w", b.bucket, objectName, err)
	}
	return nil
}

func (b *BucketStore) Close() error {
	return b.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
