package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/fiscallens/internal/gcp"
	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/store"
)

// ErrDocumentNotFound covers both missing records and records owned by
// someone else, so callers cannot probe for foreign IDs.
var ErrDocumentNotFound = errors.New("not found")

// Badge colours shown next to a document's status.
const (
	BadgePending   = "yellow"
	BadgeProcessed = "green"
	BadgeFailed    = "red"
)

// DocumentsConfig holds all configuration for the presentation service.
type DocumentsConfig struct {
	ProjectID      string
	DatabaseID     string
	CollectionName string
	UploadBucket   string
	SignedURLTTL   time.Duration
	ListLimit      int
}

// DocumentsFunction serves the read, download and delete actions on a user's documents.
type DocumentsFunction struct {
	docs    DocumentStore
	objects ObjectStore
	config  DocumentsConfig
}

func loadDocumentsConfig() (*DocumentsConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	uploadBucket := gcp.GetEnv("UPLOAD_BUCKET", "")
	if uploadBucket == "" {
		return nil, fmt.Errorf("UPLOAD_BUCKET environment variable must be set")
	}
	return &DocumentsConfig{
		ProjectID:      projectID,
		DatabaseID:     gcp.GetEnv("FIRESTORE_DATABASE", ""),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "vatDocuments"),
		UploadBucket:   uploadBucket,
		SignedURLTTL:   gcp.GetEnvDuration("SIGNED_URL_TTL", 15*time.Minute),
		ListLimit:      gcp.GetEnvInt("DOCUMENT_LIST_LIMIT", 100),
	}, nil
}

// NewDocuments creates a DocumentsFunction backed by Firestore and GCS.
func NewDocuments(ctx context.Context) (*DocumentsFunction, error) {
	config, err := loadDocumentsConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.DatabaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	bucket, err := gcp.NewBucketStore(ctx, config.UploadBucket)
	if err != nil {
		return nil, err
	}
	slog.Info("Documents logic initialized.", "collection", config.CollectionName)
	return NewDocumentsWith(*config, store.NewFirestoreDocuments(firestoreClient, config.CollectionName), bucket), nil
}

// NewDocumentsWith wires a DocumentsFunction from explicit dependencies.
func NewDocumentsWith(config DocumentsConfig, docs DocumentStore, objects ObjectStore) *DocumentsFunction {
	if config.SignedURLTTL <= 0 {
		config.SignedURLTTL = 15 * time.Minute
	}
	return &DocumentsFunction{docs: docs, objects: objects, config: config}
}

// Get returns the view of one of the user's documents.
func (f *DocumentsFunction) Get(ctx context.Context, userID, docID string) (*models.DocumentView, error) {
	doc, err := f.owned(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	return NewDocumentView(doc), nil
}

// List returns the user's documents, newest first.
func (f *DocumentsFunction) List(ctx context.Context, userID string) ([]*models.DocumentView, error) {
	docs, err := f.docs.ListByUser(ctx, userID, f.config.ListLimit)
	if err != nil {
		return nil, err
	}
	views := make([]*models.DocumentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, NewDocumentView(doc))
	}
	return views, nil
}

// Download returns a short-lived signed URL for the stored PDF.
func (f *DocumentsFunction) Download(ctx context.Context, userID, docID string) (*models.DownloadResponse, error) {
	doc, err := f.owned(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	url, err := f.objects.SignedURL(doc.FileID, f.config.SignedURLTTL)
	if err != nil {
		return nil, err
	}
	return &models.DownloadResponse{DownloadURL: url, FileName: doc.FileName}, nil
}

// Delete removes the record and the stored PDF concurrently.
func (f *DocumentsFunction) Delete(ctx context.Context, userID, docID string) error {
	doc, err := f.owned(ctx, userID, docID)
	if err != nil {
		return err
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return f.docs.Delete(gctx, doc.ID)
	})
	eg.Go(func() error {
		return f.objects.Delete(gctx, doc.FileID)
	})
	if err := eg.Wait(); err != nil {
		slog.Error("Failed to delete document.", "documentId", docID, "error", err)
		return err
	}
	slog.Info("Deleted document.", "documentId", docID, "userId", userID)
	return nil
}

func (f *DocumentsFunction) owned(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := f.docs.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, ErrDocumentNotFound
	}
	if doc.ID == "" {
		doc.ID = docID
	}
	return doc, nil
}

// NewDocumentView decorates a record for display.
func NewDocumentView(doc *models.Document) *models.DocumentView {
	return &models.DocumentView{
		Document:         doc,
		Badge:            statusBadge(doc.Status),
		SizeLabel:        formatFileSize(doc.Size),
		HasExtractedData: doc.HasExtractedData(),
	}
}

func statusBadge(status string) string {
	switch status {
	case models.StatusProcessed:
		return BadgeProcessed
	case models.StatusFailed:
		return BadgeFailed
	default:
		return BadgePending
	}
}

// formatFileSize renders a byte count with a binary unit, e.g. "1.5 MB".
func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	units := []string{"KB", "MB", "GB", "TB"}
	value := float64(size)
	i := -1
	for value >= unit && i < len(units)-1 {
		value /= unit
		i++
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}
