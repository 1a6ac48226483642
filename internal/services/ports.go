package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/vat"
)

// DocumentModel is the document-understanding model.
type DocumentModel interface {
	Classify(ctx context.Context, fileURI string) (vat.Verdict, error)
	Extract(ctx context.Context, fileURI string) (string, error)
}

// DocumentStore is the hosted document database.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) (string, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*models.Document, error)
	SaveExtraction(ctx context.Context, id string, upd models.ExtractionUpdate) (string, error)
	MarkFailed(ctx context.Context, id, details string) error
	Delete(ctx context.Context, id string) error
}

// ObjectStore holds the uploaded PDF bytes.
type ObjectStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) error
	URI(name string) string
	ObjectName(uri string) (string, bool)
	SignedURL(name string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, name string) error
}

// UsageMeter records one successful scan per persisted certificate.
type UsageMeter interface {
	TrackScan(ctx context.Context, userID, documentID string) error
}

// Dispatcher emits the extraction event for a new upload.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.ExtractionEvent) error
}
