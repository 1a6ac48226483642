// Package store persists VAT certificate records and usage counters in Firestore.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/fiscallens/internal/models"
)

// ErrNotFound is returned when a document record does not exist.
var ErrNotFound = errors.New("document not found")

// FirestoreDocuments implements the document mutations on one collection.
type FirestoreDocuments struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

func NewFirestoreDocuments(client *firestore.Client, collection string) *FirestoreDocuments {
	return &FirestoreDocuments{
		client:     client,
		collection: collection,
		now:        time.Now,
	}
}

func (s *FirestoreDocuments) ref(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

// Create adds a new record and returns its generated ID.
func (s *FirestoreDocuments) Create(ctx context.Context, doc *models.Document) (string, error) {
	docRef, _, err := s.client.Collection(s.collection).Add(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	doc.ID = docRef.ID
	return docRef.ID, nil
}

// Get loads a record by ID.
func (s *FirestoreDocuments) Get(ctx context.Context, id string) (*models.Document, error) {
	snap, err := s.ref(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return decode(snap)
}

// ListByUser returns the user's records, newest first.
func (s *FirestoreDocuments) ListByUser(ctx context.Context, userID string, limit int) ([]*models.Document, error) {
	q := s.client.Collection(s.collection).
		Where("userId", "==", userID).
		OrderBy("uploadedAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	it := q.Documents(ctx)
	defer it.Stop()

	var docs []*models.Document
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents for user %s: %w", userID, err)
		}
		doc, err := decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// SaveExtraction writes the display name, all four extracted fields and the
// processed status in a single transaction and returns the owning user ID.
// The write is a full overwrite, so repeating it with the same input is a no-op.
func (s *FirestoreDocuments) SaveExtraction(ctx context.Context, id string, upd models.ExtractionUpdate) (string, error) {
	ref := s.ref(id)
	var userID string

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		owner, err := snap.DataAt("userId")
		if err != nil {
			return fmt.Errorf("document %s has no owner: %w", id, err)
		}
		userID, _ = owner.(string)

		return tx.Update(ref, []firestore.Update{
			{Path: "fileDisplayName", Value: upd.FileDisplayName},
			{Path: "taxPayerName", Value: upd.TaxPayerName},
			{Path: "tradeName", Value: upd.TradeName},
			{Path: "tinNumber", Value: upd.TINNumber},
			{Path: "vatNumber", Value: upd.VATNumber},
			{Path: "status", Value: models.StatusProcessed},
			{Path: "errorDetails", Value: firestore.Delete},
			{Path: "processedAt", Value: s.now()},
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to save extracted data for %s: %w", id, err)
	}
	return userID, nil
}

// MarkFailed moves a record to the failed state with a reason.
func (s *FirestoreDocuments) MarkFailed(ctx context.Context, id, details string) error {
	updates := []firestore.Update{
		{Path: "status", Value: models.StatusFailed},
	}
	if details != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: details})
	}
	if _, err := s.ref(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark %s as failed: %w", id, err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record succeeds.
func (s *FirestoreDocuments) Delete(ctx context.Context, id string) error {
	if _, err := s.ref(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func decode(snap *firestore.DocumentSnapshot) (*models.Document, error) {
	var doc models.Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
	}
	doc.ID = snap.Ref.ID
	return &doc, nil
}
