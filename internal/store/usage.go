package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

// FirestoreUsage counts successful scans per user in a usage collection.
type FirestoreUsage struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreUsage(client *firestore.Client, collection string) *FirestoreUsage {
	return &FirestoreUsage{client: client, collection: collection}
}

// TrackScan increments the user's scan counter.
func (u *FirestoreUsage) TrackScan(ctx context.Context, userID, documentID string) error {
	if userID == "" {
		return fmt.Errorf("cannot track scan for document %s: empty user id", documentID)
	}
	_, err := u.client.Collection(u.collection).Doc(userID).Set(ctx, map[string]interface{}{
		"scans":          firestore.Increment(1),
		"lastScanAt":     time.Now(),
		"lastDocumentId": documentID,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to record scan for user %s: %w", userID, err)
	}
	return nil
}
