package dispatch

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// ScanEvent is the payload of a usage record.
type ScanEvent struct {
	UserID     string    `json:"userId"`
	DocumentID string    `json:"docId"`
	ScannedAt  time.Time `json:"scannedAt"`
}

// EventMeter reports successful scans to an external metering endpoint.
type EventMeter struct {
	client cloudevents.Client
	target string
}

func NewEventMeter(target string) (*EventMeter, error) {
	if target == "" {
		return nil, fmt.Errorf("event meter needs a target URL")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return &EventMeter{client: client, target: target}, nil
}

func (m *EventMeter) TrackScan(ctx context.Context, userID, documentID string) error {
	return send(ctx, m.client, m.target, ScanEventType, documentID, ScanEvent{
		UserID:     userID,
		DocumentID: documentID,
		ScannedAt:  time.Now().UTC(),
	})
}
