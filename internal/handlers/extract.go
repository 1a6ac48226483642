package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/services"
)

// Extractor runs one extraction event to a halt.
type Extractor interface {
	Run(ctx context.Context, ev models.ExtractionEvent) (models.ExtractionResult, error)
}

var (
	extractorInstance *services.ExtractorFunction
	extractorOnce     sync.Once
	extractorInitErr  error
)

func extractor() (Extractor, error) {
	// Use sync.Once for robust, one-time initialization of clients.
	extractorOnce.Do(func() {
		extractorInstance, extractorInitErr = services.NewExtractor(context.Background())
	})
	if extractorInitErr != nil {
		slog.Error("Critical error during function initialization", "error", extractorInitErr)
		return nil, extractorInitErr
	}
	return extractorInstance, nil
}

// ExtractVAT is the HandleExtractVAT entry point called by the workflow.
func ExtractVAT(w http.ResponseWriter, r *http.Request) {
	svc, err := extractor()
	if err != nil {
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	NewExtractHandler(svc).ServeHTTP(w, r)
}

// NewExtractHandler decodes an ExtractionEvent and responds with the run result.
func NewExtractHandler(svc Extractor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev models.ExtractionEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			slog.Warn("Could not decode request body", "error", err)
			http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
			return
		}
		if ev.URL == "" || ev.DocumentID == "" {
			http.Error(w, "Bad Request: url and docId are required", http.StatusBadRequest)
			return
		}

		res, err := svc.Run(r.Context(), ev)
		if err != nil {
			// The specific error is already logged inside Run.
			http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(res); err != nil {
			slog.Error(
				"Failed to write response",
				"error", err,
				"documentId", ev.DocumentID,
				"executionId", ev.ExecutionID,
			)
		}
	})
}

// ExtractAndSaveVAT is the CloudEvent entry point.
func ExtractAndSaveVAT(ctx context.Context, e cloudevents.Event) error {
	svc, err := extractor()
	if err != nil {
		return err
	}
	return HandleExtractEvent(ctx, svc, e)
}

// HandleExtractEvent runs the extractor for one CloudEvent. Only transport and
// infrastructure errors are returned, so the runtime retries those alone.
// Malformed events are logged and acknowledged.
func HandleExtractEvent(ctx context.Context, svc Extractor, e cloudevents.Event) error {
	var ev models.ExtractionEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		slog.Error("Dropping event with undecodable data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return nil
	}
	if ev.URL == "" || ev.DocumentID == "" {
		slog.Error("Dropping event without url or docId", "eventId", e.ID(), "documentId", ev.DocumentID, "url", ev.URL)
		return nil
	}
	if ev.ExecutionID == "" {
		ev.ExecutionID = e.ID()
	}

	res, err := svc.Run(ctx, ev)
	if errors.Is(err, services.ErrInvalidEvent) {
		slog.Error("Dropping invalid extraction event", "error", err, "eventId", e.ID())
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("Extraction event handled.", "documentId", res.DocumentID, "outcome", res.Outcome, "attempts", res.Attempts)
	return nil
}
