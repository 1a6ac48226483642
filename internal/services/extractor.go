package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/Lllllllleong/fiscallens/internal/dispatch"
	"github.com/Lllllllleong/fiscallens/internal/gcp"
	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/store"
	"github.com/Lllllllleong/fiscallens/internal/vat"
)

var (
	// ErrMaxAttempts is wrapped into the error of a run that never reached a decision.
	ErrMaxAttempts = errors.New("extraction attempts exhausted")

	// ErrInvalidEvent marks an event that can never succeed, however often it is redelivered.
	ErrInvalidEvent = errors.New("invalid extraction event")
)

const recordGoneReason = "document record no longer exists"

// Outcome is the terminal (or not yet terminal) result of one extraction run.
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeSaved    Outcome = "saved"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// RunState is threaded through one orchestrator run. It is never persisted.
type RunState struct {
	Outcome    Outcome
	DocumentID string
	Attempts   int
	Reason     string
	Err        error
	Fields     vat.Fields
	Saved      *models.PersistResult
}

func (s RunState) terminal() bool {
	return s.Outcome != OutcomePending
}

type step int

const (
	stepExtract step = iota
	stepHalt
)

// route decides what the orchestrator does next.
func route(s RunState, maxAttempts int) step {
	if s.terminal() || s.Attempts >= maxAttempts {
		return stepHalt
	}
	return stepExtract
}

// ExtractorConfig holds all configuration for the extractor service.
type ExtractorConfig struct {
	ProjectID           string
	VertexAIRegion      string
	VertexModel         string
	DatabaseID          string
	CollectionName      string
	UsageCollection     string
	UploadBucket        string
	MeteringEventURL    string
	MaxAttempts         int
	ClassifyFirst       bool
	VATPrefix           string
	DeleteRejectedFiles bool
}

// ExtractorFunction runs the classify, extract, persist-or-cleanup loop for one document.
type ExtractorFunction struct {
	model   DocumentModel
	docs    DocumentStore
	objects ObjectStore
	meter   UsageMeter
	config  ExtractorConfig
}

func loadExtractorConfig() (*ExtractorConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	cfg := &ExtractorConfig{
		ProjectID:           projectID,
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:         gcp.GetEnv("VERTEX_MODEL", "gemini-1.5-pro"),
		DatabaseID:          gcp.GetEnv("FIRESTORE_DATABASE", ""),
		CollectionName:      gcp.GetEnv("FIRESTORE_COLLECTION", "vatDocuments"),
		UsageCollection:     gcp.GetEnv("USAGE_COLLECTION", "usage"),
		UploadBucket:        gcp.GetEnv("UPLOAD_BUCKET", ""),
		MeteringEventURL:    gcp.GetEnv("METERING_EVENT_URL", ""),
		MaxAttempts:         gcp.GetEnvInt("EXTRACTION_MAX_ATTEMPTS", 3),
		ClassifyFirst:       gcp.GetEnvBool("CLASSIFY_BEFORE_EXTRACT", true),
		VATPrefix:           gcp.GetEnv("VAT_NUMBER_PREFIX", vat.DefaultVATPrefix),
		DeleteRejectedFiles: gcp.GetEnvBool("DELETE_REJECTED_FILES", true),
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("EXTRACTION_MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.DeleteRejectedFiles && cfg.UploadBucket == "" {
		return nil, fmt.Errorf("UPLOAD_BUCKET environment variable must be set when DELETE_REJECTED_FILES is on")
	}
	return cfg, nil
}

// NewExtractor creates an ExtractorFunction backed by Vertex AI, Firestore and GCS.
func NewExtractor(ctx context.Context) (*ExtractorFunction, error) {
	config, err := loadExtractorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	vertexClient, err := gcp.NewVertexClient(ctx, gcp.VertexConfig{
		ProjectID: config.ProjectID,
		Region:    config.VertexAIRegion,
		Model:     config.VertexModel,
		VATPrefix: config.VATPrefix,
		Combined:  !config.ClassifyFirst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.DatabaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	var objects ObjectStore
	if config.UploadBucket != "" {
		bucket, err := gcp.NewBucketStore(ctx, config.UploadBucket)
		if err != nil {
			return nil, err
		}
		objects = bucket
	}

	var meter UsageMeter = store.NewFirestoreUsage(firestoreClient, config.UsageCollection)
	if config.MeteringEventURL != "" {
		eventMeter, err := dispatch.NewEventMeter(config.MeteringEventURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create usage meter: %w", err)
		}
		meter = eventMeter
	}

	f := NewExtractorWith(*config, vertexClient, store.NewFirestoreDocuments(firestoreClient, config.CollectionName), objects, meter)
	slog.Info("Extractor logic initialized.",
		"model", config.VertexModel,
		"maxAttempts", config.MaxAttempts,
		"classifyFirst", config.ClassifyFirst,
	)
	return f, nil
}

// NewExtractorWith wires an ExtractorFunction from explicit dependencies.
// objects may be nil, in which case rejected files are left in place.
func NewExtractorWith(config ExtractorConfig, model DocumentModel, docs DocumentStore, objects ObjectStore, meter UsageMeter) *ExtractorFunction {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.VATPrefix == "" {
		config.VATPrefix = vat.DefaultVATPrefix
	}
	return &ExtractorFunction{
		model:   model,
		docs:    docs,
		objects: objects,
		meter:   meter,
		config:  config,
	}
}

// Run processes one extraction event. The returned error is reserved for
// transport and infrastructure failures the runtime should retry; business
// outcomes are reported in the result, which always echoes ev.DocumentID.
func (f *ExtractorFunction) Run(ctx context.Context, ev models.ExtractionEvent) (models.ExtractionResult, error) {
	logCtx := slog.With("documentId", ev.DocumentID, "executionId", ev.ExecutionID)
	state := RunState{Outcome: OutcomePending, DocumentID: ev.DocumentID}

	if ev.DocumentID == "" || ev.URL == "" {
		return resultOf(state), fmt.Errorf("%w: needs both url and docId", ErrInvalidEvent)
	}

	if done, err := f.alreadySettled(ctx, logCtx, &state); err != nil || done {
		return resultOf(state), err
	}

	logCtx.Info("Starting extraction run.", "url", ev.URL)
	for route(state, f.config.MaxAttempts) == stepExtract {
		state.Attempts++
		if err := f.runAttempt(ctx, logCtx.With("attempt", state.Attempts), ev, &state); err != nil {
			logCtx.Error("Extraction step failed, leaving retry to the runtime.", "error", err)
			return resultOf(state), err
		}
	}

	if state.Outcome == OutcomePending {
		state.Outcome = OutcomeFailed
		state.Err = fmt.Errorf("%w after %d attempts: %v", ErrMaxAttempts, state.Attempts, state.Err)
		logCtx.Error("Extraction run ended without a decision.", "error", state.Err)
		if err := f.markFailed(ctx, ev.DocumentID, state.Err.Error()); err != nil {
			return resultOf(state), err
		}
	}

	logCtx.Info("Extraction run halted.", "outcome", state.Outcome, "attempts", state.Attempts)
	return resultOf(state), nil
}

// alreadySettled halts redelivered events for records that were already
// processed or removed.
func (f *ExtractorFunction) alreadySettled(ctx context.Context, logCtx *slog.Logger, state *RunState) (bool, error) {
	doc, err := f.docs.Get(ctx, state.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		state.Outcome = OutcomeRejected
		state.Reason = recordGoneReason
		logCtx.Warn("Document record is gone, nothing to extract.")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load document %s: %w", state.DocumentID, err)
	}
	if doc.Status == models.StatusProcessed && doc.HasExtractedData() {
		state.Outcome = OutcomeSaved
		state.Saved = &models.PersistResult{
			AddedToDB:       models.AddedToDBSuccess,
			DocumentID:      state.DocumentID,
			FileDisplayName: doc.FileDisplayName,
			TaxPayerName:    doc.TaxPayerName,
			TradeName:       doc.TradeName,
			TINNumber:       doc.TINNumber,
			VATNumber:       doc.VATNumber,
		}
		logCtx.Info("Document already processed, skipping.")
		return true, nil
	}
	return false, nil
}

// runAttempt performs one classify, extract, parse and persist-or-cleanup pass.
// A non-nil error must bubble out of Run.
func (f *ExtractorFunction) runAttempt(ctx context.Context, logCtx *slog.Logger, ev models.ExtractionEvent, state *RunState) error {
	if f.config.ClassifyFirst {
		verdict, err := f.model.Classify(ctx, ev.URL)
		switch {
		case errors.Is(err, vat.ErrNoJSONObject), errors.Is(err, vat.ErrUndecodable):
			logCtx.Warn("Classifier answer was unusable, will retry.", "error", err)
			state.Err = err
			return nil
		case err != nil:
			return err
		}
		if !verdict.IsVATCertificate {
			logCtx.Info("Classifier rejected document.", "documentKind", verdict.DocumentKind, "reason", verdict.Reason)
			return f.rejectDocument(ctx, logCtx, ev, state, rejectReason(verdict))
		}
	}

	text, err := f.model.Extract(ctx, ev.URL)
	if err != nil {
		return err
	}

	fields, err := vat.ParseFields(text)
	switch {
	case errors.Is(err, vat.ErrNoJSONObject):
		return f.rejectDocument(ctx, logCtx, ev, state, "model returned no structured data: "+truncate(text, 200))
	case err != nil:
		logCtx.Warn("Model response could not be decoded, will retry.", "error", err)
		state.Err = err
		return nil
	}

	if warnings := fields.FormatWarnings(f.config.VATPrefix); len(warnings) > 0 {
		logCtx.Warn("Extracted fields have unexpected formats.", "warnings", warnings)
	}

	res, gone := f.saveExtraction(ctx, logCtx, ev.DocumentID, fields)
	if gone {
		state.Outcome = OutcomeRejected
		state.Reason = recordGoneReason
		logCtx.Warn("Document record was deleted during extraction, halting.")
		return nil
	}
	if !res.Succeeded() {
		state.Err = errors.New(res.Error)
		return nil
	}
	state.Outcome = OutcomeSaved
	state.Fields = fields
	state.Saved = &res
	return nil
}

// saveExtraction applies the single persistence mutation. It never returns an
// error: failures are reported in the result. gone is set when the record no
// longer exists, which no retry can fix.
func (f *ExtractorFunction) saveExtraction(ctx context.Context, logCtx *slog.Logger, docID string, fields vat.Fields) (res models.PersistResult, gone bool) {
	upd := models.ExtractionUpdate{
		FileDisplayName: fields.DisplayName(),
		TaxPayerName:    fields.TaxPayerName,
		TradeName:       fields.TradeName,
		TINNumber:       fields.TINNumber,
		VATNumber:       fields.VATNumber,
	}

	userID, err := f.docs.SaveExtraction(ctx, docID, upd)
	if err != nil {
		logCtx.Error("Failed to save extracted data.", "error", err)
		return models.PersistResult{AddedToDB: models.AddedToDBFailed, Error: err.Error()}, errors.Is(err, store.ErrNotFound)
	}
	logCtx.Info("Saved extracted data.", "fileDisplayName", upd.FileDisplayName)

	if f.meter != nil {
		if err := f.meter.TrackScan(ctx, userID, docID); err != nil {
			logCtx.Warn("Failed to record usage, keeping the saved data.", "userId", userID, "error", err)
		}
	}

	return models.PersistResult{
		AddedToDB:       models.AddedToDBSuccess,
		DocumentID:      docID,
		FileDisplayName: upd.FileDisplayName,
		TaxPayerName:    upd.TaxPayerName,
		TradeName:       upd.TradeName,
		TINNumber:       upd.TINNumber,
		VATNumber:       upd.VATNumber,
	}, false
}

// rejectDocument marks the run as rejected and removes the record. The stored
// PDF is removed too when configured.
func (f *ExtractorFunction) rejectDocument(ctx context.Context, logCtx *slog.Logger, ev models.ExtractionEvent, state *RunState, reason string) error {
	state.Outcome = OutcomeRejected
	state.Reason = reason

	if err := f.docs.Delete(ctx, ev.DocumentID); err != nil {
		return fmt.Errorf("failed to delete rejected document: %w", err)
	}
	logCtx.Info("Deleted document that is not a VAT certificate.", "reason", reason)

	if !f.config.DeleteRejectedFiles || f.objects == nil {
		return nil
	}
	objectName, ok := f.objects.ObjectName(ev.URL)
	if !ok {
		logCtx.Warn("Rejected file is outside the upload bucket, leaving it.", "url", ev.URL)
		return nil
	}
	if err := f.objects.Delete(ctx, objectName); err != nil {
		logCtx.Warn("Failed to delete rejected file.", "gcsObject", objectName, "error", err)
	}
	return nil
}

func (f *ExtractorFunction) markFailed(ctx context.Context, docID, details string) error {
	err := f.docs.MarkFailed(ctx, docID, details)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("Document vanished before it could be marked failed.", "documentId", docID)
		return nil
	}
	if err != nil {
		slog.Error("CRITICAL: Failed to update Firestore status to failed.", "documentId", docID, "updateError", err)
		return fmt.Errorf("failed to mark document %s as failed: %w", docID, err)
	}
	return nil
}

func resultOf(s RunState) models.ExtractionResult {
	res := models.ExtractionResult{
		DocumentID: s.DocumentID,
		Outcome:    string(s.Outcome),
		Attempts:   s.Attempts,
		Reason:     s.Reason,
		Saved:      s.Saved,
	}
	if s.Err != nil && s.Outcome == OutcomeFailed {
		res.Error = s.Err.Error()
	}
	return res
}

func rejectReason(v vat.Verdict) string {
	switch {
	case v.Reason != "":
		return v.Reason
	case v.DocumentKind != "":
		return "document is a " + v.DocumentKind + ", not a VAT certificate"
	default:
		return "document is not a VAT certificate"
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
