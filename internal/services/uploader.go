package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/fiscallens/internal/dispatch"
	"github.com/Lllllllleong/fiscallens/internal/gcp"
	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/store"
)

// Upload validation errors. Handlers map them to 4xx responses.
var (
	ErrNoFile     = errors.New("no file provided")
	ErrNotPDF     = errors.New("only PDF files allowed")
	ErrTooLarge   = errors.New("file is too large")
	ErrInvalidPDF = errors.New("file is not a readable PDF")
)

// UploadRequest is one file received from an authenticated user.
type UploadRequest struct {
	UserID      string
	FileName    string
	ContentType string
	Data        []byte
}

// UploaderConfig holds all configuration for the uploader service.
type UploaderConfig struct {
	ProjectID        string
	DatabaseID       string
	CollectionName   string
	UploadBucket     string
	MaxUploadBytes   int64
	DispatchMode     string
	WorkflowID       string
	WorkflowLocation string
	EventURL         string
}

// UploaderFunction stores an uploaded certificate, records it and starts extraction.
type UploaderFunction struct {
	docs       DocumentStore
	objects    ObjectStore
	dispatcher Dispatcher
	config     UploaderConfig
	now        func() time.Time
	inspect    func([]byte) (int, error)
}

func loadUploaderConfig() (*UploaderConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	uploadBucket := gcp.GetEnv("UPLOAD_BUCKET", "")
	if uploadBucket == "" {
		return nil, fmt.Errorf("UPLOAD_BUCKET environment variable must be set")
	}
	return &UploaderConfig{
		ProjectID:        projectID,
		DatabaseID:       gcp.GetEnv("FIRESTORE_DATABASE", ""),
		CollectionName:   gcp.GetEnv("FIRESTORE_COLLECTION", "vatDocuments"),
		UploadBucket:     uploadBucket,
		MaxUploadBytes:   gcp.GetEnvInt64("MAX_UPLOAD_BYTES", 10<<20),
		DispatchMode:     gcp.GetEnv("DISPATCH_MODE", dispatch.ModeWorkflow),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "vat-extraction"),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		EventURL:         gcp.GetEnv("EXTRACTOR_EVENT_URL", ""),
	}, nil
}

// NewUploader creates an UploaderFunction backed by GCS, Firestore and the configured dispatcher.
func NewUploader(ctx context.Context) (*UploaderFunction, error) {
	config, err := loadUploaderConfig()
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
	dispatcher, err := dispatch.New(ctx, dispatch.Config{
		Mode:             config.DispatchMode,
		ProjectID:        config.ProjectID,
		WorkflowLocation: config.WorkflowLocation,
		WorkflowID:       config.WorkflowID,
		EventURL:         config.EventURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	slog.Info("Uploader logic initialized.", "dispatchMode", config.DispatchMode, "bucket", config.UploadBucket)
	return NewUploaderWith(*config, store.NewFirestoreDocuments(firestoreClient, config.CollectionName), bucket, dispatcher), nil
}

// NewUploaderWith wires an UploaderFunction from explicit dependencies.
func NewUploaderWith(config UploaderConfig, docs DocumentStore, objects ObjectStore, dispatcher Dispatcher) *UploaderFunction {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 10 << 20
	}
	return &UploaderFunction{
		docs:       docs,
		objects:    objects,
		dispatcher: dispatcher,
		config:     config,
		now:        time.Now,
		inspect:    inspectPDF,
	}
}

// MaxUploadBytes is the largest accepted file.
func (f *UploaderFunction) MaxUploadBytes() int64 {
	return f.config.MaxUploadBytes
}

// Process validates, stores and records one upload, then emits exactly one
// extraction event for it.
func (f *UploaderFunction) Process(ctx context.Context, req UploadRequest) (*models.UploadData, error) {
	logCtx := slog.With("userId", req.UserID, "fileName", req.FileName)

	if err := f.validate(req); err != nil {
		logCtx.Warn("Rejected upload.", "error", err)
		return nil, err
	}

	pageCount, err := f.inspect(req.Data)
	if err != nil {
		logCtx.Warn("Rejected upload.", "error", err)
		return nil, err
	}

	fileHash := calculateHash(req.Data)
	objectName := path.Join("uploads", req.UserID, uuid.NewString()+".pdf")
	logCtx = logCtx.With("fileHash", fileHash, "gcsObject", objectName)

	if err := f.objects.Put(ctx, objectName, "application/pdf", req.Data); err != nil {
		logCtx.Error("Failed to store uploaded file", "error", err)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc := &models.Document{
		UserID:     req.UserID,
		FileID:     objectName,
		FileName:   req.FileName,
		Size:       int64(len(req.Data)),
		MimeType:   uploadMimeType(req.ContentType),
		Status:     models.StatusPending,
		UploadedAt: f.now().UTC(),
		FileHash:   fileHash,
		PageCount:  pageCount,
	}
	docID, err := f.docs.Create(ctx, doc)
	if err != nil {
		logCtx.Error("Failed to create Firestore document", "error", err)
		if delErr := f.objects.Delete(ctx, objectName); delErr != nil {
			logCtx.Warn("Failed to remove orphaned file.", "error", delErr)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	logCtx = logCtx.With("documentId", docID)
	logCtx.Info("Created document in Firestore.", "pageCount", pageCount)

	ev := models.ExtractionEvent{URL: f.objects.URI(objectName), DocumentID: docID}
	if err := f.dispatcher.Dispatch(ctx, ev); err != nil {
		return nil, f.handleError(ctx, logCtx, docID, "failed to dispatch extraction", err)
	}

	logCtx.Info("Hand-off to extraction complete.")
	return &models.UploadData{DocumentID: docID, FileName: req.FileName}, nil
}

func (f *UploaderFunction) validate(req UploadRequest) error {
	if len(req.Data) == 0 {
		return ErrNoFile
	}
	if !isPDF(req.ContentType, req.FileName) {
		return ErrNotPDF
	}
	if int64(len(req.Data)) > f.config.MaxUploadBytes {
		return ErrTooLarge
	}
	return nil
}

func (f *UploaderFunction) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.docs.MarkFailed(ctx, docID, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to failed after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// uploadMimeType records the type the client declared, or application/pdf when
// it sent none.
func uploadMimeType(contentType string) string {
	if ct := strings.TrimSpace(contentType); ct != "" {
		return ct
	}
	return "application/pdf"
}

// isPDF accepts a PDF content type or a .pdf file name.
func isPDF(contentType, fileName string) bool {
	return strings.Contains(strings.ToLower(contentType), "pdf") ||
		strings.HasSuffix(strings.ToLower(fileName), ".pdf")
}

// inspectPDF validates the structure in relaxed mode and counts pages.
func inspectPDF(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	if pageCount < 1 {
		return 0, fmt.Errorf("%w: document has no pages", ErrInvalidPDF)
	}
	return pageCount, nil
}

func calculateHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
