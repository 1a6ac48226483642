package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/services"
)

// Uploader is the upload business logic.
type Uploader interface {
	Process(ctx context.Context, req services.UploadRequest) (*models.UploadData, error)
	MaxUploadBytes() int64
}

var (
	uploaderInstance *services.UploaderFunction
	uploaderOnce     sync.Once
	uploaderInitErr  error
)

// UploadDocument is the HandleUploadDocument entry point.
func UploadDocument(w http.ResponseWriter, r *http.Request) {
	// Use sync.Once for robust, one-time initialization of clients.
	uploaderOnce.Do(func() {
		uploaderInstance, uploaderInitErr = services.NewUploader(context.Background())
	})
	if uploaderInitErr != nil {
		slog.Error("Critical: Uploader initialization failed", "error", uploaderInitErr)
		respondError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}
	NewUploadHandler(uploaderInstance, userIDHeader()).ServeHTTP(w, r)
}

// NewUploadHandler accepts a multipart POST with the PDF in the "file" field.
func NewUploadHandler(svc Uploader, header string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		uid := userID(r, header)
		if uid == "" {
			respondJSON(w, http.StatusUnauthorized, models.UploadResponse{Error: "Not authenticated"})
			return
		}

		// Leave room for the multipart envelope around the file.
		maxBytes := svc.MaxUploadBytes()
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)

		file, fh, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				respondJSON(w, http.StatusRequestEntityTooLarge, models.UploadResponse{Error: "File is too large"})
				return
			}
			respondJSON(w, http.StatusBadRequest, models.UploadResponse{Error: "No file provided"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
		if err != nil {
			slog.Warn("Could not read uploaded file", "error", err)
			respondJSON(w, http.StatusBadRequest, models.UploadResponse{Error: "Could not read file"})
			return
		}

		out, err := svc.Process(r.Context(), services.UploadRequest{
			UserID:      uid,
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			status, msg := uploadErrorStatus(err)
			respondJSON(w, status, models.UploadResponse{Error: msg})
			return
		}
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: true, Data: out})
	})
}

func uploadErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrNoFile):
		return http.StatusBadRequest, "No file provided"
	case errors.Is(err, services.ErrNotPDF):
		return http.StatusBadRequest, "Only PDF files allowed"
	case errors.Is(err, services.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "File is too large"
	case errors.Is(err, services.ErrInvalidPDF):
		return http.StatusBadRequest, "File is not a readable PDF"
	default:
		return http.StatusInternalServerError, "Failed to upload file"
	}
}
