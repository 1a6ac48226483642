package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/services"
)

// DocumentService is the presentation business logic.
type DocumentService interface {
	Get(ctx context.Context, userID, docID string) (*models.DocumentView, error)
	List(ctx context.Context, userID string) ([]*models.DocumentView, error)
	Download(ctx context.Context, userID, docID string) (*models.DownloadResponse, error)
	Delete(ctx context.Context, userID, docID string) error
}

var (
	documentsRouter  http.Handler
	documentsOnce    sync.Once
	documentsInitErr error
)

// Documents is the HandleDocuments entry point.
func Documents(w http.ResponseWriter, r *http.Request) {
	documentsOnce.Do(func() {
		var svc *services.DocumentsFunction
		svc, documentsInitErr = services.NewDocuments(context.Background())
		if documentsInitErr == nil {
			documentsRouter = NewDocumentsRouter(svc, userIDHeader())
		}
	})
	if documentsInitErr != nil {
		slog.Error("Critical: Documents initialization failed", "error", documentsInitErr)
		respondError(w, http.StatusInternalServerError, "failed to initialize service")
		return
	}
	documentsRouter.ServeHTTP(w, r)
}

// Router wraps the mux router and the document service
type Router struct {
	*mux.Router
	svc    DocumentService
	header string
}

// NewDocumentsRouter creates the router with all document routes
func NewDocumentsRouter(svc DocumentService, header string) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		svc:    svc,
		header: header,
	}

	// Health check endpoint
	r.HandleFunc("/healthz", r.healthCheck).Methods("GET")

	docs := r.PathPrefix("/documents").Subrouter()
	docs.Use(r.requireUser)
	docs.HandleFunc("", r.listDocuments).Methods("GET")
	docs.HandleFunc("/{id}", r.getDocument).Methods("GET")
	docs.HandleFunc("/{id}/download", r.downloadDocument).Methods("GET")
	docs.HandleFunc("/{id}", r.deleteDocument).Methods("DELETE")

	return r
}

type userKey struct{}

// requireUser rejects requests without the gateway's user header.
func (r *Router) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		uid := userID(req, r.header)
		if uid == "" {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), userKey{}, uid)))
	})
}

func currentUser(req *http.Request) string {
	uid, _ := req.Context().Value(userKey{}).(string)
	return uid
}

func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (r *Router) listDocuments(w http.ResponseWriter, req *http.Request) {
	views, err := r.svc.List(req.Context(), currentUser(req))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": views,
	})
}

func (r *Router) getDocument(w http.ResponseWriter, req *http.Request) {
	view, err := r.svc.Get(req.Context(), currentUser(req), mux.Vars(req)["id"])
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (r *Router) downloadDocument(w http.ResponseWriter, req *http.Request) {
	res, err := r.svc.Download(req.Context(), currentUser(req), mux.Vars(req)["id"])
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) deleteDocument(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Delete(req.Context(), currentUser(req), mux.Vars(req)["id"]); err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) fail(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, services.ErrDocumentNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("Document request failed", "path", req.URL.Path, "method", req.Method, "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}
