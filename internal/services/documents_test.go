package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/fiscallens/internal/models"
)

func newDocumentsRig(docs ...*models.Document) (*DocumentsFunction, *fakeStore, *fakeObjects) {
	st := newFakeStore(docs...)
	objects := newFakeObjects()
	return NewDocumentsWith(DocumentsConfig{SignedURLTTL: 5 * time.Minute}, st, objects), st, objects
}

func processedDoc() *models.Document {
	return &models.Document{
		ID:              "doc-1",
		UserID:          "user-1",
		FileID:          "uploads/user-1/a.pdf",
		FileName:        "a.pdf",
		FileDisplayName: "VAT Certificate - Acme",
		Size:            1536,
		Status:          models.StatusProcessed,
		TaxPayerName:    "Acme Ltd",
		TradeName:       "Acme",
		TINNumber:       "2001234567",
		VATNumber:       "220987654",
	}
}

func TestDocumentsGet(t *testing.T) {
	fn, _, _ := newDocumentsRig(processedDoc())

	view, err := fn.Get(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if view.Badge != BadgeProcessed || view.SizeLabel != "1.5 KB" || !view.HasExtractedData {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestDocumentsGetHidesMissingAndForeign(t *testing.T) {
	fn, _, _ := newDocumentsRig(processedDoc())

	if _, err := fn.Get(context.Background(), "user-1", "gone"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found for a deleted record, got %v", err)
	}
	if _, err := fn.Get(context.Background(), "user-2", "doc-1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found for another user's record, got %v", err)
	}
}

func TestDocumentsDownload(t *testing.T) {
	fn, _, _ := newDocumentsRig(processedDoc())

	res, err := fn.Download(context.Background(), "user-1", "doc-1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if !strings.Contains(res.DownloadURL, "uploads/user-1/a.pdf") || !strings.Contains(res.DownloadURL, "ttl=5m0s") {
		t.Fatalf("unexpected url %s", res.DownloadURL)
	}
	if res.FileName != "a.pdf" {
		t.Fatalf("unexpected file name %s", res.FileName)
	}
}

func TestDocumentsDeleteRemovesRecordAndObject(t *testing.T) {
	fn, st, objects := newDocumentsRig(processedDoc())

	if err := fn.Delete(context.Background(), "user-1", "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if st.doc("doc-1") != nil {
		t.Fatalf("record still present")
	}
	if len(objects.deleted) != 1 || objects.deleted[0] != "uploads/user-1/a.pdf" {
		t.Fatalf("expected object delete, got %v", objects.deleted)
	}
}

func TestDocumentsDeleteReportsObjectFailure(t *testing.T) {
	fn, _, objects := newDocumentsRig(processedDoc())
	objects.deleteErr = errors.New("storage unavailable")

	if err := fn.Delete(context.Background(), "user-1", "doc-1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDocumentsList(t *testing.T) {
	other := processedDoc()
	other.ID = "doc-2"
	other.UserID = "user-2"
	pending := &models.Document{ID: "doc-3", UserID: "user-1", Status: models.StatusPending}
	fn, _, _ := newDocumentsRig(processedDoc(), other, pending)

	views, err := fn.List(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 documents for user-1, got %d", len(views))
	}
	for _, v := range views {
		if v.UserID != "user-1" {
			t.Fatalf("leaked document %s", v.ID)
		}
		if v.Status == models.StatusPending && (v.Badge != BadgePending || v.HasExtractedData) {
			t.Fatalf("unexpected pending view %+v", v)
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		0:                 "0 B",
		512:               "512 B",
		1024:              "1.0 KB",
		1536:              "1.5 KB",
		10 << 20:          "10.0 MB",
		3 * (1 << 30) / 2: "1.5 GB",
	}
	for size, want := range cases {
		if got := formatFileSize(size); got != want {
			t.Fatalf("formatFileSize(%d) = %q, want %q", size, got, want)
		}
	}
}
