package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/fiscallens/internal/models"
	"github.com/Lllllllleong/fiscallens/internal/store"
	"github.com/Lllllllleong/fiscallens/internal/vat"
)

type fakeModel struct {
	verdict     vat.Verdict
	classifyErr error
	responses   []string
	extractErr  error

	classifyCalls int
	extractCalls  int
}

func (m *fakeModel) Classify(_ context.Context, _ string) (vat.Verdict, error) {
	m.classifyCalls++
	return m.verdict, m.classifyErr
}

// Extract replays responses in order and repeats the last one.
func (m *fakeModel) Extract(_ context.Context, _ string) (string, error) {
	m.extractCalls++
	if m.extractErr != nil {
		return "", m.extractErr
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	i := m.extractCalls - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

type fakeStore struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	next int

	getErr    error
	createErr error
	saveErrs  []error
	deleteErr error
	markErr   error

	saveCalls   int
	deleteCalls int
	markCalls   int
	lastUpdate  models.ExtractionUpdate
	lastDetails string
}

func newFakeStore(docs ...*models.Document) *fakeStore {
	s := &fakeStore{docs: map[string]*models.Document{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, doc *models.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.next++
	id := fmt.Sprintf("doc-%d", s.next)
	cp := *doc
	cp.ID = id
	s.docs[id] = &cp
	return id, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID string, _ int) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SaveExtraction pops one queued error per call before succeeding.
func (s *fakeStore) SaveExtraction(_ context.Context, id string, upd models.ExtractionUpdate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.lastUpdate = upd
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		if len(s.saveErrs) > 1 {
			s.saveErrs = s.saveErrs[1:]
		}
		if err != nil {
			return "", err
		}
	}
	doc, ok := s.docs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	doc.FileDisplayName = upd.FileDisplayName
	doc.TaxPayerName = upd.TaxPayerName
	doc.TradeName = upd.TradeName
	doc.TINNumber = upd.TINNumber
	doc.VATNumber = upd.VATNumber
	doc.Status = models.StatusProcessed
	doc.ErrorDetails = ""
	return doc.UserID, nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	s.lastDetails = details
	if s.markErr != nil {
		return s.markErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = models.StatusFailed
	doc.ErrorDetails = details
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.docs, id)
	return nil
}

func (s *fakeStore) doc(id string) *models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

type fakeObjects struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	deleted []string

	putErr    error
	deleteErr error
	signErr   error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{bucket: "test-bucket", objects: map[string][]byte{}}
}

func (o *fakeObjects) Put(_ context.Context, name, _ string, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.putErr != nil {
		return o.putErr
	}
	o.objects[name] = data
	return nil
}

func (o *fakeObjects) URI(name string) string {
	return "gs://" + o.bucket + "/" + name
}

func (o *fakeObjects) ObjectName(uri string) (string, bool) {
	prefix := "gs://" + o.bucket + "/"
	if !strings.HasPrefix(uri, prefix) {
		return "", false
	}
	return strings.TrimPrefix(uri, prefix), true
}

func (o *fakeObjects) SignedURL(name string, ttl time.Duration) (string, error) {
	if o.signErr != nil {
		return "", o.signErr
	}
	return fmt.Sprintf("https://storage.example/%s/%s?ttl=%s", o.bucket, name, ttl), nil
}

func (o *fakeObjects) Delete(_ context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleteErr != nil {
		return o.deleteErr
	}
	o.deleted = append(o.deleted, name)
	delete(o.objects, name)
	return nil
}

type fakeMeter struct {
	err   error
	calls []string
}

func (m *fakeMeter) TrackScan(_ context.Context, userID, documentID string) error {
	m.calls = append(m.calls, userID+"/"+documentID)
	return m.err
}

type fakeDispatcher struct {
	err    error
	events []models.ExtractionEvent
}

func (d *fakeDispatcher) Dispatch(_ context.Context, ev models.ExtractionEvent) error {
	d.events = append(d.events, ev)
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
