package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/pavelanni/penmark/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memStore is an in-memory Store that records every save.
type memStore struct {
	mu      sync.Mutex
	docs    map[string]model.Document
	saves   []model.Document
	loads   int
	loadErr error
	saveErr error
	// gate, when set, blocks each Save until a value is received.
	gate chan struct{}
	// saving is signalled when a Save starts.
	saving chan struct{}
	// loading is signalled when a Load starts; loadGate, when set, then
	// blocks it until closed.
	loading  chan struct{}
	loadGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]model.Document)}
}

func (s *memStore) Load(_ context.Context, key string) (*model.Document, error) {
	if s.loading != nil {
		s.loading <- struct{}{}
	}
	if s.loadGate != nil {
		<-s.loadGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	doc, ok := s.docs[key]
	if !ok {
		return nil, nil
	}
	doc = doc.Clone()
	return &doc, nil
}

func (s *memStore) Save(_ context.Context, key string, doc *model.Document) error {
	if s.saving != nil {
		s.saving <- struct{}{}
	}
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, doc.Clone())
	if s.saveErr != nil {
		return s.saveErr
	}
	s.docs[key] = doc.Clone()
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memStore) lastSaved() model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

func docWithText(text string) model.Document {
	d := model.NewDocument()
	d.ReferenceText = text
	return d
}

func TestPersisterWritesLatest(t *testing.T) {
	st := newMemStore()
	p := newPersister(st, "k", discardLogger)

	p.request(docWithText("one"))
	if err := p.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := st.lastSaved().ReferenceText; got != "one" {
		t.Errorf("saved %q, want %q", got, "one")
	}
	if err := p.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPersisterCoalesces(t *testing.T) {
	st := newMemStore()
	st.gate = make(chan struct{})
	st.saving = make(chan struct{}, 10)
	p := newPersister(st, "k", discardLogger)

	p.request(docWithText("first"))
	<-st.saving // first save is now in flight and blocked

	for _, text := range []string{"second", "third", "fourth"} {
		p.request(docWithText(text))
	}
	close(st.gate)

	if err := p.flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := st.saveCount(); n != 2 {
		t.Errorf("expected 2 saves (in-flight + coalesced), got %d", n)
	}
	if got := st.lastSaved().ReferenceText; got != "fourth" {
		t.Errorf("last save = %q, want the latest snapshot", got)
	}
	if err := p.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPersisterReportsSaveError(t *testing.T) {
	st := newMemStore()
	st.saveErr = errors.New("disk full")
	p := newPersister(st, "k", discardLogger)

	p.request(docWithText("x"))
	if err := p.flush(); err == nil || err.Error() != "disk full" {
		t.Errorf("flush error = %v, want disk full", err)
	}
	if p.lastError() == nil {
		t.Error("lastError should keep the failure")
	}

	st.mu.Lock()
	st.saveErr = nil
	st.mu.Unlock()
	p.request(docWithText("y"))
	if err := p.flush(); err != nil {
		t.Errorf("a later successful save should clear the error, got %v", err)
	}
	_ = p.close()
}

func TestPersisterDropsAfterClose(t *testing.T) {
	st := newMemStore()
	p := newPersister(st, "k", discardLogger)
	if err := p.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	p.request(docWithText("late"))
	if n := st.saveCount(); n != 0 {
		t.Errorf("expected no saves after close, got %d", n)
	}
	if err := p.close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestPersisterCloseWritesPending(t *testing.T) {
	st := newMemStore()
	st.gate = make(chan struct{})
	st.saving = make(chan struct{}, 10)
	p := newPersister(st, "k", discardLogger)

	p.request(docWithText("a"))
	<-st.saving
	p.request(docWithText("b"))

	done := make(chan error)
	go func() { done <- p.close() }()
	close(st.gate)
	if err := <-done; err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := st.lastSaved().ReferenceText; got != "b" {
		t.Errorf("pending snapshot not written on close, last = %q", got)
	}
}
