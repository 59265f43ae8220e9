package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/answerline/answerline-relay/internal/ledger"
)

type recordingStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (r *recordingStore) Record(_ context.Context, entry ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingStore) Summary(context.Context) (ledger.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ledger.Summary{Requests: int64(len(r.entries))}, nil
}

func (r *recordingStore) ListRecent(context.Context, int) ([]ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.Entry(nil), r.entries...), nil
}

func (r *recordingStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestCloseFlushesQueuedEntries(t *testing.T) {
	underlying := &recordingStore{}
	// Long flush interval so only Close can trigger the write.
	s := New(underlying, Config{FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		if err := s.Record(context.Background(), ledger.Entry{RequestID: "r", Kind: ledger.KindChat}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := underlying.count(); got != 5 {
		t.Fatalf("flushed %d entries, want 5", got)
	}
	if !underlying.closed {
		t.Error("underlying store not closed")
	}
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	underlying := &recordingStore{}
	s := New(underlying, Config{BatchSize: 2, FlushInterval: time.Hour})
	defer s.Close()

	for i := 0; i < 2; i++ {
		_ = s.Record(context.Background(), ledger.Entry{RequestID: "r", Kind: ledger.KindChat})
	}

	deadline := time.Now().Add(2 * time.Second)
	for underlying.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("flushed %d entries before deadline", underlying.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecordStampsCreatedAt(t *testing.T) {
	underlying := &recordingStore{}
	s := New(underlying, Config{FlushInterval: time.Hour})

	_ = s.Record(context.Background(), ledger.Entry{RequestID: "r", Kind: ledger.KindChat})
	_ = s.Close()

	if underlying.count() != 1 || underlying.entries[0].CreatedAt.IsZero() {
		t.Fatalf("entries = %+v", underlying.entries)
	}
}

func TestReadsDelegate(t *testing.T) {
	underlying := &recordingStore{entries: []ledger.Entry{{RequestID: "r1"}}}
	s := New(underlying, Config{})
	defer s.Close()

	summary, err := s.Summary(context.Background())
	if err != nil || summary.Requests != 1 {
		t.Fatalf("summary=%+v err=%v", summary, err)
	}
	recent, err := s.ListRecent(context.Background(), 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent=%v err=%v", recent, err)
	}
}
