package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/answerline/answerline-relay/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous writes so streaming handlers
// never wait on the database. Entries are queued in memory and flushed in
// batches; entries still queued when the process dies are lost.
type Store struct {
	underlying    ledger.Store
	entries       chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	logger        *log.Logger

	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

// Config configures the async ledger behaviour.
type Config struct {
	BatchSize     int           // max entries per flush (default 100)
	FlushInterval time.Duration // max time between flushes (default 1s)
	ChannelBuffer int           // queue capacity (default 1024)
	Logger        *log.Logger   // optional diagnostics logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1024
	}

	s := &Store{
		underlying:    underlying,
		entries:       make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
		stop:          make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Record queues an entry for a later batch write. When the queue is full
// the entry is dropped rather than blocking the caller.
func (s *Store) Record(_ context.Context, entry ledger.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case s.entries <- entry:
	default:
		s.logf("ledger.async: queue full, dropping entry request_id=%s", entry.RequestID)
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context) (ledger.Summary, error) {
	return s.underlying.Summary(ctx)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Close flushes queued entries and closes the underlying store.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
	return s.underlying.Close()
}

func (s *Store) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]ledger.Entry, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logf("ledger.async: record failed: %v", err)
			}
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entries:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stop:
			// Drain whatever is still queued, then flush once more.
			for {
				select {
				case entry := <-s.entries:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
