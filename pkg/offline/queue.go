package offline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/adapters/file"
	"github.com/aretw0/caretree/pkg/domain"
)

// ErrQueueClosed is returned by operations on a closed Queue.
var ErrQueueClosed = errors.New("offline queue is closed")

// maxRecordSize bounds a single journal line.
const maxRecordSize = 16 << 20

type opKind string

const (
	opPut opKind = "put"
	opDel opKind = "del"
)

// record is one journal line.
type record struct {
	Op       opKind                 `json:"op"`
	Item     *domain.OfflineSession `json:"item,omitempty"`
	LocalIDs []string               `json:"localIds,omitempty"`
}

// Queue implements ports.OfflineQueue as an append-only JSON-lines journal.
// Every mutation is appended and fsynced before it is acknowledged; the journal is
// compacted by an atomic rewrite once removals dominate it.
type Queue struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	f       *os.File
	items   []domain.OfflineSession
	records int
	closed  bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger used for recovery warnings.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// OpenQueue opens (or creates) the journal at path and replays it.
// A torn final line, left by a crash mid-append, is discarded.
func OpenQueue(path string, opts ...QueueOption) (*Queue, error) {
	q := &Queue{path: path, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(q)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure queue directory: %w", err)
	}
	if err := q.replay(); err != nil {
		return nil, err
	}
	if q.records > len(q.items) {
		if err := q.compact(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue journal: %w", err)
	}
	q.f = f
	return q, nil
}

func (q *Queue) replay() error {
	f, err := os.Open(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read queue journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), maxRecordSize)

	var pendingErr error
	line := 0
	for scanner.Scan() {
		line++
		if pendingErr != nil {
			// A bad line followed by more data is corruption, not a torn write.
			return pendingErr
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			pendingErr = fmt.Errorf("corrupt queue journal %s at line %d: %w", q.path, line, err)
			continue
		}
		q.apply(rec)
		q.records++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to scan queue journal: %w", err)
	}
	if pendingErr != nil {
		q.logger.Warn("discarding torn record at end of queue journal", "path", q.path, "line", line)
		q.records++ // forces compaction, which drops the torn line
	}
	return nil
}

func (q *Queue) apply(rec record) {
	switch rec.Op {
	case opPut:
		if rec.Item == nil {
			return
		}
		for i := range q.items {
			if q.items[i].LocalID == rec.Item.LocalID {
				q.items[i] = *rec.Item
				return
			}
		}
		q.items = append(q.items, *rec.Item)
	case opDel:
		drop := make(map[string]bool, len(rec.LocalIDs))
		for _, id := range rec.LocalIDs {
			drop[id] = true
		}
		kept := q.items[:0]
		for _, item := range q.items {
			if !drop[item.LocalID] {
				kept = append(kept, item)
			}
		}
		q.items = kept
	}
}

func (q *Queue) append(rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal queue record: %w", err)
	}
	data = append(data, '\n')
	if _, err := q.f.Write(data); err != nil {
		return fmt.Errorf("failed to append to queue journal: %w", err)
	}
	if err := q.f.Sync(); err != nil {
		return fmt.Errorf("failed to fsync queue journal: %w", err)
	}
	q.records++
	return nil
}

// compact rewrites the journal with one put record per live item.
func (q *Queue) compact() error {
	var buf []byte
	for i := range q.items {
		data, err := json.Marshal(record{Op: opPut, Item: &q.items[i]})
		if err != nil {
			return fmt.Errorf("failed to marshal queue record: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if err := file.WriteAtomic(q.path, buf); err != nil {
		return fmt.Errorf("failed to compact queue journal: %w", err)
	}
	q.records = len(q.items)
	return nil
}

// Enqueue appends an item durably. Re-enqueueing a local ID replaces the item in place.
func (q *Queue) Enqueue(ctx context.Context, item domain.OfflineSession) error {
	if item.LocalID == "" {
		return domain.Invalid("localId", "is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	rec := record{Op: opPut, Item: &item}
	if err := q.append(rec); err != nil {
		return err
	}
	q.apply(rec)
	return nil
}

// Snapshot returns every queued item in enqueue order.
func (q *Queue) Snapshot(ctx context.Context) ([]domain.OfflineSession, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	return append([]domain.OfflineSession(nil), q.items...), nil
}

// Remove drops the given local IDs durably.
func (q *Queue) Remove(ctx context.Context, localIDs ...string) error {
	if len(localIDs) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	rec := record{Op: opDel, LocalIDs: localIDs}
	if err := q.append(rec); err != nil {
		return err
	}
	q.apply(rec)

	if q.records > 2*len(q.items)+32 || len(q.items) == 0 {
		return q.rotate()
	}
	return nil
}

// rotate compacts the journal and reopens the append handle on the new file.
func (q *Queue) rotate() error {
	if err := q.f.Close(); err != nil {
		return fmt.Errorf("failed to close queue journal: %w", err)
	}
	compactErr := q.compact()
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		q.closed = true
		return fmt.Errorf("failed to reopen queue journal: %w", err)
	}
	q.f = f
	return compactErr
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close flushes and closes the journal. It is safe to call more than once.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.f.Sync(); err != nil {
		_ = q.f.Close()
		return fmt.Errorf("failed to flush queue journal: %w", err)
	}
	return q.f.Close()
}
