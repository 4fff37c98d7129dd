package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "agendabot/pkg/logx"
)

var errJournalClosed = errors.New("delivery journal closed")

// maxJournalLine bounds one JSON Lines record while scanning.
const maxJournalLine = 1 << 20

// journal appends deliveries to a JSON Lines file. Reads scan the file from
// the start, which is fine for an audit log read by operators, not hot paths.
type journal struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// journalPath gives path a .jsonl extension when it has none.
func journalPath(path string) string {
	if filepath.Ext(path) == "" {
		return path + ".jsonl"
	}
	return path
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	path = journalPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	log.Debug("delivery journal opened", logx.String("path", path))
	return &journal{log: log, path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (j *journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f, j.enc = nil, nil
	return err
}

func (j *journal) AppendDelivery(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc == nil {
		return errJournalClosed
	}
	// Encode writes the record and its newline in one call, so an O_APPEND
	// line is never interleaved with another writer's.
	return j.enc.Encode(d)
}

// RecentDeliveries returns up to limit records, newest first. Lines that do
// not decode are skipped.
func (j *journal) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil, errJournalClosed
	}

	f, err := os.Open(j.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tail := newRing[Delivery](limit)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxJournalLine)
	for line := 1; sc.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var d Delivery
		if err := json.Unmarshal(sc.Bytes(), &d); err != nil {
			j.log.Debug("skipping corrupt journal line", logx.Int("line", line), logx.Err(err))
			continue
		}
		tail.push(d)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return tail.newestFirst(), nil
}

// ring keeps the last cap values pushed.
type ring[T any] struct {
	buf  []T
	next int
}

func newRing[T any](n int) *ring[T] { return &ring[T]{buf: make([]T, 0, n)} }

func (r *ring[T]) push(v T) {
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
}

func (r *ring[T]) newestFirst() []T {
	n := len(r.buf)
	out := make([]T, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, r.buf[(r.next+i)%n])
	}
	return out
}
