package repository

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Cursor is a durable progress marker bounding the next feed fetch. The
// backing file holds a single RFC3339 timestamp; Save writes it through
// before returning so a crash never loses acknowledged progress.
//
// Invariant: once advanced the cursor never moves backward. Resetting means
// deleting the file out of band.
type Cursor struct {
	path string
	mu   sync.Mutex
	last time.Time
}

// NewCursor opens a cursor backed by the given file. A missing or
// unparsable file means no progress yet.
func NewCursor(path string) (*Cursor, error) {
	if path == "" {
		return nil, goerr.New("cursor path is required")
	}
	c := &Cursor{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw))); err == nil {
		c.last = t
	}
	return c, nil
}

// Load returns the persisted marker. ok is false when no progress has been
// recorded; the caller substitutes its lookback default.
func (c *Cursor) Load() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, !c.last.IsZero()
}

// Save advances the marker. Values at or before the current marker are
// ignored to keep the cursor monotonic.
func (c *Cursor) Save(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.last.IsZero() && !t.After(c.last) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create cursor directory", goerr.V("path", c.path))
	}
	if err := os.WriteFile(c.path, []byte(t.Format(time.RFC3339Nano)+"\n"), 0o644); err != nil {
		return goerr.Wrap(err, "failed to write cursor", goerr.V("path", c.path))
	}
	c.last = t
	return nil
}

// Ledger is a durable set of already-processed item identifiers: the
// authoritative exactly-once guard. The cursor only narrows fetch volume; a
// single fetch can span timestamps the cursor already passed, so membership
// here is what suppresses duplicate side effects.
//
// The backing file is append-only, one identifier per line.
type Ledger struct {
	path string
	mu   sync.Mutex
	ids  map[string]time.Time
}

// NewLedger opens a ledger backed by the given file, loading all recorded
// identifiers into memory.
func NewLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, goerr.New("ledger path is required")
	}
	l := &Ledger{path: path, ids: map[string]time.Time{}}

	f, err := os.Open(path)
	if err != nil {
		return l, nil
	}
	defer f.Close()

	loadedAt := time.Now()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			l.ids[id] = loadedAt
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to read ledger", goerr.V("path", path))
	}
	return l, nil
}

// Contains reports whether the identifier was already processed.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// Record appends the identifier to the ledger, durably.
func (l *Ledger) Record(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create ledger directory", goerr.V("path", l.path))
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return goerr.Wrap(err, "failed to open ledger", goerr.V("path", l.path))
	}
	defer f.Close()

	if _, err := f.WriteString(id + "\n"); err != nil {
		return goerr.Wrap(err, "failed to append to ledger", goerr.V("path", l.path))
	}
	l.ids[id] = time.Now()
	return nil
}

// Compact drops identifiers recorded before the given time and rewrites the
// backing file. The cursor's lookback window bounds what the feed can return
// again, so anything recorded before cursor−lookback is safe to evict. This
// is the growth-control extension point; callers decide the policy.
func (l *Ledger) Compact(before time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	var survivors []string
	for id, recordedAt := range l.ids {
		if recordedAt.Before(before) {
			delete(l.ids, id)
			removed++
		} else {
			survivors = append(survivors, id)
		}
	}
	if removed == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create ledger directory", goerr.V("path", l.path))
	}
	body := ""
	if len(survivors) > 0 {
		body = strings.Join(survivors, "\n") + "\n"
	}
	if err := os.WriteFile(l.path, []byte(body), 0o644); err != nil {
		return goerr.Wrap(err, "failed to rewrite ledger", goerr.V("path", l.path))
	}
	return nil
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}
