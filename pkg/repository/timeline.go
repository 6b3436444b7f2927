package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/model"
)

// timelineStore persists timeline items as a single JSON document. One lock
// guards the whole document: every operation is a full read-modify-write
// under the mutex, so operations are serializable and partial writes are
// never visible. The document is small and polling is seconds-scale, so the
// coarse lock is not a bottleneck.
type timelineStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

type timelineDoc struct {
	Items []*model.TimelineItem `json:"items"`
}

// NewTimeline creates a JSON-file-backed timeline store. The store is meant
// to be constructed once at process start and injected into its consumers.
func NewTimeline(path string) (Timeline, error) {
	if path == "" {
		return nil, goerr.New("timeline store path is required")
	}
	return &timelineStore{path: path, now: time.Now}, nil
}

// readDoc loads the backing document. A missing or unparsable file is
// treated as an empty store, never an error.
func (s *timelineStore) readDoc() *timelineDoc {
	doc := &timelineDoc{}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return &timelineDoc{}
	}
	if doc.Items == nil {
		doc.Items = []*model.TimelineItem{}
	}
	return doc
}

func (s *timelineStore) writeDoc(doc *timelineDoc) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create store directory", goerr.V("path", s.path))
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal timeline store")
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write timeline store", goerr.V("path", s.path))
	}
	return nil
}

func (s *timelineStore) ListItems(ctx context.Context, userID, status string) ([]*model.TimelineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	var items []*model.TimelineItem
	for _, item := range doc.Items {
		if item.UserID != userID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item.Clone())
	}
	return items, nil
}

func (s *timelineStore) GetItem(ctx context.Context, id model.ItemID) (*model.TimelineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	for _, item := range doc.Items {
		if item.ID == id {
			return item.Clone(), nil
		}
	}
	return nil, goerr.Wrap(ErrItemNotFound, "item not found", goerr.V("id", id))
}

func (s *timelineStore) AddItem(ctx context.Context, item *model.TimelineItem) (*model.TimelineItem, error) {
	record := item.Clone()
	record.Normalize(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	doc.Items = append([]*model.TimelineItem{record}, doc.Items...)
	if err := s.writeDoc(doc); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *timelineStore) UpdateItem(ctx context.Context, id model.ItemID, update *model.ItemUpdate) (*model.TimelineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	for _, item := range doc.Items {
		if item.ID != id {
			continue
		}
		update.Apply(item, s.now())
		if err := s.writeDoc(doc); err != nil {
			return nil, err
		}
		return item.Clone(), nil
	}
	return nil, goerr.Wrap(ErrItemNotFound, "item not found", goerr.V("id", id))
}

func (s *timelineStore) DeleteItem(ctx context.Context, id model.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	remaining := make([]*model.TimelineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		if item.ID != id {
			remaining = append(remaining, item)
		}
	}
	if len(remaining) == len(doc.Items) {
		return goerr.Wrap(ErrItemNotFound, "item not found", goerr.V("id", id))
	}
	doc.Items = remaining
	return s.writeDoc(doc)
}
