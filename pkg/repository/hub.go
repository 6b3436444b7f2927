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

// hubStore persists the agent directory and message inbox as one JSON
// document with the same lock-and-rewrite contract as the timeline store.
// The two stores are independent documents with independent locks; there is
// no cross-document transaction.
type hubStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

type hubDoc struct {
	Agents   []*model.Agent   `json:"agents"`
	Messages []*model.Message `json:"messages"`
}

// NewHub creates a JSON-file-backed agent hub store.
func NewHub(path string) (Hub, error) {
	if path == "" {
		return nil, goerr.New("hub store path is required")
	}
	return &hubStore{path: path, now: time.Now}, nil
}

// readDoc loads the backing document. A missing or unparsable file is
// re-seeded with the default agent directory.
func (s *hubStore) readDoc() *hubDoc {
	doc := &hubDoc{}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return &hubDoc{Agents: model.DefaultAgents(), Messages: []*model.Message{}}
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return &hubDoc{Agents: model.DefaultAgents(), Messages: []*model.Message{}}
	}
	if doc.Agents == nil {
		doc.Agents = model.DefaultAgents()
	}
	if doc.Messages == nil {
		doc.Messages = []*model.Message{}
	}
	return doc
}

func (s *hubStore) writeDoc(doc *hubDoc) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return goerr.Wrap(err, "failed to create store directory", goerr.V("path", s.path))
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal hub store")
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return goerr.Wrap(err, "failed to write hub store", goerr.V("path", s.path))
	}
	return nil
}

func (s *hubStore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	agents := make([]*model.Agent, 0, len(doc.Agents))
	for _, agent := range doc.Agents {
		agents = append(agents, agent.Clone())
	}
	return agents, nil
}

func (s *hubStore) GetAgent(ctx context.Context, id model.AgentID) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, agent := range s.readDoc().Agents {
		if agent.ID == id {
			return agent.Clone(), nil
		}
	}
	return nil, goerr.Wrap(ErrAgentNotFound, "agent not found", goerr.V("id", id))
}

func (s *hubStore) RegisterAgent(ctx context.Context, agent *model.Agent) (*model.Agent, error) {
	record := agent.Clone()
	record.Normalize(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	for _, existing := range doc.Agents {
		if existing.ID == record.ID {
			// Duplicate registration is silently ignored.
			return record, nil
		}
	}
	doc.Agents = append(doc.Agents, record)
	if err := s.writeDoc(doc); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

func (s *hubStore) ListMessages(ctx context.Context, to model.AgentID) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []*model.Message
	for _, msg := range s.readDoc().Messages {
		if msg.To == to {
			messages = append(messages, msg.Clone())
		}
	}
	return messages, nil
}

func (s *hubStore) AddMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	record := msg.Clone()
	record.Normalize(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.readDoc()
	doc.Messages = append([]*model.Message{record}, doc.Messages...)
	if err := s.writeDoc(doc); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}
