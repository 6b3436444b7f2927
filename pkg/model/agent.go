package model

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

type AgentID string

// NewAgentID generates a new unique AgentID
func NewAgentID() AgentID {
	return AgentID(uuid.New().String())
}

// Well-known agent identities used by the loops and the UI.
const (
	AgentOrchestrator AgentID = "mcp-orchestrator"
	AgentX            AgentID = "x-agent"
	AgentTimelineUI   AgentID = "timeline-ui"
)

// Agent is a named participant in the message-passing directory: a
// human-facing UI, an automated worker, or the orchestrator.
type Agent struct {
	ID          AgentID   `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Endpoint    string    `json:"endpoint"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// Normalize fills in defaults for missing fields and stamps CreatedAt.
func (x *Agent) Normalize(now time.Time) {
	if x.ID == "" {
		x.ID = NewAgentID()
	}
	if x.Name == "" {
		x.Name = "Agent"
	}
	if x.Status == "" {
		x.Status = "offline"
	}
	if x.Tags == nil {
		x.Tags = []string{}
	}
	x.CreatedAt = now
}

// Clone returns a copy safe to hand to callers.
func (x *Agent) Clone() *Agent {
	c := *x
	c.Tags = slices.Clone(x.Tags)
	return &c
}

// DefaultAgents returns the directory entries seeded into a fresh hub store.
func DefaultAgents() []*Agent {
	return []*Agent{
		{
			ID:          AgentOrchestrator,
			Name:        "MCP Orchestrator",
			Description: "Dispatches timeline actions to MCP-enabled tools.",
			Status:      "online",
			Endpoint:    "local",
			Tags:        []string{"mcp", "orchestrator"},
		},
		{
			ID:          AgentX,
			Name:        "X Agent",
			Description: "Handles @mentions and X actions.",
			Status:      "online",
			Endpoint:    "x",
			Tags:        []string{"x", "social"},
		},
		{
			ID:          AgentTimelineUI,
			Name:        "Timeline UI",
			Description: "Flokk timeline surface.",
			Status:      "online",
			Endpoint:    "flokk",
			Tags:        []string{"ui", "timeline"},
		},
	}
}

type MessageID string

// NewMessageID generates a new unique MessageID
func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// Message type tags. The tag is free text; these are the values the system
// itself produces and filters on.
const (
	MessageTypeInfo           = "info"
	MessageTypeTimelineAction = "timeline_action"
	MessageTypeMCPResult      = "mcp_result"
)

// Metadata keys linking a message back to a timeline item. The link is a
// loose foreign key, not enforced by the store.
const (
	MetaTimelineItemID = "timeline_item_id"
	MetaAction         = "action"
	MetaMCPResult      = "mcp_result"
)

// Message is a directed note between agents. Messages are append-only: the
// store inserts them at the head of the list and never mutates them.
type Message struct {
	ID        MessageID      `json:"id"`
	From      AgentID        `json:"from"`
	To        AgentID        `json:"to"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// Normalize fills in defaults for missing fields and stamps CreatedAt.
func (x *Message) Normalize(now time.Time) {
	if x.ID == "" {
		x.ID = NewMessageID()
	}
	if x.From == "" {
		x.From = "system"
	}
	if x.To == "" {
		x.To = AgentTimelineUI
	}
	if x.Type == "" {
		x.Type = MessageTypeInfo
	}
	if x.Metadata == nil {
		x.Metadata = map[string]any{}
	}
	x.CreatedAt = now
}

// Clone returns a copy safe to hand to callers.
func (x *Message) Clone() *Message {
	c := *x
	c.Metadata = maps.Clone(x.Metadata)
	return &c
}
