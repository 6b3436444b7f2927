package repository

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/model"
)

var (
	ErrItemNotFound  = goerr.New("timeline item not found")
	ErrAgentNotFound = goerr.New("agent not found")
)

// Timeline defines persistence for timeline items.
type Timeline interface {
	// ListItems retrieves items owned by a user, optionally filtered by status
	ListItems(ctx context.Context, userID, status string) ([]*model.TimelineItem, error)

	// GetItem retrieves an item by ID
	GetItem(ctx context.Context, id model.ItemID) (*model.TimelineItem, error)

	// AddItem creates an item and returns the persisted record
	AddItem(ctx context.Context, item *model.TimelineItem) (*model.TimelineItem, error)

	// UpdateItem applies a partial update and returns the updated record
	UpdateItem(ctx context.Context, id model.ItemID, update *model.ItemUpdate) (*model.TimelineItem, error)

	// DeleteItem removes an item
	DeleteItem(ctx context.Context, id model.ItemID) error
}

// Hub defines persistence for the agent directory and message inbox.
type Hub interface {
	// ListAgents retrieves all registered agents
	ListAgents(ctx context.Context) ([]*model.Agent, error)

	// GetAgent retrieves an agent by ID
	GetAgent(ctx context.Context, id model.AgentID) (*model.Agent, error)

	// RegisterAgent registers an agent. Registering an existing ID is a
	// no-op returning the attempted record unchanged.
	RegisterAgent(ctx context.Context, agent *model.Agent) (*model.Agent, error)

	// ListMessages retrieves messages addressed to an agent, most recent first
	ListMessages(ctx context.Context, to model.AgentID) ([]*model.Message, error)

	// AddMessage stores a message at the head of the inbox
	AddMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
}
