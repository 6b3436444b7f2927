package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
)

// Server exposes timeline and agent-hub operations as MCP tools so the
// reasoning model can read and act on the stores directly.
type Server struct {
	timeline repository.Timeline
	hub      repository.Hub
	server   *mcp.Server
}

// NewServer builds the MCP server with all timeline/hub tools registered.
func NewServer(timeline repository.Timeline, hub repository.Hub) *Server {
	s := &Server{
		timeline: timeline,
		hub:      hub,
	}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "xmcp-timeline",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_timeline_items",
		Description: "List timeline items for a user, optionally filtered by status",
	}, s.listItems)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "add_timeline_item",
		Description: "Create a new timeline item surfaced to the user",
	}, s.addItem)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "update_timeline_item",
		Description: "Partially update a timeline item; metadata is merged, other fields replaced",
	}, s.updateItem)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_timeline_item",
		Description: "Delete a timeline item",
	}, s.deleteItem)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_agents",
		Description: "List all agents registered in the directory",
	}, s.listAgents)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a directed message from one agent to another",
	}, s.sendMessage)

	s.server = srv
	return s
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// Run serves the server over the given transport (stdio for local use).
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	if err := s.server.Run(ctx, transport); err != nil {
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}

func textResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal tool result")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil
}

type listItemsParams struct {
	UserID string `json:"user_id" jsonschema:"Owner of the timeline items"`
	Status string `json:"status,omitempty" jsonschema:"Optional status filter, e.g. unread"`
}

func (s *Server) listItems(ctx context.Context, req *mcp.CallToolRequest, params *listItemsParams) (*mcp.CallToolResult, any, error) {
	userID := params.UserID
	if userID == "" {
		userID = model.DefaultUserID
	}
	items, err := s.timeline.ListItems(ctx, userID, params.Status)
	if err != nil {
		return nil, nil, err
	}
	result, err := textResult(map[string]any{"items": items, "count": len(items)})
	return result, nil, err
}

type addItemParams struct {
	UserID   string   `json:"user_id,omitempty" jsonschema:"Owner of the item; defaults to 'default'"`
	Title    string   `json:"title" jsonschema:"Short headline of the item"`
	Body     string   `json:"body,omitempty" jsonschema:"Longer item body"`
	Status   string   `json:"status,omitempty" jsonschema:"Initial status; defaults to unread"`
	PostedBy string   `json:"posted_by,omitempty" jsonschema:"Author tag; defaults to agent"`
	Actions  []string `json:"actions,omitempty" jsonschema:"Permitted action labels for the UI"`
}

func (s *Server) addItem(ctx context.Context, req *mcp.CallToolRequest, params *addItemParams) (*mcp.CallToolResult, any, error) {
	item, err := s.timeline.AddItem(ctx, &model.TimelineItem{
		UserID:   params.UserID,
		Title:    params.Title,
		Body:     params.Body,
		Status:   params.Status,
		PostedBy: params.PostedBy,
		Actions:  params.Actions,
	})
	if err != nil {
		return nil, nil, err
	}
	result, err := textResult(item)
	return result, nil, err
}

type updateItemParams struct {
	ID       string            `json:"id" jsonschema:"Timeline item ID"`
	Status   *string           `json:"status,omitempty" jsonschema:"New status"`
	Title    *string           `json:"title,omitempty" jsonschema:"New title"`
	Body     *string           `json:"body,omitempty" jsonschema:"New body"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema:"Metadata entries merged into the item"`
}

func (s *Server) updateItem(ctx context.Context, req *mcp.CallToolRequest, params *updateItemParams) (*mcp.CallToolResult, any, error) {
	update := &model.ItemUpdate{
		Status: params.Status,
		Title:  params.Title,
		Body:   params.Body,
	}
	if len(params.Metadata) > 0 {
		update.Metadata = map[string]any{}
		for k, v := range params.Metadata {
			update.Metadata[k] = v
		}
	}
	item, err := s.timeline.UpdateItem(ctx, model.ItemID(params.ID), update)
	if err != nil {
		return nil, nil, err
	}
	result, err := textResult(item)
	return result, nil, err
}

type deleteItemParams struct {
	ID string `json:"id" jsonschema:"Timeline item ID"`
}

func (s *Server) deleteItem(ctx context.Context, req *mcp.CallToolRequest, params *deleteItemParams) (*mcp.CallToolResult, any, error) {
	if err := s.timeline.DeleteItem(ctx, model.ItemID(params.ID)); err != nil {
		return nil, nil, err
	}
	result, err := textResult(map[string]any{"deleted": true, "id": params.ID})
	return result, nil, err
}

type listAgentsParams struct{}

func (s *Server) listAgents(ctx context.Context, req *mcp.CallToolRequest, params *listAgentsParams) (*mcp.CallToolResult, any, error) {
	agents, err := s.hub.ListAgents(ctx)
	if err != nil {
		return nil, nil, err
	}
	result, err := textResult(map[string]any{"agents": agents, "count": len(agents)})
	return result, nil, err
}

type sendMessageParams struct {
	From    string `json:"from" jsonschema:"Sender agent ID"`
	To      string `json:"to" jsonschema:"Recipient agent ID"`
	Type    string `json:"type,omitempty" jsonschema:"Message type tag; defaults to info"`
	Content string `json:"content" jsonschema:"Message content"`
}

func (s *Server) sendMessage(ctx context.Context, req *mcp.CallToolRequest, params *sendMessageParams) (*mcp.CallToolResult, any, error) {
	msg, err := s.hub.AddMessage(ctx, &model.Message{
		From:    model.AgentID(params.From),
		To:      model.AgentID(params.To),
		Type:    params.Type,
		Content: params.Content,
	})
	if err != nil {
		return nil, nil, err
	}
	result, err := textResult(msg)
	return result, nil, err
}
