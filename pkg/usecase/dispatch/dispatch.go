package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/adapter"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
	"github.com/myxstack/xmcp/pkg/tool"
	"github.com/myxstack/xmcp/pkg/utils/logging"
)

// Hub is the dispatcher's view of the timeline service: its own inbox, the
// reply channel, and the item metadata write-back.
type Hub interface {
	RegisterAgent(ctx context.Context, agent *model.Agent) error
	Messages(ctx context.Context, agentID model.AgentID) ([]*model.Message, error)
	SendMessage(ctx context.Context, msg *model.Message) error
	PatchItemMetadata(ctx context.Context, itemID string, metadata map[string]any) error
}

// Config holds the dispatcher's tunables.
type Config struct {
	// AgentID is the identity whose inbox is polled. Default mcp-orchestrator.
	AgentID model.AgentID

	// Interval between poll cycles. Default 5s.
	Interval time.Duration

	// Lookback bounds the first cycle when no cursor is persisted and the
	// ledger compaction window. Default 10m.
	Lookback time.Duration
}

func (c *Config) setDefaults() {
	if c.AgentID == "" {
		c.AgentID = model.AgentOrchestrator
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Lookback <= 0 {
		c.Lookback = 10 * time.Minute
	}
}

// NewInput contains the dependencies for a dispatcher loop.
type NewInput struct {
	Hub      Hub
	Reasoner adapter.Reasoner
	Tools    *tool.Registry
	Cursor   *repository.Cursor
	Ledger   *repository.Ledger
	Config   Config

	// Now and Wait are injectable for tests.
	Now  func() time.Time
	Wait func(ctx context.Context, d time.Duration) error
}

// Loop polls one agent's message inbox for timeline_action messages and
// drives each through the reasoning call, the item write-back, and the
// reply message.
//
// Advancement policy matches the listener: a message is marked processed
// (ledger entry plus cursor advance to the message's creation time) only
// after its reply message is durably stored. The item metadata write-back
// is best-effort and skipped when the message carries no item ID.
type Loop struct {
	hub      Hub
	reasoner adapter.Reasoner
	tools    *tool.Registry
	cursor   *repository.Cursor
	ledger   *repository.Ledger
	cfg      Config

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher loop.
func New(input NewInput) (*Loop, error) {
	if input.Hub == nil {
		return nil, goerr.New("hub is required")
	}
	if input.Reasoner == nil {
		return nil, goerr.New("reasoner is required")
	}
	if input.Cursor == nil || input.Ledger == nil {
		return nil, goerr.New("cursor and ledger are required")
	}

	cfg := input.Config
	cfg.setDefaults()

	l := &Loop{
		hub:      input.Hub,
		reasoner: input.Reasoner,
		tools:    input.Tools,
		cursor:   input.Cursor,
		ledger:   input.Ledger,
		cfg:      cfg,
		now:      input.Now,
		wait:     input.Wait,
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.wait == nil {
		l.wait = sleep
	}
	return l, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run registers the dispatcher's agent identity and polls until the context
// is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	logger := logging.From(ctx)

	if err := l.hub.RegisterAgent(ctx, &model.Agent{
		ID:          l.cfg.AgentID,
		Name:        "MCP Orchestrator",
		Description: "Dispatches timeline actions to MCP-enabled tools.",
		Status:      "online",
		Endpoint:    "local",
		Tags:        []string{"mcp", "orchestrator"},
	}); err != nil {
		// Registration is idempotent and retried implicitly on restart.
		logger.Warn("failed to register agent", "agent_id", l.cfg.AgentID, "error", err)
	}
	logger.Info("dispatcher started", "agent_id", l.cfg.AgentID, "interval", l.cfg.Interval)

	for {
		l.cycle(ctx)
		if err := l.wait(ctx, l.cfg.Interval); err != nil {
			return nil
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	logger := logging.From(ctx)
	since := l.since()

	messages, err := l.hub.Messages(ctx, l.cfg.AgentID)
	if err != nil {
		logger.Error("failed to fetch inbox", "call", "messages", "agent_id", l.cfg.AgentID, "error", err)
		return
	}

	// The inbox is most-recent-first; process in creation order.
	pending := make([]*model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Type != model.MessageTypeTimelineAction {
			continue
		}
		// Inclusive bound: a message created exactly at the cursor timestamp
		// is re-included and deduplicated by the ledger, never dropped.
		if msg.CreatedAt.Before(since) {
			continue
		}
		if l.ledger.Contains(string(msg.ID)) {
			continue
		}
		pending = append(pending, msg)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	for _, msg := range pending {
		if err := l.process(ctx, msg); err != nil {
			// No advancement: the message is retried next cycle.
			logger.Error("failed to process action message", "message_id", msg.ID, "error", err)
			break
		}
		if err := l.ledger.Record(string(msg.ID)); err != nil {
			logger.Error("failed to record message in ledger", "message_id", msg.ID, "error", err)
		}
		if err := l.cursor.Save(msg.CreatedAt); err != nil {
			logger.Error("failed to advance cursor", "message_id", msg.ID, "error", err)
		}
	}

	if err := l.ledger.Compact(l.since().Add(-l.cfg.Lookback)); err != nil {
		logger.Warn("ledger compaction failed", "error", err)
	}
}

func (l *Loop) since() time.Time {
	if t, ok := l.cursor.Load(); ok {
		return t
	}
	return l.now().Add(-l.cfg.Lookback)
}

func (l *Loop) process(ctx context.Context, msg *model.Message) error {
	logger := logging.From(ctx)

	itemID, _ := msg.Metadata[model.MetaTimelineItemID].(string)
	action, _ := msg.Metadata[model.MetaAction].(string)

	prompt := fmt.Sprintf(
		"You are a workflow agent. A user took the action %q on timeline item %s.\n"+
			"Use the available tools to execute any required external steps. Return a concise status update.",
		action, itemID)

	result, err := l.reasoner.Generate(ctx, prompt, l.tools)
	if err != nil {
		return goerr.Wrap(err, "reasoning call failed", goerr.V("message_id", msg.ID))
	}

	// Write-back is best-effort and needs an item to write to.
	if itemID != "" {
		if err := l.hub.PatchItemMetadata(ctx, itemID, map[string]any{
			model.MetaMCPResult: result,
		}); err != nil {
			logger.Error("failed to write back item metadata", "call", "patch_item", "item_id", itemID, "error", err)
		}
	}

	// The reply message is the durable outcome; without it the action is
	// retried next cycle.
	if err := l.hub.SendMessage(ctx, &model.Message{
		From:    l.cfg.AgentID,
		To:      msg.From,
		Type:    model.MessageTypeMCPResult,
		Content: result,
		Metadata: map[string]any{
			model.MetaTimelineItemID: itemID,
			model.MetaAction:         action,
		},
	}); err != nil {
		return goerr.Wrap(err, "failed to send result message", goerr.V("message_id", msg.ID))
	}
	return nil
}
