package dispatch_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
	"github.com/myxstack/xmcp/pkg/tool"
	"github.com/myxstack/xmcp/pkg/usecase/dispatch"
)

type fakeHub struct {
	inbox      []*model.Message
	inboxErr   error
	registered []*model.Agent

	sent     []*model.Message
	sendErrs []error
	sends    int

	patches  map[string]map[string]any
	patchErr error
}

func (x *fakeHub) RegisterAgent(ctx context.Context, agent *model.Agent) error {
	x.registered = append(x.registered, agent)
	return nil
}

func (x *fakeHub) Messages(ctx context.Context, agentID model.AgentID) ([]*model.Message, error) {
	if x.inboxErr != nil {
		return nil, x.inboxErr
	}
	var out []*model.Message
	for _, msg := range x.inbox {
		if msg.To == agentID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (x *fakeHub) SendMessage(ctx context.Context, msg *model.Message) error {
	call := x.sends
	x.sends++
	if call < len(x.sendErrs) && x.sendErrs[call] != nil {
		return x.sendErrs[call]
	}
	x.sent = append(x.sent, msg)
	return nil
}

func (x *fakeHub) PatchItemMetadata(ctx context.Context, itemID string, metadata map[string]any) error {
	if x.patchErr != nil {
		return x.patchErr
	}
	if x.patches == nil {
		x.patches = map[string]map[string]any{}
	}
	x.patches[itemID] = metadata
	return nil
}

type fakeReasoner struct {
	response string
	errs     []error
	calls    int
	prompts  []string
}

func (x *fakeReasoner) Generate(ctx context.Context, prompt string, registry *tool.Registry) (string, error) {
	call := x.calls
	x.calls++
	x.prompts = append(x.prompts, prompt)
	if call < len(x.errs) && x.errs[call] != nil {
		return "", x.errs[call]
	}
	return x.response, nil
}

type harness struct {
	hub      *fakeHub
	reasoner *fakeReasoner
	cursor   *repository.Cursor
	ledger   *repository.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cursor, err := repository.NewCursor(filepath.Join(dir, "cursor.txt"))
	gt.NoError(t, err)
	ledger, err := repository.NewLedger(filepath.Join(dir, "ledger.txt"))
	gt.NoError(t, err)
	return &harness{
		hub:      &fakeHub{},
		reasoner: &fakeReasoner{response: "executed"},
		cursor:   cursor,
		ledger:   ledger,
	}
}

func runCycles(t *testing.T, h *harness, cfg dispatch.Config, cycles int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	loop, err := dispatch.New(dispatch.NewInput{
		Hub:      h.hub,
		Reasoner: h.reasoner,
		Cursor:   h.cursor,
		Ledger:   h.ledger,
		Config:   cfg,
		Wait: func(ctx context.Context, d time.Duration) error {
			n++
			if n >= cycles {
				cancel()
			}
			return ctx.Err()
		},
	})
	gt.NoError(t, err)
	gt.NoError(t, loop.Run(ctx))
}

func actionMessage(id string, at time.Time, itemID, action string) *model.Message {
	return &model.Message{
		ID:        model.MessageID(id),
		From:      model.AgentTimelineUI,
		To:        model.AgentOrchestrator,
		Type:      model.MessageTypeTimelineAction,
		Content:   "User took action: " + action,
		CreatedAt: at,
		Metadata: map[string]any{
			model.MetaTimelineItemID: itemID,
			model.MetaAction:         action,
		},
	}
}

func TestActionExecutedOnce(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	h.hub.inbox = []*model.Message{
		actionMessage("a1", base, "item-1", "approve"),
	}

	// The same inbox is served on both cycles; the action runs once.
	runCycles(t, h, dispatch.Config{}, 2)

	gt.Equal(t, h.reasoner.calls, 1)
	gt.Equal(t, len(h.hub.sent), 1)

	reply := h.hub.sent[0]
	gt.Equal(t, reply.From, model.AgentOrchestrator)
	gt.Equal(t, reply.To, model.AgentTimelineUI)
	gt.Equal(t, reply.Type, model.MessageTypeMCPResult)
	gt.Equal(t, reply.Content, "executed")
	gt.Equal(t, reply.Metadata[model.MetaTimelineItemID], "item-1")

	gt.Map(t, h.hub.patches).HasKey("item-1")
	gt.Equal(t, h.hub.patches["item-1"][model.MetaMCPResult], "executed")

	gt.True(t, h.ledger.Contains("a1"))
	mark, ok := h.cursor.Load()
	gt.True(t, ok)
	gt.True(t, mark.Equal(base))
}

func TestIgnoresNonActionMessages(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	h.hub.inbox = []*model.Message{
		{
			ID:        "info-1",
			To:        model.AgentOrchestrator,
			Type:      model.MessageTypeInfo,
			Content:   "hello",
			CreatedAt: base,
		},
	}

	runCycles(t, h, dispatch.Config{}, 1)

	gt.Equal(t, h.reasoner.calls, 0)
	gt.Equal(t, len(h.hub.sent), 0)
}

func TestIgnoresMessagesBeforeCursor(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	gt.NoError(t, h.cursor.Save(base))
	h.hub.inbox = []*model.Message{
		actionMessage("stale", base.Add(-time.Second), "item-1", "approve"),
		actionMessage("fresh", base.Add(time.Second), "item-2", "approve"),
	}

	runCycles(t, h, dispatch.Config{}, 1)

	gt.Equal(t, h.reasoner.calls, 1)
	gt.Equal(t, len(h.hub.sent), 1)
	gt.Equal(t, h.hub.sent[0].Metadata[model.MetaTimelineItemID], "item-2")
}

func TestMessageAtCursorTimestampProcessed(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	gt.NoError(t, h.cursor.Save(base))
	h.hub.inbox = []*model.Message{
		actionMessage("edge", base, "item-1", "approve"),
	}

	runCycles(t, h, dispatch.Config{}, 1)

	gt.Equal(t, len(h.hub.sent), 1)
	gt.True(t, h.ledger.Contains("edge"))
}

func TestReasonerFailureRetriesNextCycle(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	h.hub.inbox = []*model.Message{
		actionMessage("a1", base, "item-1", "approve"),
	}
	h.reasoner.errs = []error{errors.New("model unavailable")}

	runCycles(t, h, dispatch.Config{}, 2)

	// First cycle failed without advancement; second retried and succeeded.
	gt.Equal(t, h.reasoner.calls, 2)
	gt.Equal(t, len(h.hub.sent), 1)
	gt.True(t, h.ledger.Contains("a1"))
}

func TestSendFailureRetriesNextCycle(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	h.hub.inbox = []*model.Message{
		actionMessage("a1", base, "item-1", "approve"),
	}
	h.hub.sendErrs = []error{errors.New("timeline service down")}

	runCycles(t, h, dispatch.Config{}, 2)

	gt.Equal(t, len(h.hub.sent), 1)
	gt.True(t, h.ledger.Contains("a1"))
	mark, ok := h.cursor.Load()
	gt.True(t, ok)
	gt.True(t, mark.Equal(base))
}

func TestPatchSkippedWithoutItemID(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	msg := actionMessage("a1", base, "", "dismiss")
	delete(msg.Metadata, model.MetaTimelineItemID)
	h.hub.inbox = []*model.Message{msg}

	runCycles(t, h, dispatch.Config{}, 1)

	gt.Equal(t, len(h.hub.patches), 0)
	gt.Equal(t, len(h.hub.sent), 1)
	gt.True(t, h.ledger.Contains("a1"))
}

func TestPatchFailureStillAdvances(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	h.hub.inbox = []*model.Message{
		actionMessage("a1", base, "item-1", "approve"),
	}
	h.hub.patchErr = errors.New("item gone")

	runCycles(t, h, dispatch.Config{}, 1)

	gt.Equal(t, len(h.hub.sent), 1)
	gt.True(t, h.ledger.Contains("a1"))
}

func TestRegistersAgentOnStart(t *testing.T) {
	h := newHarness(t)

	runCycles(t, h, dispatch.Config{AgentID: "custom-agent"}, 1)

	gt.Equal(t, len(h.hub.registered), 1)
	gt.Equal(t, h.hub.registered[0].ID, model.AgentID("custom-agent"))
}

func TestBatchProcessedInCreationOrder(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	h := newHarness(t)
	// Inbox is most-recent-first; processing must be oldest-first.
	h.hub.inbox = []*model.Message{
		actionMessage("a2", base.Add(time.Second), "item-2", "approve"),
		actionMessage("a1", base, "item-1", "approve"),
	}

	runCycles(t, h, dispatch.Config{}, 1)

	gt.Equal(t, len(h.hub.sent), 2)
	gt.Equal(t, h.hub.sent[0].Metadata[model.MetaTimelineItemID], "item-1")
	gt.Equal(t, h.hub.sent[1].Metadata[model.MetaTimelineItemID], "item-2")

	mark, ok := h.cursor.Load()
	gt.True(t, ok)
	gt.True(t, mark.Equal(base.Add(time.Second)))
}
