package listener_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/myxstack/xmcp/pkg/adapter"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
	"github.com/myxstack/xmcp/pkg/tool"
	"github.com/myxstack/xmcp/pkg/usecase/listener"
)

type fakeFeed struct {
	batches   [][]*model.Mention
	fetchErrs []error
	fetch     int

	replies   map[string]int
	replyErr  error
	thread    []*model.Post
	threadErr error
}

func (x *fakeFeed) Me(ctx context.Context) (string, error) {
	return "bot-user", nil
}

func (x *fakeFeed) Mentions(ctx context.Context, userID string, since time.Time) ([]*model.Mention, error) {
	call := x.fetch
	x.fetch++
	if call < len(x.fetchErrs) && x.fetchErrs[call] != nil {
		return nil, x.fetchErrs[call]
	}
	if call < len(x.batches) {
		return x.batches[call], nil
	}
	return nil, nil
}

func (x *fakeFeed) Thread(ctx context.Context, conversationID string) ([]*model.Post, error) {
	if x.threadErr != nil {
		return nil, x.threadErr
	}
	return x.thread, nil
}

func (x *fakeFeed) Reply(ctx context.Context, postID, text string) error {
	if x.replies == nil {
		x.replies = map[string]int{}
	}
	x.replies[postID]++
	return x.replyErr
}

type fakeReasoner struct {
	response string
	err      error
	prompts  []string
}

func (x *fakeReasoner) Generate(ctx context.Context, prompt string, registry *tool.Registry) (string, error) {
	x.prompts = append(x.prompts, prompt)
	if x.err != nil {
		return "", x.err
	}
	return x.response, nil
}

type fakeRecorder struct {
	items []*model.TimelineItem
	errs  []error
	calls int
}

func (x *fakeRecorder) AddItem(ctx context.Context, item *model.TimelineItem) (*model.TimelineItem, error) {
	call := x.calls
	x.calls++
	if call < len(x.errs) && x.errs[call] != nil {
		return nil, x.errs[call]
	}
	x.items = append(x.items, item)
	return item, nil
}

type harness struct {
	feed     *fakeFeed
	reasoner *fakeReasoner
	recorder *fakeRecorder
	cursor   *repository.Cursor
	ledger   *repository.Ledger
	waits    []time.Duration
}

// runCycles runs the loop for a fixed number of poll cycles, recording each
// requested wait, then cancels the context.
func runCycles(t *testing.T, h *harness, cfg listener.Config, cycles int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	loop, err := listener.New(listener.NewInput{
		Feed:     h.feed,
		Reasoner: h.reasoner,
		Recorder: h.recorder,
		Cursor:   h.cursor,
		Ledger:   h.ledger,
		Config:   cfg,
		Wait: func(ctx context.Context, d time.Duration) error {
			h.waits = append(h.waits, d)
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

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cursor, err := repository.NewCursor(filepath.Join(dir, "cursor.txt"))
	gt.NoError(t, err)
	ledger, err := repository.NewLedger(filepath.Join(dir, "ledger.txt"))
	gt.NoError(t, err)
	return &harness{
		reasoner: &fakeReasoner{response: "done"},
		recorder: &fakeRecorder{},
		cursor:   cursor,
		ledger:   ledger,
	}
}

func mention(id string, at time.Time) *model.Mention {
	return &model.Mention{
		ID:             id,
		Text:           "@bot do something " + id,
		AuthorID:       "author-1",
		ConversationID: "conv-" + id,
		CreatedAt:      at,
	}
}

func TestMentionProcessedOnce(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)
	m2 := mention("m2", base.Add(time.Second))
	m3 := mention("m3", base.Add(2*time.Second))

	h := newHarness(t)
	// m2 appears in both batches; it must be replied to exactly once.
	h.feed = &fakeFeed{batches: [][]*model.Mention{{m1, m2}, {m2, m3}}}

	runCycles(t, h, listener.Config{}, 2)

	gt.Equal(t, h.feed.replies["m1"], 1)
	gt.Equal(t, h.feed.replies["m2"], 1)
	gt.Equal(t, h.feed.replies["m3"], 1)
	gt.Equal(t, len(h.recorder.items), 3)

	gt.True(t, h.ledger.Contains("m1"))
	gt.True(t, h.ledger.Contains("m2"))
	gt.True(t, h.ledger.Contains("m3"))

	mark, ok := h.cursor.Load()
	gt.True(t, ok)
	gt.True(t, mark.Equal(m3.CreatedAt))
}

func TestThrottledFetchBacksOff(t *testing.T) {
	h := newHarness(t)
	h.feed = &fakeFeed{fetchErrs: []error{adapter.ErrThrottled}}

	backoff := 15 * time.Minute
	runCycles(t, h, listener.Config{ThrottleBackoff: backoff}, 1)

	gt.Equal(t, len(h.waits), 1)
	gt.Equal(t, h.waits[0], backoff)

	// Nothing was processed, so no progress was recorded.
	_, ok := h.cursor.Load()
	gt.False(t, ok)
	gt.Equal(t, h.ledger.Len(), 0)
}

func TestRateLimitedFetchUsesNormalInterval(t *testing.T) {
	h := newHarness(t)
	h.feed = &fakeFeed{fetchErrs: []error{adapter.ErrRateLimited}}

	interval := 45 * time.Second
	runCycles(t, h, listener.Config{Interval: interval}, 1)

	gt.Equal(t, len(h.waits), 1)
	gt.Equal(t, h.waits[0], interval)
}

func TestMentionWithoutConversationHandledOnce(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	orphan := &model.Mention{ID: "orphan", Text: "@bot hi", CreatedAt: base}

	h := newHarness(t)
	h.feed = &fakeFeed{batches: [][]*model.Mention{{orphan}, {orphan}}}

	runCycles(t, h, listener.Config{}, 2)

	// Never replied or recorded, but ledgered so it is not retried.
	gt.Equal(t, h.feed.replies["orphan"], 0)
	gt.Equal(t, len(h.recorder.items), 0)
	gt.True(t, h.ledger.Contains("orphan"))
}

func TestReplyFailureStillAdvances(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)

	h := newHarness(t)
	h.feed = &fakeFeed{
		batches:  [][]*model.Mention{{m1}},
		replyErr: errors.New("reply rejected"),
	}

	runCycles(t, h, listener.Config{}, 1)

	gt.Equal(t, len(h.recorder.items), 1)
	gt.True(t, h.ledger.Contains("m1"))
	mark, ok := h.cursor.Load()
	gt.True(t, ok)
	gt.True(t, mark.Equal(m1.CreatedAt))
}

func TestRecordFailureBlocksAdvancement(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)

	h := newHarness(t)
	h.feed = &fakeFeed{batches: [][]*model.Mention{{m1}, {m1}}}
	h.recorder = &fakeRecorder{errs: []error{errors.New("store down")}}

	runCycles(t, h, listener.Config{}, 2)

	// First cycle failed to record; the second retried and succeeded.
	gt.Equal(t, len(h.recorder.items), 1)
	gt.True(t, h.ledger.Contains("m1"))
	mark, ok := h.cursor.Load()
	gt.True(t, ok)
	gt.True(t, mark.Equal(m1.CreatedAt))
}

func TestReasonerFailureFallsBack(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)

	h := newHarness(t)
	h.feed = &fakeFeed{batches: [][]*model.Mention{{m1}}}
	h.reasoner = &fakeReasoner{err: errors.New("model unavailable")}

	runCycles(t, h, listener.Config{}, 1)

	gt.Equal(t, len(h.recorder.items), 1)
	gt.Equal(t, h.recorder.items[0].Body, adapter.FallbackResponse)
	gt.Equal(t, h.feed.replies["m1"], 1)
}

func TestRecordedItemShape(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)

	h := newHarness(t)
	h.feed = &fakeFeed{batches: [][]*model.Mention{{m1}}}

	runCycles(t, h, listener.Config{OwnerID: "owner-7"}, 1)

	gt.Equal(t, len(h.recorder.items), 1)
	item := h.recorder.items[0]
	gt.Equal(t, item.UserID, "owner-7")
	gt.Equal(t, item.Body, "done")
	gt.Equal(t, item.PostedBy, string(model.AgentX))
	gt.Equal(t, item.Metadata["mention_id"], "m1")
	gt.Equal(t, item.Metadata["conversation_id"].(string), m1.ConversationID)
}

func TestPromptCarriesThreadContext(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)

	h := newHarness(t)
	h.feed = &fakeFeed{
		batches: [][]*model.Mention{{m1}},
		thread: []*model.Post{
			{ID: "p1", Text: "first post"},
			{ID: "m1", Text: m1.Text},
		},
	}

	runCycles(t, h, listener.Config{MCPServerURL: "http://127.0.0.1:8000/mcp"}, 1)

	gt.Equal(t, len(h.reasoner.prompts), 1)
	gt.S(t, h.reasoner.prompts[0]).Contains("You were tagged here:")
	gt.S(t, h.reasoner.prompts[0]).Contains("first post")
	gt.S(t, h.reasoner.prompts[0]).Contains("http://127.0.0.1:8000/mcp")
}

func TestThreadFailureDegradesToMentionText(t *testing.T) {
	base := time.Now().Add(-time.Minute)
	m1 := mention("m1", base)

	h := newHarness(t)
	h.feed = &fakeFeed{
		batches:   [][]*model.Mention{{m1}},
		threadErr: errors.New("search unavailable"),
	}

	runCycles(t, h, listener.Config{}, 1)

	gt.Equal(t, len(h.reasoner.prompts), 1)
	gt.S(t, h.reasoner.prompts[0]).Contains(m1.Text)
	gt.Equal(t, len(h.recorder.items), 1)
}
