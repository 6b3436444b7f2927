package listener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/adapter"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/repository"
	"github.com/myxstack/xmcp/pkg/tool"
	"github.com/myxstack/xmcp/pkg/utils/logging"
)

// Recorder is the durable side-effect sink: every processed mention is
// recorded as a timeline item before the mention counts as handled.
type Recorder interface {
	AddItem(ctx context.Context, item *model.TimelineItem) (*model.TimelineItem, error)
}

// Config holds the listener's tunables. Zero values fall back to the
// documented defaults.
type Config struct {
	// Interval between poll cycles. Default 60s.
	Interval time.Duration

	// ThrottleBackoff is the extended wait applied after the distinguished
	// "unavailable / payment required" fetch failure class. Default 15m.
	ThrottleBackoff time.Duration

	// Lookback bounds the first fetch when no cursor is persisted and the
	// ledger compaction window. Default 10m.
	Lookback time.Duration

	// OwnerID is the timeline user recorded items belong to.
	OwnerID string

	// MCPServerURL is named in the prompt so the model knows where its
	// tools come from.
	MCPServerURL string
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.ThrottleBackoff <= 0 {
		c.ThrottleBackoff = 15 * time.Minute
	}
	if c.Lookback <= 0 {
		c.Lookback = 10 * time.Minute
	}
	if c.OwnerID == "" {
		c.OwnerID = model.DefaultUserID
	}
}

// NewInput contains the dependencies for a listener loop.
type NewInput struct {
	Feed     adapter.Feed
	Reasoner adapter.Reasoner
	Recorder Recorder
	Tools    *tool.Registry
	Cursor   *repository.Cursor
	Ledger   *repository.Ledger
	Config   Config

	// Now and Wait are injectable for tests. Wait must return an error
	// only when the context is done.
	Now  func() time.Time
	Wait func(ctx context.Context, d time.Duration) error
}

// Loop polls the mention feed and drives each new mention through the
// reasoning call, the feed reply, and the timeline record.
//
// Advancement policy: a mention is marked processed (ledger entry plus
// cursor advance to the mention's own timestamp) only after its timeline
// record is durably written. The feed reply is best-effort; its failure is
// logged but never blocks advancement, so a broken reply path cannot cause
// a retry storm.
type Loop struct {
	feed     adapter.Feed
	reasoner adapter.Reasoner
	recorder Recorder
	tools    *tool.Registry
	cursor   *repository.Cursor
	ledger   *repository.Ledger
	cfg      Config

	userID string

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// New creates a listener loop.
func New(input NewInput) (*Loop, error) {
	if input.Feed == nil {
		return nil, goerr.New("feed is required")
	}
	if input.Reasoner == nil {
		return nil, goerr.New("reasoner is required")
	}
	if input.Recorder == nil {
		return nil, goerr.New("recorder is required")
	}
	if input.Cursor == nil || input.Ledger == nil {
		return nil, goerr.New("cursor and ledger are required")
	}

	cfg := input.Config
	cfg.setDefaults()

	l := &Loop{
		feed:     input.Feed,
		reasoner: input.Reasoner,
		recorder: input.Recorder,
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

// Run polls until the context is cancelled. Fetch and processing failures
// are logged and retried; they never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	logger := logging.From(ctx)

	userID, err := l.feed.Me(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to resolve feed identity")
	}
	l.userID = userID
	logger.Info("listener started",
		"user_id", userID,
		"interval", l.cfg.Interval,
		"lookback", l.cfg.Lookback)

	for {
		delay := l.cycle(ctx)
		if err := l.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

// cycle runs one fetch-filter-process-advance pass and returns the delay
// before the next one.
func (l *Loop) cycle(ctx context.Context) time.Duration {
	logger := logging.From(ctx)
	since := l.since()

	mentions, err := l.feed.Mentions(ctx, l.userID, since)
	if err != nil {
		// The cursor stays put: the next cycle retries from the same
		// position after the class-appropriate backoff.
		if errors.Is(err, adapter.ErrThrottled) {
			logger.Warn("feed throttled, backing off", "call", "mentions", "backoff", l.cfg.ThrottleBackoff)
			return l.cfg.ThrottleBackoff
		}
		logger.Error("failed to fetch mentions", "call", "mentions", "error", err)
		return l.cfg.Interval
	}

	// Oldest first keeps the cursor monotonic through a batch.
	sort.Slice(mentions, func(i, j int) bool {
		return mentions[i].CreatedAt.Before(mentions[j].CreatedAt)
	})

	for _, mention := range mentions {
		if l.ledger.Contains(mention.ID) {
			continue
		}
		if mention.ConversationID == "" {
			// No correlation data: handled once, never retried.
			logger.Warn("skipping mention without conversation", "mention_id", mention.ID)
			l.markHandled(ctx, mention)
			continue
		}

		if err := l.process(ctx, mention); err != nil {
			// The durable record failed; stop the batch so this mention is
			// refetched and retried next cycle.
			logger.Error("failed to process mention", "mention_id", mention.ID, "error", err)
			break
		}
		l.markHandled(ctx, mention)
	}

	if err := l.ledger.Compact(l.since().Add(-l.cfg.Lookback)); err != nil {
		logger.Warn("ledger compaction failed", "error", err)
	}
	return l.cfg.Interval
}

// since returns the fetch lower bound: the persisted cursor, or the
// lookback window when no progress exists yet.
func (l *Loop) since() time.Time {
	if t, ok := l.cursor.Load(); ok {
		return t
	}
	return l.now().Add(-l.cfg.Lookback)
}

// markHandled records the mention in the ledger and advances the cursor to
// the mention's own timestamp, so a partially failed batch keeps its
// progress.
func (l *Loop) markHandled(ctx context.Context, mention *model.Mention) {
	logger := logging.From(ctx)
	if err := l.ledger.Record(mention.ID); err != nil {
		logger.Error("failed to record mention in ledger", "mention_id", mention.ID, "error", err)
	}
	if err := l.cursor.Save(mention.CreatedAt); err != nil {
		logger.Error("failed to advance cursor", "mention_id", mention.ID, "error", err)
	}
}

func (l *Loop) process(ctx context.Context, mention *model.Mention) error {
	logger := logging.From(ctx)

	prompt := l.buildPrompt(ctx, mention)

	response, err := l.reasoner.Generate(ctx, prompt, l.tools)
	if err != nil {
		// The reasoning call is opaque; a failed call degrades to the
		// fallback text rather than stalling the mention forever.
		logger.Error("reasoning call failed", "call", "generate", "mention_id", mention.ID, "error", err)
		response = adapter.FallbackResponse
	}

	// Reply and record are independent side effects. The reply is
	// best-effort; the record is what marks the mention processed.
	if err := l.feed.Reply(ctx, mention.ID, response); err != nil {
		logger.Error("failed to reply to mention", "call", "reply", "mention_id", mention.ID, "error", err)
	}

	if _, err := l.recorder.AddItem(ctx, &model.TimelineItem{
		UserID:   l.cfg.OwnerID,
		Title:    fmt.Sprintf("Mention %s", mention.ID),
		Body:     response,
		PostedBy: string(model.AgentX),
		Actions:  []string{"reply", "dismiss"},
		Metadata: map[string]any{
			"mention_id":      mention.ID,
			"conversation_id": mention.ConversationID,
			"author_id":       mention.AuthorID,
			"mention_text":    mention.Text,
		},
	}); err != nil {
		return goerr.Wrap(err, "failed to record timeline item", goerr.V("mention_id", mention.ID))
	}
	return nil
}

// buildPrompt assembles the mention's thread context into the reasoning
// prompt. Thread fetch failure degrades to the mention text alone.
func (l *Loop) buildPrompt(ctx context.Context, mention *model.Mention) string {
	logger := logging.From(ctx)

	threadText := mention.Text
	if posts, err := l.feed.Thread(ctx, mention.ConversationID); err != nil {
		logger.Warn("failed to fetch thread context", "call", "thread", "conversation_id", mention.ConversationID, "error", err)
	} else if len(posts) > 0 {
		lines := make([]string, 0, len(posts))
		for _, post := range posts {
			lines = append(lines, post.Text)
		}
		threadText = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("You were tagged here:\n")
	b.WriteString(threadText)
	b.WriteString("\n\nReason step-by-step and use the available tools to respond autonomously.")
	if l.cfg.MCPServerURL != "" {
		b.WriteString("\nServer: " + l.cfg.MCPServerURL)
	}
	return b.String()
}
