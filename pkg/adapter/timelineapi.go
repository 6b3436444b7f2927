package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/model"
)

// TimelineAPI is a client of the timeline service's REST surface. Both loops
// go through this client rather than the stores directly, matching the
// deployment where listener, dispatcher and timeline service are separate
// processes.
type TimelineAPI struct {
	baseURL    string
	httpClient *http.Client
}

type TimelineAPIOption func(*TimelineAPI)

// WithTimelineHTTPClient overrides the underlying HTTP client.
func WithTimelineHTTPClient(c *http.Client) TimelineAPIOption {
	return func(t *TimelineAPI) {
		t.httpClient = c
	}
}

// NewTimelineAPI creates a client for the timeline service at baseURL.
func NewTimelineAPI(baseURL string, opts ...TimelineAPIOption) (*TimelineAPI, error) {
	if baseURL == "" {
		return nil, goerr.New("timeline API URL is required")
	}

	t := &TimelineAPI{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AddItem creates a timeline item and returns the persisted record.
func (t *TimelineAPI) AddItem(ctx context.Context, item *model.TimelineItem) (*model.TimelineItem, error) {
	var created model.TimelineItem
	if err := t.call(ctx, http.MethodPost, "/v1/timeline/items", item, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// PatchItemMetadata merges the given metadata into a timeline item.
func (t *TimelineAPI) PatchItemMetadata(ctx context.Context, itemID string, metadata map[string]any) error {
	body := map[string]any{"metadata": metadata}
	return t.call(ctx, http.MethodPatch, "/v1/timeline/items/"+itemID, body, nil)
}

// Messages fetches the message inbox of an agent, most recent first.
func (t *TimelineAPI) Messages(ctx context.Context, agentID model.AgentID) ([]*model.Message, error) {
	var out struct {
		Messages []*model.Message `json:"messages"`
	}
	if err := t.call(ctx, http.MethodGet, "/v1/a2a/agents/"+string(agentID)+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// SendMessage stores a directed message.
func (t *TimelineAPI) SendMessage(ctx context.Context, msg *model.Message) error {
	return t.call(ctx, http.MethodPost, "/v1/a2a/messages", msg, nil)
}

// RegisterAgent registers an agent identity. Registration is idempotent on
// the service side, so calling it at every startup is safe.
func (t *TimelineAPI) RegisterAgent(ctx context.Context, agent *model.Agent) error {
	return t.call(ctx, http.MethodPost, "/v1/a2a/agents", agent, nil)
}

func (t *TimelineAPI) call(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reqBody)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(err, "timeline API request failed", goerr.V("path", path))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return goerr.New("timeline API returned error",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode timeline API response", goerr.V("path", path))
	}
	return nil
}
