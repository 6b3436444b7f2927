package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/model"
)

var (
	// ErrRateLimited marks a transient fetch failure; retry from the same
	// cursor after the standard interval.
	ErrRateLimited = goerr.New("feed rate limited")

	// ErrThrottled marks the "service unavailable / payment required" class;
	// retry from the same cursor after the extended backoff.
	ErrThrottled = goerr.New("feed throttled")
)

// ReplyLimit is the feed's hard length cap for reply text, in runes.
const ReplyLimit = 280

const defaultXBaseURL = "https://api.x.com"

// Feed is the external mention feed consumed by the listener loop.
type Feed interface {
	// Me returns the authenticated account's user ID
	Me(ctx context.Context) (string, error)

	// Mentions fetches mentions of the user created at or after since
	Mentions(ctx context.Context, userID string, since time.Time) ([]*model.Mention, error)

	// Thread fetches recent posts of a conversation, oldest first
	Thread(ctx context.Context, conversationID string) ([]*model.Post, error)

	// Reply posts a reply to the given post. Text beyond ReplyLimit runes
	// is truncated, not rejected.
	Reply(ctx context.Context, postID, text string) error
}

// XClient is a thin client for the X API v2.
type XClient struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
}

type XOption func(*XClient)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) XOption {
	return func(x *XClient) {
		x.baseURL = baseURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) XOption {
	return func(x *XClient) {
		x.httpClient = c
	}
}

// NewX creates an X API client authenticated with a bearer token.
func NewX(bearerToken string, opts ...XOption) (*XClient, error) {
	if bearerToken == "" {
		return nil, goerr.New("bearer token is required")
	}

	x := &XClient{
		baseURL:     defaultXBaseURL,
		bearerToken: bearerToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

type xPost struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (p *xPost) toModel() *model.Post {
	return &model.Post{
		ID:             p.ID,
		Text:           p.Text,
		AuthorID:       p.AuthorID,
		ConversationID: p.ConversationID,
		CreatedAt:      p.CreatedAt,
	}
}

func (x *XClient) Me(ctx context.Context) (string, error) {
	var out struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := x.call(ctx, http.MethodGet, "/2/users/me", nil, nil, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", goerr.New("feed returned no authenticated user")
	}
	return out.Data.ID, nil
}

func (x *XClient) Mentions(ctx context.Context, userID string, since time.Time) ([]*model.Mention, error) {
	query := url.Values{
		"tweet.fields": []string{"created_at,conversation_id,author_id"},
		"start_time":   []string{since.UTC().Format(time.RFC3339)},
	}

	var out struct {
		Data []*xPost `json:"data"`
	}
	if err := x.call(ctx, http.MethodGet, "/2/users/"+userID+"/mentions", query, nil, &out); err != nil {
		return nil, err
	}

	mentions := make([]*model.Mention, 0, len(out.Data))
	for _, p := range out.Data {
		mentions = append(mentions, p.toModel())
	}
	return mentions, nil
}

func (x *XClient) Thread(ctx context.Context, conversationID string) ([]*model.Post, error) {
	query := url.Values{
		"query":        []string{"conversation_id:" + conversationID},
		"tweet.fields": []string{"created_at,author_id"},
	}

	var out struct {
		Data []*xPost `json:"data"`
	}
	if err := x.call(ctx, http.MethodGet, "/2/tweets/search/recent", query, nil, &out); err != nil {
		return nil, err
	}

	posts := make([]*model.Post, 0, len(out.Data))
	for _, p := range out.Data {
		posts = append(posts, p.toModel())
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.Before(posts[j].CreatedAt)
	})
	return posts, nil
}

func (x *XClient) Reply(ctx context.Context, postID, text string) error {
	body := map[string]any{
		"text": TruncateReply(text),
		"reply": map[string]any{
			"in_reply_to_tweet_id": postID,
		},
	}
	return x.call(ctx, http.MethodPost, "/2/tweets", nil, body, nil)
}

// TruncateReply caps reply text at ReplyLimit runes.
func TruncateReply(text string) string {
	runes := []rune(text)
	if len(runes) <= ReplyLimit {
		return text
	}
	return string(runes[:ReplyLimit-1]) + "…"
}

func (x *XClient) call(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := x.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request body")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	req.Header.Set("Authorization", "Bearer "+x.bearerToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(ErrRateLimited, "feed request failed", goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// ok
	case resp.StatusCode == http.StatusTooManyRequests:
		return goerr.Wrap(ErrRateLimited, "feed rate limit hit", goerr.V("path", path))
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusServiceUnavailable:
		return goerr.Wrap(ErrThrottled, "feed throttled", goerr.V("path", path), goerr.V("status", resp.StatusCode))
	default:
		raw, _ := io.ReadAll(resp.Body)
		return goerr.New("feed returned error",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode feed response", goerr.V("path", path))
	}
	return nil
}
