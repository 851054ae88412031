package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"tweetcast/internal/config"
	"tweetcast/internal/services"
)

const (
	stageName          = "twitter"
	defaultBaseURL     = "https://api.twitter.com/2"
	defaultMaxResults  = 50
	threadMaxResults   = 100
	apiMinResults      = 5
	apiMaxResults      = 100
	defaultHTTPTimeout = 30 * time.Second
	tweetFields        = "created_at,public_metrics,author_id,conversation_id,referenced_tweets,in_reply_to_user_id"
)

var statusIDPattern = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// Client talks to the v2 API with an app bearer token.
type Client struct {
	baseURL    string
	token      string
	maxResults int
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client from the twitter config section.
func NewClient(cfg config.Twitter, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      strings.TrimSpace(cfg.BearerToken),
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	if client.maxResults <= 0 {
		client.maxResults = defaultMaxResults
	}
	return client
}

// StatusError reports a non-2xx API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitter api: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Fetch gathers posts for q. Thread fetches are returned oldest first; other
// kinds keep the API's newest-first order.
func (c *Client) Fetch(ctx context.Context, q Query) ([]Tweet, error) {
	if c.token == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "fetch", "bearer token not configured", nil)
	}
	value := strings.TrimSpace(q.Value)
	switch q.Kind {
	case SourceTimeline:
		owner := value
		if owner == "" {
			owner = q.Owner
		}
		return c.userTimeline(ctx, owner, q)
	case SourceUsername:
		return c.userTimeline(ctx, value, q)
	case SourceHashtag:
		tag := strings.TrimPrefix(value, "#")
		if tag == "" {
			return nil, services.NewValidationError("twitter query", []string{"hashtag is empty"})
		}
		search := "#" + tag
		if q.ExcludeRetweets {
			search += " -is:retweet"
		}
		if q.ExcludeReplies {
			search += " -is:reply"
		}
		return c.search(ctx, search, c.limit(q.MaxResults), q.Start, q.End)
	case SourceURL:
		return c.thread(ctx, value)
	default:
		return nil, services.NewValidationError("twitter query", []string{fmt.Sprintf("unsupported source kind %q", q.Kind)})
	}
}

func (c *Client) userTimeline(ctx context.Context, username string, q Query) ([]Tweet, error) {
	user, err := c.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(c.limit(q.MaxResults)))
	params.Set("tweet.fields", tweetFields)
	var exclude []string
	if q.ExcludeRetweets {
		exclude = append(exclude, "retweets")
	}
	if q.ExcludeReplies {
		exclude = append(exclude, "replies")
	}
	if len(exclude) > 0 {
		params.Set("exclude", strings.Join(exclude, ","))
	}
	setWindow(params, q.Start, q.End)

	var resp listResponse
	if err := c.get(ctx, "timeline", "/users/"+url.PathEscape(user.ID)+"/tweets", params, &resp); err != nil {
		return nil, err
	}
	users := map[string]string{user.ID: user.Username}
	for id, name := range userIndex(resp.Includes.Users) {
		users[id] = name
	}
	return convertAll(resp.Data, users), nil
}

func (c *Client) lookupUser(ctx context.Context, username string) (*apiUser, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, services.NewValidationError("twitter query", []string{"username is empty"})
	}
	var resp userResponse
	if err := c.get(ctx, "lookup user", "/users/by/username/"+url.PathEscape(username), nil, &resp); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return nil, services.NotFound(stageName, "user", username)
		}
		return nil, err
	}
	if resp.Data == nil {
		return nil, services.NotFound(stageName, "user", username)
	}
	return resp.Data, nil
}

func (c *Client) search(ctx context.Context, query string, limit int, start, end *time.Time) ([]Tweet, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(limit))
	params.Set("tweet.fields", tweetFields)
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username")
	setWindow(params, start, end)

	var resp listResponse
	if err := c.get(ctx, "search", "/tweets/search/recent", params, &resp); err != nil {
		return nil, err
	}
	return convertAll(resp.Data, userIndex(resp.Includes.Users)), nil
}

func (c *Client) thread(ctx context.Context, rawURL string) ([]Tweet, error) {
	id, err := StatusID(rawURL)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("tweet.fields", tweetFields)
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username")
	var root singleTweetResponse
	if err := c.get(ctx, "get tweet", "/tweets/"+url.PathEscape(id), params, &root); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return nil, services.NotFound(stageName, "tweet", id)
		}
		return nil, err
	}
	if root.Data == nil {
		return nil, services.NotFound(stageName, "tweet", id)
	}
	conversation := root.Data.ConversationID
	if conversation == "" {
		conversation = id
	}

	replies, err := c.search(ctx, "conversation_id:"+conversation, threadMaxResults, nil, nil)
	if err != nil {
		return nil, err
	}
	rootTweet := root.Data.convert(userIndex(root.Includes.Users))
	thread := []Tweet{rootTweet}
	for _, tweet := range replies {
		if tweet.ID != rootTweet.ID {
			thread = append(thread, tweet)
		}
	}
	slices.SortStableFunc(thread, func(a, b Tweet) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return thread, nil
}

// StatusID extracts the numeric post id from a status URL. A bare id is
// accepted as-is.
func StatusID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && strings.Trim(raw, "0123456789") == "" {
		return raw, nil
	}
	if match := statusIDPattern.FindStringSubmatch(raw); len(match) == 2 {
		return match[1], nil
	}
	return "", services.NewValidationError("twitter query", []string{fmt.Sprintf("no status id in %q", raw)})
}

func (c *Client) limit(requested int) int {
	limit := requested
	if limit <= 0 {
		limit = c.maxResults
	}
	return min(max(limit, apiMinResults), apiMaxResults)
}

func setWindow(params url.Values, start, end *time.Time) {
	if start != nil && !start.IsZero() {
		params.Set("start_time", start.UTC().Format(time.RFC3339))
	}
	if end != nil && !end.IsZero() {
		params.Set("end_time", end.UTC().Format(time.RFC3339))
	}
}

func convertAll(data []apiTweet, users map[string]string) []Tweet {
	tweets := make([]Tweet, 0, len(data))
	for _, t := range data {
		tweets = append(tweets, t.convert(users))
	}
	return tweets
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrCollaborator, stageName, op, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Collaborator(stageName, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return services.Collaborator(stageName, op, fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.Collaborator(stageName, op, &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)})
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.Collaborator(stageName, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func snippet(body []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
