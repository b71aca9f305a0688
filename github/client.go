package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"repoharvest/logger"
)

const (
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"

	acceptHeader     = "application/vnd.github+json"
	apiVersionHeader = "2022-11-28"
)

// RepoMetadata is the read-only projection of a repository API response. The
// full raw payload is retained in Extra for forward compatibility.
type RepoMetadata struct {
	FullName      string
	Owner         string
	RepoName      string
	Language      string
	DefaultBranch string
	Description   string
	IsFork        bool
	IsArchived    bool
	Stars         int
	Forks         int
	OpenIssues    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Extra         map[string]any
}

// CommitInfo is the read-only projection of a commit API response.
type CommitInfo struct {
	SHA         string
	Message     string // first line only
	CommittedAt time.Time
	AuthorName  string
	AuthorEmail string
}

// Client performs authenticated GET requests against the GitHub REST API,
// rotating credentials on quota exhaustion and retrying transient failures
// with exponential backoff.
type Client struct {
	pool       *Pool
	httpClient *http.Client
	baseURL    *url.URL
	maxRetries int
	backoff    time.Duration

	// sleep is swappable in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client backed by the given credential pool.
func NewClient(pool *Pool, apiBase string, maxRetries int, backoff time.Duration) (*Client, error) {
	baseURL, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", apiBase, err)
	}
	logger.Info("Initializing GitHub client",
		zap.String("base_url", baseURL.String()),
		zap.Int("credentials", pool.Size()),
		zap.Int("max_retries", maxRetries))
	return &Client{
		pool: pool,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    baseURL,
		maxRetries: maxRetries,
		backoff:    backoff,
		sleep:      sleepCtx,
	}, nil
}

// FetchRepoMetadata fetches repository-level metadata for "owner/repo".
func (c *Client) FetchRepoMetadata(ctx context.Context, fullName string) (*RepoMetadata, error) {
	logger.Info("Fetching repository metadata", zap.String("full_name", fullName))

	var payload struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
		Language        string `json:"language"`
		DefaultBranch   string `json:"default_branch"`
		Description     string `json:"description"`
		Fork            bool   `json:"fork"`
		Archived        bool   `json:"archived"`
		StargazersCount int    `json:"stargazers_count"`
		ForksCount      int    `json:"forks_count"`
		OpenIssuesCount int    `json:"open_issues_count"`
		CreatedAt       string `json:"created_at"`
		UpdatedAt       string `json:"updated_at"`
	}

	body, err := c.get(ctx, "/repos/"+fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository %s: %w", fullName, err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: repository %s: %v", ErrMalformedResponse, fullName, err)
	}

	var extra map[string]any
	if err := json.Unmarshal(body, &extra); err != nil {
		return nil, fmt.Errorf("%w: repository %s: %v", ErrMalformedResponse, fullName, err)
	}

	createdAt, err := parseTimestamp(payload.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: repository %s: %v", ErrMalformedResponse, fullName, err)
	}
	updatedAt, err := parseTimestamp(payload.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: repository %s: %v", ErrMalformedResponse, fullName, err)
	}

	meta := &RepoMetadata{
		FullName:      payload.FullName,
		Owner:         payload.Owner.Login,
		RepoName:      payload.Name,
		Language:      payload.Language,
		DefaultBranch: payload.DefaultBranch,
		Description:   payload.Description,
		IsFork:        payload.Fork,
		IsArchived:    payload.Archived,
		Stars:         payload.StargazersCount,
		Forks:         payload.ForksCount,
		OpenIssues:    payload.OpenIssuesCount,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
		Extra:         extra,
	}

	logger.Info("Successfully fetched repository metadata",
		zap.String("full_name", fullName),
		zap.String("language", meta.Language),
		zap.String("default_branch", meta.DefaultBranch),
		zap.Int("stars", meta.Stars))
	return meta, nil
}

// FetchHeadCommit fetches the HEAD commit of the given branch. The committer
// date is the canonical timestamp, matching git log's default ordering.
func (c *Client) FetchHeadCommit(ctx context.Context, owner, name, branch string) (*CommitInfo, error) {
	logger.Info("Fetching head commit",
		zap.String("owner", owner),
		zap.String("name", name),
		zap.String("branch", branch))

	var payload struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"author"`
			Committer struct {
				Date string `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}

	path := fmt.Sprintf("/repos/%s/%s/commits/%s", owner, name, branch)
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head commit for %s/%s@%s: %w", owner, name, branch, err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: commit %s/%s@%s: %v", ErrMalformedResponse, owner, name, branch, err)
	}

	committedAt, err := parseTimestamp(payload.Commit.Committer.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s/%s@%s: %v", ErrMalformedResponse, owner, name, branch, err)
	}

	message := payload.Commit.Message
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}

	info := &CommitInfo{
		SHA:         payload.SHA,
		Message:     message,
		CommittedAt: committedAt,
		AuthorName:  payload.Commit.Author.Name,
		AuthorEmail: payload.Commit.Author.Email,
	}

	logger.Info("Successfully fetched head commit",
		zap.String("sha", shortSHA(info.SHA)),
		zap.String("message", info.Message))
	return info, nil
}

// get performs one logical GET: credential selection, retrying transport,
// header ingestion, and credential rotation on quota exhaustion. Rotation is
// bounded to one attempt per configured credential plus one, so the worst
// case is "wait for the fastest-resetting credential", never "retry forever".
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	attempts := c.pool.Size() + 1
	for i := 0; i < attempts; i++ {
		cred, err := c.pool.Select(ctx)
		if err != nil {
			return nil, err
		}

		resp, body, err := c.doWithRetry(ctx, path, cred)
		if err != nil {
			return nil, err
		}

		switch classify(resp) {
		case outcomeOK:
			return body, nil
		case outcomeQuotaExhausted:
			// The header value may be stale; zero the credential outright.
			c.pool.MarkExhausted(cred.Token)
			logger.Warn("credential quota exhausted, rotating",
				zap.String("token", tokenSuffix(cred.Token)),
				zap.String("path", path),
				zap.Int("status_code", resp.StatusCode))
		case outcomeRetryableServer:
			return nil, fmt.Errorf("%w: %s: status code %d", ErrRetriesExhausted, path, resp.StatusCode)
		default:
			if resp.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			return nil, fmt.Errorf("%w: %s: status code %d", ErrRequestFailed, path, resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrQuotaExhausted, path)
}

// doWithRetry issues the request, retrying transport failures and retryable
// 5xx responses with exponential backoff. Rate-limit headers are pushed into
// the pool on every received response, success included. This layer is
// oblivious to rate limiting; quota statuses are dispatched by the caller.
func (c *Client) doWithRetry(ctx context.Context, path string, cred *Credential) (*http.Response, []byte, error) {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	var lastErr error
	delay := c.backoff
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, delay); err != nil {
				return nil, nil, err
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}
		if !cred.Anonymous() {
			req.Header.Set("Authorization", "Bearer "+cred.Token)
		}
		req.Header.Set("Accept", acceptHeader)
		req.Header.Set("X-GitHub-Api-Version", apiVersionHeader)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("transport failure, will retry",
				zap.Error(err),
				zap.String("path", path),
				zap.Int("attempt", attempt))
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		c.ingestRateHeaders(cred, resp)

		if classify(resp) == outcomeRetryableServer && attempt < c.maxRetries {
			logger.Warn("server error, will retry",
				zap.Int("status_code", resp.StatusCode),
				zap.String("path", path),
				zap.Int("attempt", attempt))
			continue
		}
		return resp, body, nil
	}
	return nil, nil, fmt.Errorf("%w: %s: %v", ErrRetriesExhausted, path, lastErr)
}

// ingestRateHeaders pushes the response's rate-limit headers into the pool.
func (c *Client) ingestRateHeaders(cred *Credential, resp *http.Response) {
	remainingRaw := resp.Header.Get(headerRateRemaining)
	resetRaw := resp.Header.Get(headerRateReset)
	if remainingRaw == "" || resetRaw == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingRaw)
	if err != nil {
		return
	}
	resetEpoch, err := strconv.ParseInt(resetRaw, 10, 64)
	if err != nil {
		return
	}
	c.pool.Update(cred.Token, remaining, time.Unix(resetEpoch, 0))
}

// parseTimestamp parses the provider's ISO-8601 variant (trailing "Z" for
// UTC included) and normalizes to UTC.
func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t.UTC(), nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
