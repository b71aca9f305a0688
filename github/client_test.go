package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverURL string, pool *Pool) *Client {
	t.Helper()
	baseURL, err := url.Parse(serverURL)
	require.NoError(t, err)
	return &Client{
		pool:       pool,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		maxRetries: 3,
		backoff:    time.Millisecond,
		sleep:      func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func rateHeaders(w http.ResponseWriter, remaining int, reset time.Time) {
	w.Header().Set(headerRateRemaining, fmt.Sprintf("%d", remaining))
	w.Header().Set(headerRateReset, fmt.Sprintf("%d", reset.Unix()))
}

func TestFetchRepoMetadata(t *testing.T) {
	reset := time.Now().Add(time.Hour).Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, acceptHeader, r.Header.Get("Accept"))
		assert.Equal(t, apiVersionHeader, r.Header.Get("X-GitHub-Api-Version"))

		rateHeaders(w, 4321, reset)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"full_name": "acme/widget",
			"name": "widget",
			"owner": {"login": "acme"},
			"language": "Python",
			"default_branch": "main",
			"description": "a widget",
			"fork": false,
			"archived": true,
			"stargazers_count": 100,
			"forks_count": 10,
			"open_issues_count": 5,
			"created_at": "2020-01-02T03:04:05Z",
			"updated_at": "2024-06-07T08:09:10Z"
		}`)
	}))
	defer server.Close()

	pool := NewPool([]string{"test-token"})
	client := newTestClient(t, server.URL, pool)

	meta, err := client.FetchRepoMetadata(context.Background(), "acme/widget")
	require.NoError(t, err)

	assert.Equal(t, "acme/widget", meta.FullName)
	assert.Equal(t, "acme", meta.Owner)
	assert.Equal(t, "widget", meta.RepoName)
	assert.Equal(t, "Python", meta.Language)
	assert.Equal(t, "main", meta.DefaultBranch)
	assert.True(t, meta.IsArchived)
	assert.False(t, meta.IsFork)
	assert.Equal(t, 100, meta.Stars)
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC), meta.CreatedAt)
	// full raw payload retained
	assert.Equal(t, "a widget", meta.Extra["description"])

	// rate-limit headers ingested on a successful response too
	assert.Equal(t, 4321, pool.creds[0].Remaining)
	assert.Equal(t, reset.Unix(), pool.creds[0].ResetAt.Unix())
}

func TestFetchHeadCommit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/commits/main", r.URL.Path)
		rateHeaders(w, 4000, time.Now().Add(time.Hour))
		fmt.Fprint(w, `{
			"sha": "abc123abc123abc123abc123abc123abc123abcd",
			"commit": {
				"message": "Fix the flux capacitor\n\nLonger body here.",
				"author": {"name": "Jo Dev", "email": "jo@example.com"},
				"committer": {"date": "2024-03-04T05:06:07Z"}
			}
		}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, NewPool([]string{"test-token"}))

	commit, err := client.FetchHeadCommit(context.Background(), "acme", "widget", "main")
	require.NoError(t, err)

	assert.Equal(t, "abc123abc123abc123abc123abc123abc123abcd", commit.SHA)
	assert.Equal(t, "Fix the flux capacitor", commit.Message, "only the first line is kept")
	assert.Equal(t, time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC), commit.CommittedAt)
	assert.Equal(t, "Jo Dev", commit.AuthorName)
	assert.Equal(t, "jo@example.com", commit.AuthorEmail)
}

func TestGetNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 4000, time.Now().Add(time.Hour))
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, NewPool([]string{"test-token"}))

	_, err := client.FetchRepoMetadata(context.Background(), "acme/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetForbiddenWithQuotaLeftIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rateHeaders(w, 1000, time.Now().Add(time.Hour))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, NewPool([]string{"test-token"}))

	_, err := client.FetchRepoMetadata(context.Background(), "acme/private")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 4000, time.Now().Add(time.Hour))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"full_name":"acme/widget","name":"widget","owner":{"login":"acme"},
			"default_branch":"main","created_at":"2020-01-01T00:00:00Z","updated_at":"2020-01-01T00:00:00Z"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, NewPool([]string{"test-token"}))

	meta, err := client.FetchRepoMetadata(context.Background(), "acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", meta.FullName)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 4000, time.Now().Add(time.Hour))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, NewPool([]string{"test-token"}))

	_, err := client.FetchRepoMetadata(context.Background(), "acme/widget")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestGetRotatesCredentialOnQuotaExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer tok-first" {
			rateHeaders(w, 0, time.Now().Add(time.Hour))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		rateHeaders(w, 3000, time.Now().Add(time.Hour))
		fmt.Fprint(w, `{"full_name":"acme/widget","name":"widget","owner":{"login":"acme"},
			"default_branch":"main","created_at":"2020-01-01T00:00:00Z","updated_at":"2020-01-01T00:00:00Z"}`)
	}))
	defer server.Close()

	pool := NewPool([]string{"tok-first", "tok-second"})
	// tok-first is preferred initially
	pool.Update("tok-first", 5000, time.Now().Add(time.Hour))
	pool.Update("tok-second", 4000, time.Now().Add(time.Hour))

	client := newTestClient(t, server.URL, pool)

	meta, err := client.FetchRepoMetadata(context.Background(), "acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "acme/widget", meta.FullName)

	// the exhausted credential was zeroed immediately
	assert.Equal(t, 0, pool.creds[0].Remaining)
}

func TestGetAllCredentialsExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rateHeaders(w, 0, time.Now().Add(time.Hour))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	pool := NewPool([]string{"tok-a", "tok-b"})
	pool.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	client := newTestClient(t, server.URL, pool)

	_, err := client.FetchRepoMetadata(context.Background(), "acme/widget")
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestClassify(t *testing.T) {
	mkResp := func(status int, remaining string) *http.Response {
		h := http.Header{}
		if remaining != "" {
			h.Set(headerRateRemaining, remaining)
		}
		return &http.Response{StatusCode: status, Header: h}
	}

	testCases := []struct {
		name      string
		status    int
		remaining string
		expected  outcome
	}{
		{"ok", http.StatusOK, "100", outcomeOK},
		{"created", http.StatusCreated, "100", outcomeOK},
		{"too many requests", http.StatusTooManyRequests, "50", outcomeQuotaExhausted},
		{"forbidden with zero quota", http.StatusForbidden, "0", outcomeQuotaExhausted},
		{"forbidden with quota left", http.StatusForbidden, "50", outcomeNonRetryable},
		{"internal server error", http.StatusInternalServerError, "100", outcomeRetryableServer},
		{"bad gateway", http.StatusBadGateway, "100", outcomeRetryableServer},
		{"service unavailable", http.StatusServiceUnavailable, "100", outcomeRetryableServer},
		{"gateway timeout", http.StatusGatewayTimeout, "100", outcomeRetryableServer},
		{"not found", http.StatusNotFound, "100", outcomeNonRetryable},
		{"unauthorized", http.StatusUnauthorized, "100", outcomeNonRetryable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, classify(mkResp(tc.status, tc.remaining)))
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Run("trailing Z normalizes to UTC", func(t *testing.T) {
		ts, err := parseTimestamp("2024-01-02T03:04:05Z")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)
	})

	t.Run("offset form normalizes to UTC", func(t *testing.T) {
		ts, err := parseTimestamp("2024-01-02T05:04:05+02:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := parseTimestamp("not-a-timestamp")
		assert.Error(t, err)
	})
}
