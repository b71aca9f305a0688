package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoharvest/github"
	"repoharvest/logger"
	"repoharvest/models"
)

func init() {
	// Initialize logger for tests
	_ = logger.Initialize("debug")
}

// fakeStore is an in-memory Store double.
type fakeStore struct {
	projects    []models.Project
	upserted    []models.Project
	versions    map[string]models.Version // keyed by project_id/sha
	listErr     error
	upsertErr   error
	insertErr   error
	nextVersion int
}

func newFakeStore(projects ...models.Project) *fakeStore {
	return &fakeStore{projects: projects, versions: map[string]models.Version{}}
}

func (s *fakeStore) GetActiveProjects(ctx context.Context) ([]models.Project, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.projects, nil
}

func (s *fakeStore) UpsertProject(ctx context.Context, project models.Project) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserted = append(s.upserted, project)
	if project.ID != 0 {
		return project.ID, nil
	}
	return len(s.upserted), nil
}

func (s *fakeStore) InsertVersionIfNew(ctx context.Context, version models.Version) (int, bool, error) {
	if s.insertErr != nil {
		return 0, false, s.insertErr
	}
	key := fmt.Sprintf("%d/%s", version.ProjectID, version.CommitSHA)
	if _, ok := s.versions[key]; ok {
		return 0, false, nil
	}
	s.nextVersion++
	version.ID = s.nextVersion
	s.versions[key] = version
	return version.ID, true, nil
}

// fakeClient is a canned Client double.
type fakeClient struct {
	metadata    map[string]*github.RepoMetadata
	commits     map[string]*github.CommitInfo // keyed by owner/name@branch
	metadataErr map[string]error
}

func (c *fakeClient) FetchRepoMetadata(ctx context.Context, fullName string) (*github.RepoMetadata, error) {
	if err := c.metadataErr[fullName]; err != nil {
		return nil, err
	}
	meta, ok := c.metadata[fullName]
	if !ok {
		return nil, github.ErrNotFound
	}
	return meta, nil
}

func (c *fakeClient) FetchHeadCommit(ctx context.Context, owner, name, branch string) (*github.CommitInfo, error) {
	commit, ok := c.commits[fmt.Sprintf("%s/%s@%s", owner, name, branch)]
	if !ok {
		return nil, github.ErrNotFound
	}
	return commit, nil
}

func widgetFixtures() (*fakeStore, *fakeClient) {
	store := newFakeStore(models.Project{
		ID:       1,
		FullName: "acme/widget",
		Owner:    "acme",
		RepoName: "widget",
		Language: models.LanguageUnknown,
		IsActive: true,
	})
	client := &fakeClient{
		metadata: map[string]*github.RepoMetadata{
			"acme/widget": {
				FullName:      "acme/widget",
				Owner:         "acme",
				RepoName:      "widget",
				Language:      "Python",
				DefaultBranch: "main",
				Stars:         100,
				UpdatedAt:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		commits: map[string]*github.CommitInfo{
			"acme/widget@main": {
				SHA:         "abc123abc123abc123abc123abc123abc123abcd",
				Message:     "initial",
				CommittedAt: time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC),
				AuthorName:  "Jo Dev",
			},
		},
		metadataErr: map[string]error{},
	}
	return store, client
}

func TestRunRecordsNewVersion(t *testing.T) {
	store, client := widgetFixtures()
	coordinator := NewCoordinator(store, client)

	summary, err := coordinator.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.NewVersions)
	assert.Equal(t, 0, summary.Skipped)
	assert.Empty(t, summary.Errors)

	// language detected from metadata
	require.Len(t, store.upserted, 1)
	assert.Equal(t, models.LanguagePython, store.upserted[0].Language)

	// version recorded with the branch from the metadata call
	require.Len(t, store.versions, 1)
	for _, v := range store.versions {
		assert.Equal(t, "abc123abc123abc123abc123abc123abc123abcd", v.CommitSHA)
		assert.Equal(t, "main", v.DefaultBranch)
		assert.Equal(t, 100, v.Metadata["stars"])
	}
}

func TestRunIsIdempotentAcrossReRuns(t *testing.T) {
	store, client := widgetFixtures()
	coordinator := NewCoordinator(store, client)

	first, err := coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.NewVersions)

	// same head commit on the second pass
	second, err := coordinator.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewVersions)
	assert.Equal(t, 1, second.Skipped)
	assert.Len(t, store.versions, 1, "re-observing the same commit must not add a row")
}

func TestRunIsolatesPerProjectFailures(t *testing.T) {
	store, client := widgetFixtures()
	store.projects = append(store.projects, models.Project{
		ID:       2,
		FullName: "acme/broken",
		Owner:    "acme",
		RepoName: "broken",
		IsActive: true,
	})
	client.metadataErr["acme/broken"] = fmt.Errorf("boom")

	coordinator := NewCoordinator(store, client)
	summary, err := coordinator.Run(context.Background())
	require.NoError(t, err, "one project's failure must not abort the batch")

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.NewVersions)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "acme/broken", summary.Errors[0].Item)
	assert.Contains(t, summary.Errors[0].Error, "boom")
}

func TestRunFailsOnSystemicError(t *testing.T) {
	store, client := widgetFixtures()
	store.listErr = fmt.Errorf("store unreachable")

	coordinator := NewCoordinator(store, client)
	_, err := coordinator.Run(context.Background())
	assert.Error(t, err)
}

func TestHasPendingWork(t *testing.T) {
	store, client := widgetFixtures()
	coordinator := NewCoordinator(store, client)

	ok, err := coordinator.HasPendingWork(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	store.projects = nil
	ok, err = coordinator.HasPendingWork(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
