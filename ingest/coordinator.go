// Package ingest coordinates the recurring metadata ingestion pass: for each
// tracked project it fetches current repository metadata and the head commit
// of the default branch, then records them idempotently. One project's
// failure never aborts the batch; the scheduler always gets a full summary.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repoharvest/github"
	"repoharvest/logger"
	"repoharvest/models"
)

// Store abstracts the database operations needed by the coordinator
// (for testability)
type Store interface {
	GetActiveProjects(ctx context.Context) ([]models.Project, error)
	UpsertProject(ctx context.Context, project models.Project) (int, error)
	InsertVersionIfNew(ctx context.Context, version models.Version) (int, bool, error)
}

// Client abstracts the GitHub client operations needed by the coordinator
// (for testability)
type Client interface {
	FetchRepoMetadata(ctx context.Context, fullName string) (*github.RepoMetadata, error)
	FetchHeadCommit(ctx context.Context, owner, name, branch string) (*github.CommitInfo, error)
}

// Coordinator drives one ingestion pass over all active projects.
type Coordinator struct {
	store  Store
	client Client
}

// NewCoordinator creates an ingestion coordinator.
func NewCoordinator(store Store, client Client) *Coordinator {
	return &Coordinator{store: store, client: client}
}

// HasPendingWork reports whether at least one active project is tracked.
// Used by the scheduler to short-circuit empty runs.
func (c *Coordinator) HasPendingWork(ctx context.Context) (bool, error) {
	projects, err := c.store.GetActiveProjects(ctx)
	if err != nil {
		return false, err
	}
	return len(projects) > 0, nil
}

// Run ingests every active project and returns a complete summary even when
// individual projects failed. It errors out only on systemic failures, i.e.
// when the project list itself cannot be read.
func (c *Coordinator) Run(ctx context.Context) (models.IngestionSummary, error) {
	summary := models.IngestionSummary{}

	projects, err := c.store.GetActiveProjects(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list active projects: %w", err)
	}
	logger.Info("Starting ingestion run", zap.Int("projects", len(projects)))

	for _, project := range projects {
		isNew, err := c.processProject(ctx, project)
		if err != nil {
			logger.Error("Failed to ingest project",
				zap.String("full_name", project.FullName),
				zap.Error(err))
			summary.Errors = append(summary.Errors, models.ItemError{
				Item:  project.FullName,
				Error: err.Error(),
			})
			continue
		}
		summary.Processed++
		if isNew {
			summary.NewVersions++
		} else {
			summary.Skipped++
		}
	}

	logger.Info("Ingestion run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("new_versions", summary.NewVersions),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// processProject handles a single project: metadata first (the commit fetch
// depends on the default branch it reports), then the head commit, then the
// idempotent version insert. Returns whether a new version was recorded.
func (c *Coordinator) processProject(ctx context.Context, project models.Project) (bool, error) {
	meta, err := c.client.FetchRepoMetadata(ctx, project.FullName)
	if err != nil {
		return false, fmt.Errorf("metadata fetch: %w", err)
	}

	detected := models.LanguageFromGitHub(meta.Language)
	if detected != project.Language {
		logger.Info("Updating project language",
			zap.String("full_name", project.FullName),
			zap.String("from", string(project.Language)),
			zap.String("to", string(detected)))
	}
	project.Language = detected

	projectID, err := c.store.UpsertProject(ctx, project)
	if err != nil {
		return false, fmt.Errorf("project upsert: %w", err)
	}

	commit, err := c.client.FetchHeadCommit(ctx, project.Owner, project.RepoName, meta.DefaultBranch)
	if err != nil {
		return false, fmt.Errorf("head commit fetch: %w", err)
	}

	version := models.Version{
		ProjectID:     projectID,
		CommitSHA:     commit.SHA,
		CommitMessage: commit.Message,
		CommittedAt:   commit.CommittedAt,
		DiscoveredAt:  time.Now().UTC(),
		DefaultBranch: meta.DefaultBranch,
		Metadata: models.MetadataPayload{
			"description": meta.Description,
			"stars":       meta.Stars,
			"forks":       meta.Forks,
			"open_issues": meta.OpenIssues,
			"is_fork":     meta.IsFork,
			"is_archived": meta.IsArchived,
			"updated_at":  meta.UpdatedAt.Format(time.RFC3339),
		},
	}

	_, isNew, err := c.store.InsertVersionIfNew(ctx, version)
	if err != nil {
		return false, fmt.Errorf("version insert: %w", err)
	}
	return isNew, nil
}
