package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"repoharvest/models"
)

// InsertVersionIfNew inserts a version row only if the (project_id,
// commit_sha) pair has never been recorded. Re-observing a known commit is a
// no-op: it returns (0, false, nil) rather than an error, which is what lets
// two overlapping ingestion runs write blindly without double-recording
// history.
func (db *DB) InsertVersionIfNew(ctx context.Context, version models.Version) (int, bool, error) {
	if version.ProjectID == 0 || version.CommitSHA == "" {
		return 0, false, fmt.Errorf("%w: version project id and commit sha cannot be empty", ErrInvalidInput)
	}

	query := `
		INSERT INTO versions
			(project_id, commit_sha, commit_message, committed_at,
			 discovered_at, default_branch, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, commit_sha) DO NOTHING
		RETURNING id
	`

	var id int
	err := db.conn.GetContext(ctx, &id, query,
		version.ProjectID, version.CommitSHA, version.CommitMessage,
		version.CommittedAt, version.DiscoveredAt, version.DefaultBranch,
		version.Metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		safeLogInfo("Version already recorded, skipping",
			zap.Int("project_id", version.ProjectID),
			zap.String("sha", shortSHA(version.CommitSHA)))
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert version %s: %w", shortSHA(version.CommitSHA), err)
	}

	safeLogInfo("Recorded new version",
		zap.Int("project_id", version.ProjectID),
		zap.String("sha", shortSHA(version.CommitSHA)),
		zap.Int("id", id))
	return id, true, nil
}

// GetVersionsPendingAnalysis returns versions with no analysis row yet,
// oldest discovery first. This is the work queue for the lifecycle manager.
func (db *DB) GetVersionsPendingAnalysis(ctx context.Context) ([]models.Version, error) {
	var versions []models.Version
	query := `
		SELECT
			v.id, v.project_id, v.commit_sha, v.commit_message,
			v.committed_at, v.discovered_at, v.default_branch, v.metadata
		FROM versions v
		LEFT JOIN analyses a ON a.version_id = v.id
		WHERE a.id IS NULL
		ORDER BY v.discovered_at ASC
	`
	if err := db.conn.SelectContext(ctx, &versions, query); err != nil {
		return nil, fmt.Errorf("failed to get versions pending analysis: %w", err)
	}
	return versions, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
