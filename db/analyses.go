package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"repoharvest/models"
)

// pqUniqueViolation is the Postgres error code for a unique constraint hit.
const pqUniqueViolation = "23505"

// CreateAnalysis creates an analysis row in pending status and returns its
// id. A second create for the same version fails loudly with
// ErrAnalysisExists: the unique constraint is the mechanism that stops two
// racing processes from both claiming the same version.
func (db *DB) CreateAnalysis(ctx context.Context, versionID, projectID int) (int, error) {
	if versionID == 0 || projectID == 0 {
		return 0, fmt.Errorf("%w: version id and project id cannot be empty", ErrInvalidInput)
	}

	query := `
		INSERT INTO analyses (version_id, project_id, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int
	err := db.conn.GetContext(ctx, &id, query, versionID, projectID, models.StatusPending)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return 0, fmt.Errorf("%w: version_id=%d", ErrAnalysisExists, versionID)
		}
		return 0, fmt.Errorf("failed to create analysis for version %d: %w", versionID, err)
	}

	safeLogInfo("Analysis created",
		zap.Int("analysis_id", id),
		zap.Int("version_id", versionID))
	return id, nil
}

// UpdateAnalysisStarted marks an analysis as running and records the start
// timestamp.
func (db *DB) UpdateAnalysisStarted(ctx context.Context, analysisID int) error {
	return db.updateAnalysis(ctx, analysisID,
		`UPDATE analyses SET status = $1, started_at = $2 WHERE id = $3`,
		models.StatusRunning, time.Now().UTC(), analysisID)
}

// UpdateAnalysisSuccess marks an analysis as succeeded and persists the
// parsed results payload.
func (db *DB) UpdateAnalysisSuccess(ctx context.Context, analysisID int, results models.ResultsPayload) error {
	return db.updateAnalysis(ctx, analysisID,
		`UPDATE analyses SET status = $1, finished_at = $2, results = $3 WHERE id = $4`,
		models.StatusSuccess, time.Now().UTC(), results, analysisID)
}

// UpdateAnalysisFailed marks an analysis as failed and stores the error text.
func (db *DB) UpdateAnalysisFailed(ctx context.Context, analysisID int, errorMessage string) error {
	return db.updateAnalysis(ctx, analysisID,
		`UPDATE analyses SET status = $1, finished_at = $2, error_message = $3 WHERE id = $4`,
		models.StatusFailed, time.Now().UTC(), errorMessage, analysisID)
}

// MarkAnalysisSkipped records a terminal skipped row for a version that has
// no analysis backend, so the work queue never re-offers it.
func (db *DB) MarkAnalysisSkipped(ctx context.Context, versionID, projectID int, reason string) error {
	if versionID == 0 || projectID == 0 {
		return fmt.Errorf("%w: version id and project id cannot be empty", ErrInvalidInput)
	}

	query := `
		INSERT INTO analyses (version_id, project_id, status, finished_at, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version_id) DO NOTHING
	`
	_, err := db.conn.ExecContext(ctx, query,
		versionID, projectID, models.StatusSkipped, time.Now().UTC(), reason)
	if err != nil {
		return fmt.Errorf("failed to mark analysis skipped for version %d: %w", versionID, err)
	}

	safeLogInfo("Analysis skipped",
		zap.Int("version_id", versionID),
		zap.String("reason", reason))
	return nil
}

// AnalysisExistsForVersion reports whether a terminal analysis (success,
// failed or skipped) already exists for the version. Pending and running
// rows are ignored so that crashed workers can be retried: at-least-once
// retry, at-most-once success.
func (db *DB) AnalysisExistsForVersion(ctx context.Context, versionID int) (bool, error) {
	if versionID == 0 {
		return false, fmt.Errorf("%w: version id cannot be empty", ErrInvalidInput)
	}

	var count int
	query := `
		SELECT COUNT(*)
		FROM analyses
		WHERE version_id = $1
		  AND status IN ($2, $3, $4)
	`
	err := db.conn.GetContext(ctx, &count, query, versionID,
		models.StatusSuccess, models.StatusFailed, models.StatusSkipped)
	if err != nil {
		return false, fmt.Errorf("failed to check analysis for version %d: %w", versionID, err)
	}
	return count > 0, nil
}

func (db *DB) updateAnalysis(ctx context.Context, analysisID int, query string, args ...any) error {
	if analysisID == 0 {
		return fmt.Errorf("%w: analysis id cannot be empty", ErrInvalidInput)
	}

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update analysis %d: %w", analysisID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: id=%d", ErrAnalysisNotFound, analysisID)
	}
	return nil
}
