package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repoharvest/models"
)

// defaultQualityThreshold is the minimum number of non-zero dimensions for a
// project to pass the quality gate.
const defaultQualityThreshold = 5

// UpsertQualityGateResult inserts or wholly replaces the quality gate row for
// a project. Score and passed are derived here from the nine submitted
// dimension values, never trusted from the caller, so they can never drift
// from the raw dimensions.
func (db *DB) UpsertQualityGateResult(ctx context.Context, projectID int, dims models.QualityDimensions) (models.QualityGateResult, error) {
	if projectID == 0 {
		return models.QualityGateResult{}, fmt.Errorf("%w: project id cannot be empty", ErrInvalidInput)
	}

	score := 0
	for _, v := range dims.Values() {
		if v > 0 {
			score++
		}
	}
	threshold := db.qualityThreshold
	if threshold == 0 {
		threshold = defaultQualityThreshold
	}
	passed := score >= threshold
	runAt := time.Now().UTC()

	query := `
		INSERT INTO quality_gates (
			project_id, run_at,
			community, continuous_integration, documentation,
			history, management, license, unit_test, pull, releases,
			score, passed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (project_id) DO UPDATE SET
			run_at                 = EXCLUDED.run_at,
			community              = EXCLUDED.community,
			continuous_integration = EXCLUDED.continuous_integration,
			documentation          = EXCLUDED.documentation,
			history                = EXCLUDED.history,
			management             = EXCLUDED.management,
			license                = EXCLUDED.license,
			unit_test              = EXCLUDED.unit_test,
			pull                   = EXCLUDED.pull,
			releases               = EXCLUDED.releases,
			score                  = EXCLUDED.score,
			passed                 = EXCLUDED.passed
	`

	_, err := db.conn.ExecContext(ctx, query,
		projectID, runAt,
		dims.Community, dims.ContinuousIntegration, dims.Documentation,
		dims.History, dims.Management, dims.License,
		dims.UnitTest, dims.Pull, dims.Releases,
		score, passed,
	)
	if err != nil {
		return models.QualityGateResult{}, fmt.Errorf("failed to upsert quality gate for project %d: %w", projectID, err)
	}

	safeLogInfo("Quality gate saved",
		zap.Int("project_id", projectID),
		zap.Int("score", score),
		zap.Bool("passed", passed))

	return models.QualityGateResult{
		ProjectID:         projectID,
		RunAt:             runAt,
		QualityDimensions: dims,
		Score:             score,
		Passed:            passed,
	}, nil
}

// GetProjectsWithoutQualityGate returns active projects that have never been
// evaluated, ordered by full_name.
func (db *DB) GetProjectsWithoutQualityGate(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	query := `
		SELECT p.id, p.full_name, p.owner, p.repo_name, p.language, p.is_active, p.added_at
		FROM projects p
		LEFT JOIN quality_gates qg ON qg.project_id = p.id
		WHERE p.is_active = TRUE
		  AND qg.id IS NULL
		ORDER BY p.full_name
	`
	if err := db.conn.SelectContext(ctx, &projects, query); err != nil {
		return nil, fmt.Errorf("failed to get projects without quality gate: %w", err)
	}
	return projects, nil
}

// ProjectPassedQualityGate reports whether a project passed the gate. The
// second return is false when the gate has not been run yet.
func (db *DB) ProjectPassedQualityGate(ctx context.Context, projectID int) (passed, evaluated bool, err error) {
	if projectID == 0 {
		return false, false, fmt.Errorf("%w: project id cannot be empty", ErrInvalidInput)
	}

	err = db.conn.GetContext(ctx, &passed,
		`SELECT passed FROM quality_gates WHERE project_id = $1`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to check quality gate for project %d: %w", projectID, err)
	}
	return passed, true, nil
}
