package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"repoharvest/models"
)

// UpsertProject inserts a project row, or updates language/is_active if one
// already exists for the same full_name. Everything else, the surrogate id
// included, is preserved on conflict. Returns the row's durable id.
func (db *DB) UpsertProject(ctx context.Context, project models.Project) (int, error) {
	if project.FullName == "" || project.Owner == "" || project.RepoName == "" {
		return 0, fmt.Errorf("%w: project full name, owner and repo name cannot be empty", ErrInvalidInput)
	}

	query := `
		INSERT INTO projects (full_name, owner, repo_name, language, is_active, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (full_name) DO UPDATE SET
			language  = EXCLUDED.language,
			is_active = EXCLUDED.is_active
		RETURNING id
	`

	var id int
	err := db.conn.GetContext(ctx, &id, query,
		project.FullName, project.Owner, project.RepoName,
		project.Language, project.IsActive, project.AddedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert project %s: %w", project.FullName, err)
	}

	safeLogInfo("Project upserted",
		zap.String("full_name", project.FullName),
		zap.String("language", string(project.Language)),
		zap.Int("id", id))
	return id, nil
}

// GetActiveProjects returns all projects where is_active = TRUE, ordered by
// full_name.
func (db *DB) GetActiveProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	query := `
		SELECT id, full_name, owner, repo_name, language, is_active, added_at
		FROM projects
		WHERE is_active = TRUE
		ORDER BY full_name
	`
	if err := db.conn.SelectContext(ctx, &projects, query); err != nil {
		return nil, fmt.Errorf("failed to get active projects: %w", err)
	}
	return projects, nil
}

// GetProjectByFullName retrieves a project by its natural key.
func (db *DB) GetProjectByFullName(ctx context.Context, fullName string) (*models.Project, error) {
	if fullName == "" {
		return nil, fmt.Errorf("%w: project full name cannot be empty", ErrInvalidInput)
	}

	var project models.Project
	query := `
		SELECT id, full_name, owner, repo_name, language, is_active, added_at
		FROM projects
		WHERE full_name = $1
	`
	if err := db.conn.GetContext(ctx, &project, query, fullName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, fullName)
		}
		return nil, fmt.Errorf("failed to get project %s: %w", fullName, err)
	}
	return &project, nil
}

// GetProjectByID retrieves a project by its surrogate id.
func (db *DB) GetProjectByID(ctx context.Context, id int) (*models.Project, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: project id cannot be empty", ErrInvalidInput)
	}

	var project models.Project
	query := `
		SELECT id, full_name, owner, repo_name, language, is_active, added_at
		FROM projects
		WHERE id = $1
	`
	if err := db.conn.GetContext(ctx, &project, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id=%d", ErrProjectNotFound, id)
		}
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	return &project, nil
}

// DeactivateProject flags a project as inactive. Projects are never deleted.
func (db *DB) DeactivateProject(ctx context.Context, fullName string) error {
	if fullName == "" {
		return fmt.Errorf("%w: project full name cannot be empty", ErrInvalidInput)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE projects SET is_active = FALSE WHERE full_name = $1`, fullName)
	if err != nil {
		return fmt.Errorf("failed to deactivate project %s: %w", fullName, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, fullName)
	}

	safeLogInfo("Project deactivated", zap.String("full_name", fullName))
	return nil
}
