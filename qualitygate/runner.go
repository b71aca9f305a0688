// Package qualitygate integrates the external quality-scoring tool. The tool
// is handed a list of project full names and a credential, runs as a
// subprocess, and writes one row of nine 0/1 dimensions per project into its
// own SQLite result store, which this package reads back and upserts into the
// pipeline database.
package qualitygate

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"repoharvest/logger"
	"repoharvest/models"
)

const (
	repoURLsFile   = "repo_urls"
	tokensFile     = "tokens.py"
	resultsDBFile  = "repo_quester.db"
	initializeFile = "initialize.sh"
	runFile        = "run.sh"
)

// Store abstracts the database operations needed by the runner
// (for testability)
type Store interface {
	GetProjectsWithoutQualityGate(ctx context.Context) ([]models.Project, error)
	UpsertQualityGateResult(ctx context.Context, projectID int, dims models.QualityDimensions) (models.QualityGateResult, error)
}

// Runner evaluates all active projects that lack a quality gate row.
type Runner struct {
	store   Store
	toolDir string
	token   string

	// execute is swappable in tests; the default stages input, runs the
	// tool's init and run scripts, and reads its SQLite result store.
	execute func(ctx context.Context, projects []models.Project) (map[string]models.QualityDimensions, error)
}

// NewRunner creates a quality gate runner. toolDir is the tool installation
// directory; token is the API credential handed to the tool.
func NewRunner(store Store, toolDir, token string) *Runner {
	r := &Runner{store: store, toolDir: toolDir, token: token}
	r.execute = r.runTool
	return r
}

// HasPendingWork reports whether any active project still needs evaluation.
func (r *Runner) HasPendingWork(ctx context.Context) (bool, error) {
	pending, err := r.store.GetProjectsWithoutQualityGate(ctx)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// Run evaluates every pending project in one tool invocation and upserts the
// per-project results. The summary is complete even when some projects could
// not be imported.
func (r *Runner) Run(ctx context.Context) (models.QualityGateSummary, error) {
	summary := models.QualityGateSummary{}

	pending, err := r.store.GetProjectsWithoutQualityGate(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list pending projects: %w", err)
	}
	if len(pending) == 0 {
		logger.Info("All projects already have a quality gate result")
		return summary, nil
	}
	summary.Total = len(pending)
	logger.Info("Starting quality gate run", zap.Int("pending", len(pending)))

	results, err := r.execute(ctx, pending)
	if err != nil {
		return summary, fmt.Errorf("quality gate tool run failed: %w", err)
	}

	byFullName := make(map[string]models.Project, len(pending))
	for _, p := range pending {
		byFullName[p.FullName] = p
	}

	for fullName, dims := range results {
		project, ok := byFullName[fullName]
		if !ok {
			logger.Warn("Quality tool returned unknown project", zap.String("full_name", fullName))
			continue
		}
		result, err := r.store.UpsertQualityGateResult(ctx, project.ID, dims)
		if err != nil {
			summary.Errors = append(summary.Errors, models.ItemError{
				Item:  fullName,
				Error: err.Error(),
			})
			continue
		}
		if result.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	logger.Info("Quality gate run complete",
		zap.Int("total", summary.Total),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// runTool stages the input files into a scratch copy of the tool directory,
// runs the tool's initialize and run scripts, and reads the results back from
// its SQLite store. The copy keeps run artifacts out of the installation.
func (r *Runner) runTool(ctx context.Context, projects []models.Project) (map[string]models.QualityDimensions, error) {
	scratch, err := os.MkdirTemp("", "qualitygate_run_")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	workDir := filepath.Join(scratch, "tool")
	if err := copyTree(r.toolDir, workDir); err != nil {
		return nil, fmt.Errorf("failed to stage tool copy: %w", err)
	}

	var names []string
	for _, p := range projects {
		names = append(names, p.FullName)
	}
	if err := os.WriteFile(filepath.Join(workDir, repoURLsFile), []byte(strings.Join(names, "\n")+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write project list: %w", err)
	}
	tokens := fmt.Sprintf("TOKENS = [%q]\n", r.token)
	if err := os.WriteFile(filepath.Join(workDir, tokensFile), []byte(tokens), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write token file: %w", err)
	}

	for _, script := range []string{initializeFile, runFile} {
		cmd := exec.CommandContext(ctx, "bash", script)
		cmd.Dir = workDir
		var stderr strings.Builder
		cmd.Stderr = &stderr
		logger.Info("Running quality tool script", zap.String("script", script))
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("script %s failed: %w: %s", script, err, stderr.String())
		}
	}

	return readResults(filepath.Join(workDir, resultsDBFile))
}

// readResults reads one row of nine dimensions per project from the tool's
// SQLite result store.
func readResults(dbPath string) (map[string]models.QualityDimensions, error) {
	conn, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open tool result store: %w", err)
	}
	defer conn.Close()

	type resultRow struct {
		FullName string `db:"full_name"`
		models.QualityDimensions
	}

	var rows []resultRow
	query := `
		SELECT full_name,
			community, continuous_integration, documentation,
			history, management, license, unit_test, pull, releases
		FROM repoquester_results
	`
	if err := conn.Select(&rows, query); err != nil {
		return nil, fmt.Errorf("failed to read tool results: %w", err)
	}

	results := make(map[string]models.QualityDimensions, len(rows))
	for _, row := range rows {
		results[row.FullName] = row.QualityDimensions
	}
	return results, nil
}

// copyTree copies a directory tree, preserving the executable bit on scripts.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		defer out.Close()
		_, err = io.Copy(out, in)
		return err
	})
}
