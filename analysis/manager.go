// Package analysis drives a version through the analysis lifecycle:
//
//	(no row) --create--> pending --start--> running --success--> success
//	                                               \--failure--> failed
//	(no row, unsupported language) --skip--> skipped
//
// Success, failed and skipped are terminal. A pending or running row left
// behind by a crashed worker is treated as not-yet-done and retryable.
package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"repoharvest/logger"
	"repoharvest/models"
)

// Store abstracts the database operations needed by the manager
// (for testability)
type Store interface {
	GetVersionsPendingAnalysis(ctx context.Context) ([]models.Version, error)
	GetProjectByID(ctx context.Context, id int) (*models.Project, error)
	AnalysisExistsForVersion(ctx context.Context, versionID int) (bool, error)
	CreateAnalysis(ctx context.Context, versionID, projectID int) (int, error)
	UpdateAnalysisStarted(ctx context.Context, analysisID int) error
	UpdateAnalysisSuccess(ctx context.Context, analysisID int, results models.ResultsPayload) error
	UpdateAnalysisFailed(ctx context.Context, analysisID int, errorMessage string) error
	MarkAnalysisSkipped(ctx context.Context, versionID, projectID int, reason string) error
	ProjectPassedQualityGate(ctx context.Context, projectID int) (passed, evaluated bool, err error)
}

// Runner is the opaque collaborator that checks out a revision, runs the
// analysis tool, and returns the parsed results. It may be slow and it may
// fail; its only contract is "produce a structured result or error".
type Runner interface {
	Analyze(ctx context.Context, project models.Project, version models.Version) (models.ResultsPayload, error)
}

// Outcome describes what ProcessVersion did with one version.
type Outcome string

const (
	OutcomeDone     Outcome = "done"     // already analysed, idempotent no-op
	OutcomeSkipped  Outcome = "skipped"  // terminal skip recorded
	OutcomeDeferred Outcome = "deferred" // quality gate not evaluated yet, retried later
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
)

// Manager owns the lifecycle transitions for analysis runs.
type Manager struct {
	store  Store
	runner Runner
}

// NewManager creates a lifecycle manager delegating execution to runner.
func NewManager(store Store, runner Runner) *Manager {
	return &Manager{store: store, runner: runner}
}

// HasPendingWork reports whether any version awaits analysis.
func (m *Manager) HasPendingWork(ctx context.Context) (bool, error) {
	pending, err := m.store.GetVersionsPendingAnalysis(ctx)
	if err != nil {
		return false, err
	}
	return len(pending) > 0, nil
}

// Run processes every pending version, oldest discovery first, isolating
// per-version failures. The summary is complete even when items failed.
func (m *Manager) Run(ctx context.Context) (models.AnalysisSummary, error) {
	summary := models.AnalysisSummary{}

	pending, err := m.store.GetVersionsPendingAnalysis(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to list pending versions: %w", err)
	}
	logger.Info("Starting analysis run", zap.Int("pending", len(pending)))

	for _, version := range pending {
		project, err := m.store.GetProjectByID(ctx, version.ProjectID)
		if err != nil {
			summary.Errors = append(summary.Errors, models.ItemError{
				Item:  fmt.Sprintf("version %d", version.ID),
				Error: err.Error(),
			})
			continue
		}

		outcome, err := m.ProcessVersion(ctx, *project, version)
		if err != nil {
			logger.Error("Analysis failed",
				zap.String("full_name", project.FullName),
				zap.String("sha", shortSHA(version.CommitSHA)),
				zap.Error(err))
			summary.Errors = append(summary.Errors, models.ItemError{
				Item:  fmt.Sprintf("%s@%s", project.FullName, shortSHA(version.CommitSHA)),
				Error: err.Error(),
			})
		}

		switch outcome {
		case OutcomeSuccess:
			summary.Processed++
			summary.Succeeded++
		case OutcomeFailed:
			summary.Processed++
			summary.Failed++
		case OutcomeSkipped, OutcomeDone, OutcomeDeferred:
			summary.Skipped++
		}
	}

	logger.Info("Analysis run complete",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// ProcessVersion drives one version through the state machine. A failure
// during execution is durably recorded before the error is returned, so the
// record survives even if the caller crashes right after.
func (m *Manager) ProcessVersion(ctx context.Context, project models.Project, version models.Version) (Outcome, error) {
	done, err := m.store.AnalysisExistsForVersion(ctx, version.ID)
	if err != nil {
		return OutcomeDone, fmt.Errorf("analysis existence check: %w", err)
	}
	if done {
		logger.Info("Version already analysed, skipping",
			zap.String("full_name", project.FullName),
			zap.String("sha", shortSHA(version.CommitSHA)))
		return OutcomeDone, nil
	}

	if !project.Language.Analyzable() {
		logger.Warn("No analysis backend for language, skipping",
			zap.String("full_name", project.FullName),
			zap.String("language", string(project.Language)))
		if err := m.store.MarkAnalysisSkipped(ctx, version.ID, project.ID, "unsupported language: "+string(project.Language)); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeSkipped, nil
	}

	passed, evaluated, err := m.store.ProjectPassedQualityGate(ctx, project.ID)
	if err != nil {
		return OutcomeDeferred, fmt.Errorf("quality gate check: %w", err)
	}
	if !evaluated {
		// Not gated yet; leave the version pending for a later run.
		logger.Info("Quality gate not evaluated yet, deferring",
			zap.String("full_name", project.FullName))
		return OutcomeDeferred, nil
	}
	if !passed {
		logger.Info("Project failed quality gate, skipping analysis",
			zap.String("full_name", project.FullName))
		if err := m.store.MarkAnalysisSkipped(ctx, version.ID, project.ID, "failed quality gate"); err != nil {
			return OutcomeSkipped, err
		}
		return OutcomeSkipped, nil
	}

	analysisID, err := m.store.CreateAnalysis(ctx, version.ID, version.ProjectID)
	if err != nil {
		// A conflict here means another process claimed this version.
		return OutcomeDone, fmt.Errorf("analysis create: %w", err)
	}
	if err := m.store.UpdateAnalysisStarted(ctx, analysisID); err != nil {
		return OutcomeFailed, fmt.Errorf("analysis start: %w", err)
	}

	logger.Info("Starting analysis",
		zap.Int("analysis_id", analysisID),
		zap.String("full_name", project.FullName),
		zap.String("sha", shortSHA(version.CommitSHA)))

	results, runErr := m.runner.Analyze(ctx, project, version)
	if runErr != nil {
		if dbErr := m.store.UpdateAnalysisFailed(ctx, analysisID, runErr.Error()); dbErr != nil {
			return OutcomeFailed, fmt.Errorf("failed to record analysis failure: %v (analysis error: %w)", dbErr, runErr)
		}
		return OutcomeFailed, runErr
	}

	if err := m.store.UpdateAnalysisSuccess(ctx, analysisID, results); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to record analysis success: %w", err)
	}

	logger.Info("Analysis succeeded",
		zap.Int("analysis_id", analysisID),
		zap.Int("result_buckets", len(results)))
	return OutcomeSuccess, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
