// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Language is the detected primary language of a project. Only languages with
// a static-analysis backend are distinguished; everything else is unknown.
type Language string

const (
	LanguageJava    Language = "java"
	LanguagePython  Language = "python"
	LanguageUnknown Language = "unknown"
)

// LanguageFromGitHub maps the raw GitHub API "language" field to a Language.
func LanguageFromGitHub(value string) Language {
	switch strings.ToLower(value) {
	case "java":
		return LanguageJava
	case "python":
		return LanguagePython
	default:
		return LanguageUnknown
	}
}

// Analyzable reports whether a static-analysis backend exists for the language.
func (l Language) Analyzable() bool {
	return l == LanguageJava || l == LanguagePython
}

// AnalysisStatus is the lifecycle state of an analysis run.
type AnalysisStatus string

const (
	StatusPending AnalysisStatus = "pending"
	StatusRunning AnalysisStatus = "running"
	StatusSuccess AnalysisStatus = "success"
	StatusFailed  AnalysisStatus = "failed"
	StatusSkipped AnalysisStatus = "skipped"
)

// Terminal reports whether no further transition occurs from this status.
// Pending and running rows left behind by a crashed worker are retryable.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// Project is a GitHub repository tracked by the pipeline. Rows are added by
// seeding and never deleted, only deactivated.
type Project struct {
	ID       int       `db:"id" json:"id"`
	FullName string    `db:"full_name" json:"full_name"`
	Owner    string    `db:"owner" json:"owner"`
	RepoName string    `db:"repo_name" json:"repo_name"`
	Language Language  `db:"language" json:"language"`
	IsActive bool      `db:"is_active" json:"is_active"`
	AddedAt  time.Time `db:"added_at" json:"added_at"`
}

// ProjectFromFullName constructs a Project from an "owner/repo" string.
func ProjectFromFullName(fullName string) (Project, error) {
	parts := strings.SplitN(strings.TrimSpace(fullName), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Project{}, fmt.Errorf("invalid full name %q: expected owner/repo_name", fullName)
	}
	return Project{
		FullName: parts[0] + "/" + parts[1],
		Owner:    parts[0],
		RepoName: parts[1],
		Language: LanguageUnknown,
		IsActive: true,
		AddedAt:  time.Now().UTC(),
	}, nil
}

// Version is one observed state of a project: the head commit of the default
// branch at ingestion time. Rows are immutable once written, which is what
// makes trend analysis over time possible.
type Version struct {
	ID            int             `db:"id" json:"id"`
	ProjectID     int             `db:"project_id" json:"project_id"`
	CommitSHA     string          `db:"commit_sha" json:"commit_sha"`
	CommitMessage string          `db:"commit_message" json:"commit_message"`
	CommittedAt   time.Time       `db:"committed_at" json:"committed_at"`
	DiscoveredAt  time.Time       `db:"discovered_at" json:"discovered_at"`
	DefaultBranch string          `db:"default_branch" json:"default_branch"`
	Metadata      MetadataPayload `db:"metadata" json:"metadata"`
}

// Analysis is the result of one static-analysis run over a Version. At most
// one row exists per version; re-runs update the row in place.
type Analysis struct {
	ID           int            `db:"id" json:"id"`
	VersionID    int            `db:"version_id" json:"version_id"`
	ProjectID    int            `db:"project_id" json:"project_id"`
	Status       AnalysisStatus `db:"status" json:"status"`
	StartedAt    *time.Time     `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time     `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string        `db:"error_message" json:"error_message,omitempty"`
	Results      ResultsPayload `db:"results" json:"results"`
}

// QualityDimensions are the nine independently scored quality metrics
// produced by the quality-scoring tool. Each value is 0 or 1.
type QualityDimensions struct {
	Community             float64 `db:"community" json:"community"`
	ContinuousIntegration float64 `db:"continuous_integration" json:"continuous_integration"`
	Documentation         float64 `db:"documentation" json:"documentation"`
	History               float64 `db:"history" json:"history"`
	Management            float64 `db:"management" json:"management"`
	License               float64 `db:"license" json:"license"`
	UnitTest              float64 `db:"unit_test" json:"unit_test"`
	Pull                  float64 `db:"pull" json:"pull"`
	Releases              float64 `db:"releases" json:"releases"`
}

// Values returns the nine dimension values in their canonical column order.
func (d QualityDimensions) Values() []float64 {
	return []float64{
		d.Community, d.ContinuousIntegration, d.Documentation,
		d.History, d.Management, d.License,
		d.UnitTest, d.Pull, d.Releases,
	}
}

// QualityGateResult is the per-project quality gate row. Score and Passed are
// derived from the dimensions at write time, never trusted from the caller.
type QualityGateResult struct {
	ID        int       `db:"id" json:"id"`
	ProjectID int       `db:"project_id" json:"project_id"`
	RunAt     time.Time `db:"run_at" json:"run_at"`
	QualityDimensions
	Score  int  `db:"score" json:"score"`
	Passed bool `db:"passed" json:"passed"`
}

// ItemError describes one failed item inside an otherwise successful batch.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// IngestionSummary is returned from every ingestion run, complete even when
// individual projects failed.
type IngestionSummary struct {
	Processed   int         `json:"processed"`
	NewVersions int         `json:"new_versions"`
	Skipped     int         `json:"skipped"`
	Errors      []ItemError `json:"errors"`
}

// AnalysisSummary is returned from every analysis batch run.
type AnalysisSummary struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Errors    []ItemError `json:"errors"`
}

// QualityGateSummary is returned from every quality gate batch run.
type QualityGateSummary struct {
	Total  int         `json:"total"`
	Passed int         `json:"passed"`
	Failed int         `json:"failed"`
	Errors []ItemError `json:"errors"`
}
