package analysis

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"repoharvest/config"
	"repoharvest/logger"
	"repoharvest/models"
)

// ToolRunner runs the external static-analysis tool as a subprocess. It
// clones the repository at the exact commit, invokes the language-appropriate
// analyzer with an input and output directory, parses every CSV file the tool
// produced into one named result bucket, and cleans up the workspace.
type ToolRunner struct {
	cfg *config.Config
}

// NewToolRunner creates a subprocess-backed Runner.
func NewToolRunner(cfg *config.Config) *ToolRunner {
	return &ToolRunner{cfg: cfg}
}

// Analyze implements Runner.
func (r *ToolRunner) Analyze(ctx context.Context, project models.Project, version models.Version) (models.ResultsPayload, error) {
	if err := os.MkdirAll(r.cfg.WorkspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}
	workDir, err := os.MkdirTemp(r.cfg.WorkspaceDir, fmt.Sprintf("analysis_%d_", version.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	repoDir := filepath.Join(workDir, "repo")
	outputDir := filepath.Join(workDir, "output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := r.cloneAt(ctx, project.FullName, version.CommitSHA, repoDir); err != nil {
		return nil, err
	}
	if err := r.runAnalyzer(ctx, project.Language, repoDir, outputDir); err != nil {
		return nil, err
	}
	return parseOutput(outputDir)
}

// cloneAt checks out the repository at the exact commit the version recorded,
// not whatever the branch points at today.
func (r *ToolRunner) cloneAt(ctx context.Context, fullName, sha, repoDir string) error {
	cloneURL := fmt.Sprintf("https://github.com/%s.git", fullName)
	logger.Info("Cloning repository",
		zap.String("full_name", fullName),
		zap.String("sha", shortSHA(sha)))

	if err := runCommand(ctx, "", "git", "clone", "--depth=1", cloneURL, repoDir); err != nil {
		return fmt.Errorf("clone failed: %w", err)
	}
	if err := runCommand(ctx, repoDir, "git", "fetch", "--depth=1", "origin", sha); err != nil {
		return fmt.Errorf("fetch of %s failed: %w", shortSHA(sha), err)
	}
	if err := runCommand(ctx, repoDir, "git", "checkout", sha); err != nil {
		return fmt.Errorf("checkout of %s failed: %w", shortSHA(sha), err)
	}
	return nil
}

func (r *ToolRunner) runAnalyzer(ctx context.Context, language models.Language, repoDir, outputDir string) error {
	switch language {
	case models.LanguageJava:
		return runCommand(ctx, "", r.cfg.JavaExecutable,
			"-jar", r.cfg.AnalyzerJavaJar, "-i", repoDir, "-o", outputDir)
	case models.LanguagePython:
		return runCommand(ctx, "", r.cfg.AnalyzerPython,
			"analyze", "-i", repoDir, "-o", outputDir)
	default:
		return fmt.Errorf("no analyzer for language %q", language)
	}
}

// parseOutput maps every CSV file under outputDir to one named result bucket,
// parsed row-wise into string-keyed records. A file that fails to parse
// yields an empty bucket rather than failing the whole analysis.
func parseOutput(outputDir string) (models.ResultsPayload, error) {
	results := models.ResultsPayload{}

	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return nil
		}
		key := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		rows, parseErr := parseCSV(path)
		if parseErr != nil {
			logger.Warn("Failed to parse tool output file",
				zap.String("file", d.Name()),
				zap.Error(parseErr))
			results[key] = []map[string]string{}
			return nil
		}
		results[key] = rows
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool output: %w", err)
	}

	if len(results) == 0 {
		logger.Warn("No CSV output files found", zap.String("dir", outputDir))
	}
	return results, nil
}

func parseCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []map[string]string{}, nil
	}

	header := records[0]
	// Tools on Windows tend to emit a UTF-8 BOM before the first header cell.
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(header))
		for i, name := range header {
			name = strings.TrimSpace(name)
			if name == "" || i >= len(record) {
				continue
			}
			row[name] = strings.TrimSpace(record[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// runCommand runs a subprocess and returns an error carrying the stderr tail
// on a non-zero exit.
func runCommand(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	logger.Debug("Running command",
		zap.String("cmd", name+" "+strings.Join(args, " ")),
		zap.String("dir", dir))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, tail(stderr.String(), 1000))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
