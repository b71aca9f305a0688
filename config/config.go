package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// GitHub API
	GitHubTokens    []string
	GitHubAPIBase   string
	APIMaxRetries   int
	APIRetryBackoff time.Duration

	// Analyzer tools
	WorkspaceDir    string
	AnalyzerJavaJar string
	JavaExecutable  string
	AnalyzerPython  string

	// Quality gate tool
	QualityGateDir       string
	QualityGateThreshold int

	LogLevel string
}

// NewConfig creates a new Config instance
func NewConfig() *Config {
	return &Config{}
}

// Load loads configuration from environment variables
func (c *Config) Load() error {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// Read .env file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Tokens are optional: with none configured the client runs anonymously
	// against a far smaller quota.
	if raw := viper.GetString("GITHUB_TOKENS"); raw != "" {
		for _, tok := range strings.Split(raw, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				c.GitHubTokens = append(c.GitHubTokens, tok)
			}
		}
	} else if tok := viper.GetString("GITHUB_TOKEN"); tok != "" {
		c.GitHubTokens = []string{tok}
	}

	c.GitHubAPIBase = viper.GetString("GITHUB_API_BASE")
	if c.GitHubAPIBase == "" {
		c.GitHubAPIBase = "https://api.github.com"
	}

	c.APIMaxRetries = viper.GetInt("GITHUB_API_MAX_RETRIES")
	if c.APIMaxRetries == 0 {
		c.APIMaxRetries = 5
	}

	c.APIRetryBackoff = viper.GetDuration("GITHUB_API_RETRY_BACKOFF")
	if c.APIRetryBackoff == 0 {
		c.APIRetryBackoff = 2 * time.Second
	}

	c.WorkspaceDir = viper.GetString("WORKSPACE_DIR")
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = "workspace"
	}

	c.AnalyzerJavaJar = viper.GetString("ANALYZER_JAVA_JAR")
	if c.AnalyzerJavaJar == "" {
		c.AnalyzerJavaJar = "/opt/designite/DesigniteJava.jar"
	}

	c.JavaExecutable = viper.GetString("JAVA_EXECUTABLE")
	if c.JavaExecutable == "" {
		c.JavaExecutable = "java"
	}

	c.AnalyzerPython = viper.GetString("ANALYZER_PYTHON_BIN")
	if c.AnalyzerPython == "" {
		c.AnalyzerPython = "/opt/designite/DPy"
	}

	c.QualityGateDir = viper.GetString("QUALITYGATE_DIR")
	if c.QualityGateDir == "" {
		c.QualityGateDir = "/opt/repoquester"
	}

	c.QualityGateThreshold = viper.GetInt("QUALITY_GATE_THRESHOLD")
	if c.QualityGateThreshold == 0 {
		c.QualityGateThreshold = 5
	}

	c.LogLevel = viper.GetString("LOG_LEVEL")
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	return nil
}
