package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lherron/epicsync/internal/domain"
)

// ProjectConfigFile is the per-checkout config file, read from the working
// directory.
const ProjectConfigFile = ".epicsync.yaml"

// Defaults
const (
	DefaultMirrorDir           = "issues"
	DefaultSnapshotDir         = ".epicsync/snapshots"
	DefaultDBPath              = ".epicsync/epicsync.db"
	DefaultUnassignedComponent = "unassigned"
	DefaultMissingDirPolicy    = "auto-create"
	DefaultRequestsPerSecond   = 5
	DefaultLogLevel            = "info"
)

var projectKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Config represents the application configuration
type Config struct {
	Project      string `yaml:"project"`
	MirrorDir    string `yaml:"mirror_dir"`
	SnapshotDir  string `yaml:"snapshot_dir"`
	DBPath       string `yaml:"db_path"`
	TemplatesDir string `yaml:"templates_dir"`

	JiraURL   string `yaml:"jira_url"`
	JiraEmail string `yaml:"jira_email"`
	JiraToken string `yaml:"jira_token"`

	// ReadOnlyFields replaces the default read-only deny-list when set.
	ReadOnlyFields []string `yaml:"read_only_fields"`

	UnassignedComponent string  `yaml:"unassigned_component"`
	MissingDirPolicy    string  `yaml:"missing_dir_policy"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	LogLevel            string  `yaml:"log_level"`
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. explicitPath, when given
// 4. ./.epicsync.yaml
// 5. ~/.config/epicsync/config.yaml
// Anything still unset gets its default.
func Load(explicitPath string) (*Config, error) {
	cfg := &Config{RequestsPerSecond: -1}

	// Load .env.local if it exists (walking up parent directories)
	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	if home, err := os.UserHomeDir(); err == nil {
		if err := loadYAMLConfig(cfg, filepath.Join(home, ".config", "epicsync", "config.yaml"), false); err != nil {
			return nil, err
		}
	}
	if err := loadYAMLConfig(cfg, ProjectConfigFile, false); err != nil {
		return nil, err
	}
	if explicitPath != "" {
		if err := loadYAMLConfig(cfg, explicitPath, true); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// loadYAMLConfig overlays the keys present in a YAML file onto cfg. A missing
// file is only an error when required.
func loadYAMLConfig(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := []struct {
		env string
		dst *string
	}{
		{"EPICSYNC_PROJECT", &cfg.Project},
		{"EPICSYNC_MIRROR_DIR", &cfg.MirrorDir},
		{"EPICSYNC_SNAPSHOT_DIR", &cfg.SnapshotDir},
		{"EPICSYNC_TEMPLATES_DIR", &cfg.TemplatesDir},
		{"EPICSYNC_JIRA_URL", &cfg.JiraURL},
		{"EPICSYNC_JIRA_EMAIL", &cfg.JiraEmail},
		{"EPICSYNC_UNASSIGNED_COMPONENT", &cfg.UnassignedComponent},
		{"EPICSYNC_MISSING_DIR_POLICY", &cfg.MissingDirPolicy},
		{"EPICSYNC_LOG_LEVEL", &cfg.LogLevel},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	if dbPath := getEnvOrFile("EPICSYNC_DB_PATH", "EPICSYNC_DB_PATH_FILE"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if token := getEnvOrFile("EPICSYNC_JIRA_TOKEN", "EPICSYNC_JIRA_TOKEN_FILE"); token != "" {
		cfg.JiraToken = token
	}
	if fields := os.Getenv("EPICSYNC_READ_ONLY_FIELDS"); fields != "" {
		cfg.ReadOnlyFields = splitList(fields)
	}
	if rps := os.Getenv("EPICSYNC_REQUESTS_PER_SECOND"); rps != "" {
		v, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid EPICSYNC_REQUESTS_PER_SECOND %q: %w", rps, err)
		}
		cfg.RequestsPerSecond = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MirrorDir == "" {
		c.MirrorDir = DefaultMirrorDir
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = DefaultSnapshotDir
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.UnassignedComponent == "" {
		c.UnassignedComponent = DefaultUnassignedComponent
	}
	if c.MissingDirPolicy == "" {
		c.MissingDirPolicy = DefaultMissingDirPolicy
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks enumerations and names. Jira credentials are checked by
// the commands that need them.
func (c *Config) Validate() error {
	if c.Project != "" && !projectKeyRegex.MatchString(c.Project) {
		return fmt.Errorf("invalid project %q: must be an upper-case project key", c.Project)
	}
	switch c.MissingDirPolicy {
	case "auto-create", "fail":
	default:
		return fmt.Errorf("invalid missing_dir_policy %q: must be one of: auto-create, fail", c.MissingDirPolicy)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid requests_per_second %v: must not be negative", c.RequestsPerSecond)
	}
	if err := domain.ValidateComponentName(c.UnassignedComponent); err != nil {
		return fmt.Errorf("invalid unassigned_component: %w", err)
	}
	for _, f := range c.ReadOnlyFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("read_only_fields contains an empty name")
		}
	}
	return nil
}

// HasJira reports whether enough is configured to talk to Jira.
func (c *Config) HasJira() bool {
	return c.JiraURL != "" && c.JiraToken != ""
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log_level %q: must be one of: debug, info, warn, error", s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvOrFile gets an environment variable value, or reads it from a file
// if the _FILE variant is set
func getEnvOrFile(envVar, fileVar string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}

	if filePath := os.Getenv(fileVar); filePath != "" {
		data, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
// Returns the path to .env.local if found, empty string otherwise.
func findEnvLocal() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		if _, err := os.Stat(".env.local"); err == nil {
			return ".env.local"
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
