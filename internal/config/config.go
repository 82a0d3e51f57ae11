// Package config loads and persists the pipeline configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// PipelineDirName is the directory under the project root that owns all
// persisted pipeline state (symbol tables, orders, checkpoints, journal).
const PipelineDirName = ".rustport"

// Config represents the complete rustport configuration
type Config struct {
	Version     int      `json:"version" mapstructure:"version"`
	ProjectRoot string   `json:"projectRoot" mapstructure:"projectRoot"`
	SourceRoots []string `json:"sourceRoots" mapstructure:"sourceRoots"`
	CrateDir    string   `json:"crateDir" mapstructure:"crateDir"`

	Scan      ScanConfig      `json:"scan" mapstructure:"scan"`
	Replace   ReplaceConfig   `json:"replace" mapstructure:"replace"`
	Transpile TranspileConfig `json:"transpile" mapstructure:"transpile"`
	Optimize  OptimizeConfig  `json:"optimize" mapstructure:"optimize"`
	Oracle    OracleConfig    `json:"oracle" mapstructure:"oracle"`
	Toolchain ToolchainConfig `json:"toolchain" mapstructure:"toolchain"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// ScanConfig controls symbol extraction
type ScanConfig struct {
	CompileCommands string   `json:"compileCommands" mapstructure:"compileCommands"`
	Ignore          []string `json:"ignore" mapstructure:"ignore"`
	MaxFileSizeKB   int      `json:"maxFileSizeKb" mapstructure:"maxFileSizeKb"`
}

// ReplaceConfig controls the library replacement evaluator
type ReplaceConfig struct {
	Denylist     []string `json:"denylist" mapstructure:"denylist"`
	EntrySymbols []string `json:"entrySymbols" mapstructure:"entrySymbols"`
	MaxRoots     int      `json:"maxRoots" mapstructure:"maxRoots"` // 0 = unlimited
}

// TranspileConfig controls the per-function transpile loop
type TranspileConfig struct {
	MaxRetries    int    `json:"maxRetries" mapstructure:"maxRetries"` // 0 = unlimited
	DefaultModule string `json:"defaultModule" mapstructure:"defaultModule"`
	RunTests      bool   `json:"runTests" mapstructure:"runTests"`
}

// OptimizeConfig controls the optimizer passes and budgets
type OptimizeConfig struct {
	Passes           []string `json:"passes" mapstructure:"passes"`
	BatchSize        int      `json:"batchSize" mapstructure:"batchSize"`
	MaxVerifications int      `json:"maxVerifications" mapstructure:"maxVerifications"`
	FixAttempts      int      `json:"fixAttempts" mapstructure:"fixAttempts"`
}

// OracleConfig configures the external code-generation oracle
type OracleConfig struct {
	BaseURL   string `json:"baseUrl" mapstructure:"baseUrl"`
	Model     string `json:"model" mapstructure:"model"`
	APIKeyEnv string `json:"apiKeyEnv" mapstructure:"apiKeyEnv"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// ToolchainConfig configures cargo invocations
type ToolchainConfig struct {
	CargoBin  string `json:"cargoBin" mapstructure:"cargoBin"`
	TimeoutMs int    `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Version:     1,
		ProjectRoot: ".",
		SourceRoots: []string{"."},
		CrateDir:    "", // derived from project dir name when empty
		Scan: ScanConfig{
			Ignore:        []string{"build", "cmake-build-debug", "third_party", "vendor"},
			MaxFileSizeKB: 2048,
		},
		Replace: ReplaceConfig{
			Denylist:     []string{},
			EntrySymbols: []string{"main"},
		},
		Transpile: TranspileConfig{
			MaxRetries:    5,
			DefaultModule: "src/ported/misc.rs",
			RunTests:      true,
		},
		Optimize: OptimizeConfig{
			Passes:           []string{"unsafe", "duplicates", "visibility", "docs"},
			BatchSize:        20,
			MaxVerifications: 200,
			FixAttempts:      2,
		},
		Oracle: OracleConfig{
			Model:     "gpt-4o",
			APIKeyEnv: "RUSTPORT_ORACLE_KEY",
			TimeoutMs: 120000,
		},
		Toolchain: ToolchainConfig{
			CargoBin:  "cargo",
			TimeoutMs: 300000,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// Load loads configuration from <projectRoot>/.rustport/config.json,
// falling back to defaults when no config file exists.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(projectRoot, PipelineDirName))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := Default()
			cfg.ProjectRoot = projectRoot
			return cfg, nil
		}
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.ProjectRoot == "" || cfg.ProjectRoot == "." {
		cfg.ProjectRoot = projectRoot
	}
	return cfg, nil
}

// Save writes the configuration to <projectRoot>/.rustport/config.json
func (c *Config) Save(projectRoot string) error {
	dir := filepath.Join(projectRoot, PipelineDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
}

// DataDir returns the pipeline state directory for the project
func (c *Config) DataDir() string {
	return filepath.Join(c.ProjectRoot, PipelineDirName)
}

// EffectiveCrateDir resolves the target crate directory. The default is a
// sibling "<project>-rs" layout inside the project root, matching the
// convention the transpiler expects.
func (c *Config) EffectiveCrateDir() string {
	if c.CrateDir != "" {
		return c.CrateDir
	}
	abs, err := filepath.Abs(c.ProjectRoot)
	if err != nil {
		abs = c.ProjectRoot
	}
	return filepath.Join(c.ProjectRoot, filepath.Base(abs)+"-rs")
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &Error{Field: "version", Message: "unsupported config version"}
	}
	if len(c.SourceRoots) == 0 {
		return &Error{Field: "sourceRoots", Message: "at least one source root is required"}
	}
	if c.Transpile.MaxRetries < 0 {
		return &Error{Field: "transpile.maxRetries", Message: "must be >= 0 (0 = unlimited)"}
	}
	if c.Optimize.BatchSize < 1 {
		return &Error{Field: "optimize.batchSize", Message: "must be >= 1"}
	}
	return nil
}

// Error represents a configuration error
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
