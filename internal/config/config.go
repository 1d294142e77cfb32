// Package config provides unified configuration loading for funnelsim.
// It supports loading from YAML files, a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nvandessel/funnelsim/internal/constants"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "FUNNELSIM_"

// Config contains all funnelsim configuration settings.
type Config struct {
	// Experiment holds the simulation parameters.
	Experiment ExperimentConfig `json:"experiment" yaml:"experiment"`

	// Data selects where exogenous trial data comes from.
	Data DataConfig `json:"data" yaml:"data"`

	// Output controls reports, the run store and metrics export.
	Output OutputConfig `json:"output" yaml:"output"`

	// Logging contains settings for operational and trial logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// ExperimentConfig is the immutable parameter set of one run. It is built
// once at startup and passed by value to everything that needs it.
type ExperimentConfig struct {
	Users  int   `json:"users" yaml:"users" validate:"gt=0"`
	Items  int   `json:"items" yaml:"items" validate:"gt=0"`
	TopK   int   `json:"top_k" yaml:"top_k" validate:"gt=0"`
	Steps  int   `json:"steps" yaml:"steps" validate:"gt=0"`
	Trials int   `json:"trials" yaml:"trials" validate:"gt=0"`
	Seed   int64 `json:"seed" yaml:"seed"`

	// MaxConversions and MaxSteps cap the user state before scoring.
	// Both feed a division when deriving the decay rate, so they must be positive.
	MaxConversions int `json:"max_conversions" yaml:"max_conversions" validate:"gt=0"`
	MaxSteps       int `json:"max_steps" yaml:"max_steps" validate:"gt=0"`

	// Exponents are the per-stage powers of the propensity score.
	Exponents Exponents `json:"exponents" yaml:"exponents"`

	// Lambda weights the lookahead term; 0 selects the baseline policy.
	Lambda float64 `json:"lambda" yaml:"lambda"`

	// DecayEnabled scales stage probabilities by the propensity score.
	DecayEnabled bool `json:"decay" yaml:"decay"`

	// Parallelism bounds concurrently running trials. 0 uses GOMAXPROCS.
	Parallelism int `json:"parallelism" yaml:"parallelism" validate:"gte=0"`
}

// Exponents are the per-stage propensity exponents.
type Exponents struct {
	Stage1 float64 `json:"stage1" yaml:"stage1" validate:"gte=0"`
	Stage2 float64 `json:"stage2" yaml:"stage2" validate:"gte=0"`
	Stage3 float64 `json:"stage3" yaml:"stage3" validate:"gte=0"`
}

// DataConfig selects the trial data source.
type DataConfig struct {
	// Source is "csv" to read <dir>/user_{n}.csv and item_{n}.csv, or
	// "generated" to synthesize trial data in memory.
	Source string `json:"source" yaml:"source" validate:"oneof=csv generated"`

	// Dir holds the CSV files.
	Dir string `json:"dir" yaml:"dir" validate:"required"`

	// AllowSparse accepts (user, step) pairs with fewer than Items candidates.
	AllowSparse bool `json:"allow_sparse" yaml:"allow_sparse"`
}

// OutputConfig controls where results go.
type OutputConfig struct {
	// ResultsDir receives reports under decay_true/ and decay_false/.
	ResultsDir string `json:"results_dir" yaml:"results_dir" validate:"required"`

	// Format is the report encoding: "json" or "yaml".
	Format string `json:"format" yaml:"format" validate:"oneof=json yaml"`

	// Store records every run in the SQLite run store.
	Store bool `json:"store" yaml:"store"`

	// RecordSteps keeps per-step counters in trial results.
	RecordSteps bool `json:"record_steps" yaml:"record_steps"`

	// MetricsFile, if set, receives a Prometheus textfile after each run.
	MetricsFile string `json:"metrics_file,omitempty" yaml:"metrics_file,omitempty"`
}

// LoggingConfig configures funnelsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables trial logging to .funnelsim/trials.jsonl.
	// "trace" additionally logs per-step counters.
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=info debug trace"`
}

// ConfigurationError reports an invalid setting. It is raised before any
// trial runs and is fatal to the whole run.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Default returns a Config with the reference experiment parameters.
func Default() *Config {
	return &Config{
		Experiment: ExperimentConfig{
			Users:          constants.DefaultUsers,
			Items:          constants.DefaultItems,
			TopK:           constants.DefaultTopK,
			Steps:          constants.DefaultSteps,
			Trials:         constants.DefaultTrials,
			Seed:           constants.DefaultSeed,
			MaxConversions: constants.DefaultMaxConversions,
			MaxSteps:       constants.DefaultMaxSteps,
			Exponents: Exponents{
				Stage1: constants.DefaultStageExponent,
				Stage2: constants.DefaultStageExponent,
				Stage3: constants.DefaultStageExponent,
			},
			Lambda:       constants.DefaultLambda,
			DecayEnabled: true,
		},
		Data: DataConfig{
			Source: "csv",
			Dir:    constants.DefaultDataDir,
		},
		Output: OutputConfig{
			ResultsDir: constants.DefaultResultsDir,
			Format:     "json",
			Store:      true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns ~/.funnelsim/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, constants.StateDirName, "config.yaml"), nil
}

// Load loads configuration from a file, a .env file and environment variables.
// Order: defaults -> path (or ~/.funnelsim/config.yaml) -> .env -> FUNNELSIM_* variables.
// An explicit path must exist; the default path is optional.
func Load(path string) (*Config, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		_, statErr := os.Stat(path)
		if statErr == nil || explicit {
			fileConfig, err := LoadFromFile(path)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			config = fileConfig
		}
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Fields absent
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Data.Dir = expandEnvVars(config.Data.Dir)
	config.Output.ResultsDir = expandEnvVars(config.Output.ResultsDir)

	return config, nil
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML key so errors match `config get/set` keys.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration is valid. The first problem found
// is returned as a *ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return toConfigurationError(err, "")
	}
	return c.Experiment.checkFinite()
}

// Validate checks the experiment parameters alone. Runners call it so that a
// bad configuration fails before any trial starts.
func (e ExperimentConfig) Validate() error {
	if err := validate.Struct(e); err != nil {
		return toConfigurationError(err, "experiment")
	}
	return e.checkFinite()
}

func (e ExperimentConfig) checkFinite() error {
	if math.IsNaN(e.Lambda) || math.IsInf(e.Lambda, 0) {
		return &ConfigurationError{Field: "experiment.lambda", Reason: "must be finite"}
	}
	for _, x := range []struct {
		key string
		v   float64
	}{
		{"experiment.exponents.stage1", e.Exponents.Stage1},
		{"experiment.exponents.stage2", e.Exponents.Stage2},
		{"experiment.exponents.stage3", e.Exponents.Stage3},
	} {
		if math.IsNaN(x.v) || math.IsInf(x.v, 0) {
			return &ConfigurationError{Field: x.key, Reason: "must be finite"}
		}
	}
	return nil
}

func toConfigurationError(err error, prefix string) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fieldError(verrs[0], prefix)
	}
	return &ConfigurationError{Field: "config", Reason: err.Error()}
}

// fieldError converts a validator failure into a ConfigurationError keyed by
// the dotted YAML path.
func fieldError(fe validator.FieldError, prefix string) *ConfigurationError {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	if prefix != "" {
		field = prefix + "." + field
	}

	var reason string
	switch fe.Tag() {
	case "gt":
		reason = fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "gte":
		reason = fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "oneof":
		reason = fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "required":
		reason = "must be set"
	default:
		reason = fmt.Sprintf("failed %s validation", fe.Tag())
	}

	return &ConfigurationError{Field: field, Reason: reason}
}

// envKeys maps environment variable suffixes to configuration keys.
var envKeys = map[string]string{
	"USERS":           "experiment.users",
	"ITEMS":           "experiment.items",
	"TOP_K":           "experiment.top_k",
	"STEPS":           "experiment.steps",
	"TRIALS":          "experiment.trials",
	"SEED":            "experiment.seed",
	"MAX_CONVERSIONS": "experiment.max_conversions",
	"MAX_STEPS":       "experiment.max_steps",
	"LAMBDA":          "experiment.lambda",
	"DECAY":           "experiment.decay",
	"PARALLELISM":     "experiment.parallelism",
	"DATA_SOURCE":     "data.source",
	"DATA_DIR":        "data.dir",
	"RESULTS_DIR":     "output.results_dir",
	"FORMAT":          "output.format",
	"METRICS_FILE":    "output.metrics_file",
	"LOG_LEVEL":       "logging.level",
}

// applyEnvOverrides applies FUNNELSIM_* environment variable overrides.
func applyEnvOverrides(config *Config) error {
	for suffix, key := range envKeys {
		v := os.Getenv(EnvPrefix + suffix)
		if v == "" {
			continue
		}
		if err := config.Set(key, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, suffix, err)
		}
	}
	return nil
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
