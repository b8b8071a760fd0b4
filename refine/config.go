// Package refine drives the hybrid refinement pipeline: generate an
// initial tree with the fast external generator, select sub-problems,
// re-synthesize them under path constraints and splice accepted
// replacements back, all under a global wall-clock budget.
package refine

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtsynth/refine/slicer"
)

// Duration decodes from YAML either as a bare number of seconds or as a
// Go duration string ("90s", "1h").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs float64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Ordering names for the candidate comparator.
const (
	OrderDepthDescending = "depth-desc"
	OrderDepthAscending  = "depth-asc"
	OrderNodesDescending = "nodes-desc"
)

// Config holds configuration for one refinement run.
type Config struct {
	MaxSubtreeDepth      int      `yaml:"max_subtree_depth"`
	MinSubtreeDepth      int      `yaml:"min_subtree_depth"`
	MinNodeCount         int      `yaml:"min_node_count"`
	MaxLoss              float64  `yaml:"max_loss"`
	TimeoutTotal         Duration `yaml:"timeout_total"`
	CandidateTimeout     Duration `yaml:"candidate_timeout"`
	HybridizationEnabled bool     `yaml:"hybridization_enabled"`
	Ordering             string   `yaml:"ordering"`
	MaxIterations        int      `yaml:"max_iterations"`
	Parallelism          int      `yaml:"parallelism"`
	Variables            []string `yaml:"variables"`
	InitialDotPath       string   `yaml:"initial_dot"`
	OutputDir            string   `yaml:"output_dir"`
	GeneratorPath        string   `yaml:"generator_path"`
	SynthesizerPath      string   `yaml:"synthesizer_path"`
	EvaluatorPath        string   `yaml:"evaluator_path"`
	LogLevel             string   `yaml:"log_level"`
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxSubtreeDepth:      4,
		MinSubtreeDepth:      3,
		MinNodeCount:         2,
		MaxLoss:              0.05,
		TimeoutTotal:         Duration(3600 * time.Second),
		CandidateTimeout:     Duration(120 * time.Second),
		HybridizationEnabled: true,
		Ordering:             OrderDepthDescending,
		Parallelism:          1,
		GeneratorPath:        "dtcontrol",
		SynthesizerPath:      "dtsynth",
		EvaluatorPath:        "dteval",
		LogLevel:             "info",
	}
}

// LoadConfig merges, in order of precedence: defaults, the YAML file at
// path (ignored when empty), environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	cfg.MaxSubtreeDepth = getEnvInt("REFINE_MAX_SUBTREE_DEPTH", cfg.MaxSubtreeDepth)
	cfg.MinSubtreeDepth = getEnvInt("REFINE_MIN_SUBTREE_DEPTH", cfg.MinSubtreeDepth)
	cfg.MinNodeCount = getEnvInt("REFINE_MIN_NODE_COUNT", cfg.MinNodeCount)
	cfg.MaxLoss = getEnvFloat("REFINE_MAX_LOSS", cfg.MaxLoss)
	cfg.TimeoutTotal = getEnvDuration("REFINE_TIMEOUT_TOTAL", cfg.TimeoutTotal)
	cfg.CandidateTimeout = getEnvDuration("REFINE_CANDIDATE_TIMEOUT", cfg.CandidateTimeout)
	cfg.Ordering = getEnv("REFINE_ORDERING", cfg.Ordering)
	cfg.Parallelism = getEnvInt("REFINE_PARALLELISM", cfg.Parallelism)
	cfg.GeneratorPath = getEnv("REFINE_GENERATOR", cfg.GeneratorPath)
	cfg.SynthesizerPath = getEnv("REFINE_SYNTHESIZER", cfg.SynthesizerPath)
	cfg.EvaluatorPath = getEnv("REFINE_EVALUATOR", cfg.EvaluatorPath)
	cfg.LogLevel = getEnv("REFINE_LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

// Validate enforces the invariants checked while initializing a run.
func (c *Config) Validate() error {
	if c.MaxSubtreeDepth < 1 {
		return fmt.Errorf("max_subtree_depth must be >= 1, got %d", c.MaxSubtreeDepth)
	}
	if c.MaxLoss < 0 || c.MaxLoss >= 1 {
		return fmt.Errorf("max_loss must be in [0,1), got %g", c.MaxLoss)
	}
	if c.TimeoutTotal.Std() <= 0 {
		return fmt.Errorf("timeout_total must be > 0, got %s", c.TimeoutTotal.Std())
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be >= 1, got %d", c.Parallelism)
	}
	if _, err := c.Comparator(); err != nil {
		return err
	}
	return nil
}

// Comparator resolves the configured candidate ordering. The default,
// depth-descending, matches the reference behavior of refining the
// tallest sub-trees first.
func (c *Config) Comparator() (slicer.Comparator, error) {
	switch c.Ordering {
	case "", OrderDepthDescending:
		return slicer.ByDepthDescending, nil
	case OrderDepthAscending:
		return slicer.ByDepthAscending, nil
	case OrderNodesDescending:
		return slicer.ByNodeCountDescending, nil
	default:
		return nil, fmt.Errorf("unknown ordering %q", c.Ordering)
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default
// value; bare numbers are read as seconds.
func getEnvDuration(key string, defaultValue Duration) Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return Duration(time.Duration(secs * float64(time.Second)))
	}
	if d, err := time.ParseDuration(value); err == nil {
		return Duration(d)
	}
	return defaultValue
}
