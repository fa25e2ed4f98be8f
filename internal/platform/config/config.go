// internal/platform/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"strata/internal/core/domain"
	"strata/internal/core/ports"
)

// Config is the assembled runtime configuration. Layers apply in
// order, later wins: defaults, .env file, STRATA_* environment,
// the YAML pipeline file, CLI flags.
type Config struct {
	// App
	Workers      int
	TimeoutS     int // global run timeout in seconds (0 = none)
	DryRun       bool
	PrintVersion bool

	// IO
	DataDir  string // scheduler state and watermarks
	StageDir string // staged objects

	// Backends
	WarehouseDSN string
	MongoURI     string // optional run-history archive

	// Pipeline
	PipelineFile string
	Sources      []domain.Source
	Extractors   map[string]ports.ExtractorConfig
	Transforms   []Transform

	// Outputs
	Outputs Outputs

	// Resilience
	Resilience Resilience
}

// Transform is a post-load SQL statement with its upstream sources.
type Transform struct {
	Name      string   `yaml:"name"`
	Statement string   `yaml:"statement"`
	Sources   []string `yaml:"sources"`
}

type Outputs struct {
	TableDisabled bool
}

type Resilience struct {
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffCap        time.Duration
	LeaseTTL          time.Duration

	CircuitBreakerEnabled     bool
	CircuitBreakerThreshold   int
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerHalfOpenMax int
}

// pipelineFile is the YAML shape of the pipeline definition.
type pipelineFile struct {
	Sources []struct {
		ID         string            `yaml:"id"`
		Type       string            `yaml:"type"`
		Mode       string            `yaml:"mode"`
		KeyField   string            `yaml:"key_field"`
		Table      string            `yaml:"table"`
		Connection map[string]string `yaml:"connection"`
		Enabled    *bool             `yaml:"enabled"`
		Timeout    string            `yaml:"timeout"`
		BatchSize  int               `yaml:"batch_size"`
		PageCap    int               `yaml:"page_cap"`
		RateLimit  float64           `yaml:"rate_limit"`
		Retries    int               `yaml:"retries"`
		Custom     map[string]any    `yaml:"custom"`
	} `yaml:"sources"`
	Transforms []Transform `yaml:"transforms"`
}

// DefaultConfig returns the base layer.
func DefaultConfig() Config {
	return Config{
		Workers:  4,
		TimeoutS: 0,

		DataDir:  "strata_data",
		StageDir: "strata_stage",

		PipelineFile: "pipeline.yaml",
		Extractors:   make(map[string]ports.ExtractorConfig),

		Resilience: Resilience{
			MaxRetries:        3,
			BackoffBase:       1 * time.Second,
			BackoffMultiplier: 2.0,
			BackoffCap:        60 * time.Second,
			LeaseTTL:          5 * time.Minute,

			CircuitBreakerEnabled:     true,
			CircuitBreakerThreshold:   5,
			CircuitBreakerTimeout:     60 * time.Second,
			CircuitBreakerHalfOpenMax: 3,
		},
	}
}

// Load assembles the configuration from all layers.
func Load(args []string) (Config, error) {
	cfg := DefaultConfig()

	// .env is optional and never overrides real environment.
	_ = godotenv.Load()

	loadFromEnv(&cfg)

	flags, err := loadFromFlags(&cfg, args)
	if err != nil {
		return cfg, err
	}

	if err := loadPipeline(&cfg); err != nil {
		return cfg, err
	}

	// Flags win over the pipeline file for shared knobs.
	applyFlagOverrides(&cfg, flags)

	normalize(&cfg)
	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if v := getenv("STRATA_WORKERS", ""); v != "" {
		cfg.Workers = parseInt(v, cfg.Workers)
	}
	if v := getenv("STRATA_TIMEOUT", ""); v != "" {
		cfg.TimeoutS = parseInt(v, cfg.TimeoutS)
	}
	if v := getenv("STRATA_DATA_DIR", ""); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("STRATA_STAGE_DIR", ""); v != "" {
		cfg.StageDir = v
	}
	if v := getenv("STRATA_WAREHOUSE_DSN", ""); v != "" {
		cfg.WarehouseDSN = v
	}
	if v := getenv("STRATA_MONGO_URI", ""); v != "" {
		cfg.MongoURI = v
	}
	if v := getenv("STRATA_PIPELINE", ""); v != "" {
		cfg.PipelineFile = v
	}
	if v := getenv("STRATA_DRY_RUN", ""); v != "" {
		cfg.DryRun = parseBool(v)
	}

	if v := getenv("STRATA_RESILIENCE_MAX_RETRIES", ""); v != "" {
		cfg.Resilience.MaxRetries = parseInt(v, cfg.Resilience.MaxRetries)
	}
	if v := getenv("STRATA_RESILIENCE_BACKOFF_BASE", ""); v != "" {
		cfg.Resilience.BackoffBase = parseSeconds(v, cfg.Resilience.BackoffBase)
	}
	if v := getenv("STRATA_RESILIENCE_LEASE_TTL", ""); v != "" {
		cfg.Resilience.LeaseTTL = parseSeconds(v, cfg.Resilience.LeaseTTL)
	}
	if v := getenv("STRATA_RESILIENCE_CB_ENABLED", ""); v != "" {
		cfg.Resilience.CircuitBreakerEnabled = parseBool(v)
	}
	if v := getenv("STRATA_RESILIENCE_CB_THRESHOLD", ""); v != "" {
		cfg.Resilience.CircuitBreakerThreshold = parseInt(v, cfg.Resilience.CircuitBreakerThreshold)
	}
	if v := getenv("STRATA_OUTPUTS_TABLE_DISABLED", ""); v != "" {
		cfg.Outputs.TableDisabled = parseBool(v)
	}
}

// flagValues carries parsed flag state so pipeline-file values can be
// overridden only by flags the user actually set.
type flagValues struct {
	set *pflag.FlagSet

	workers  int
	timeoutS int
	dataDir  string
	stageDir string
	dsn      string
	pipeline string
	dryRun   bool
	noTable  bool
	retries  int
	cb       bool
	version  bool
}

func loadFromFlags(cfg *Config, args []string) (*flagValues, error) {
	fv := &flagValues{set: pflag.NewFlagSet("strata", pflag.ContinueOnError)}
	fs := fv.set

	fs.IntVar(&fv.workers, "workers", cfg.Workers, "maximum concurrent tasks")
	fs.IntVar(&fv.timeoutS, "timeout", cfg.TimeoutS, "global run timeout in seconds (0 = none)")
	fs.StringVar(&fv.dataDir, "data", cfg.DataDir, "directory for run state and watermarks")
	fs.StringVar(&fv.stageDir, "stage", cfg.StageDir, "directory for staged objects")
	fs.StringVar(&fv.dsn, "warehouse", cfg.WarehouseDSN, "warehouse connection string")
	fs.StringVar(&fv.pipeline, "pipeline", cfg.PipelineFile, "pipeline definition file")
	fs.BoolVar(&fv.dryRun, "dry-run", cfg.DryRun, "stage but do not load into the warehouse")
	fs.BoolVar(&fv.noTable, "no-table", cfg.Outputs.TableDisabled, "disable the status table output")
	fs.IntVar(&fv.retries, "retries", cfg.Resilience.MaxRetries, "retry budget per task")
	fs.BoolVar(&fv.cb, "circuit-breaker", cfg.Resilience.CircuitBreakerEnabled, "enable the per-source circuit breaker")
	fs.BoolVar(&fv.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Flags needed before the pipeline file loads.
	cfg.PipelineFile = fv.pipeline
	cfg.PrintVersion = fv.version
	return fv, nil
}

func applyFlagOverrides(cfg *Config, fv *flagValues) {
	if fv.set.Changed("workers") {
		cfg.Workers = fv.workers
	}
	if fv.set.Changed("timeout") {
		cfg.TimeoutS = fv.timeoutS
	}
	if fv.set.Changed("data") {
		cfg.DataDir = fv.dataDir
	}
	if fv.set.Changed("stage") {
		cfg.StageDir = fv.stageDir
	}
	if fv.set.Changed("warehouse") {
		cfg.WarehouseDSN = fv.dsn
	}
	if fv.set.Changed("dry-run") {
		cfg.DryRun = fv.dryRun
	}
	if fv.set.Changed("no-table") {
		cfg.Outputs.TableDisabled = fv.noTable
	}
	if fv.set.Changed("retries") {
		cfg.Resilience.MaxRetries = fv.retries
	}
	if fv.set.Changed("circuit-breaker") {
		cfg.Resilience.CircuitBreakerEnabled = fv.cb
	}
}

// loadPipeline reads the YAML pipeline definition. A missing file is
// only an error if the path was set explicitly.
func loadPipeline(cfg *Config) error {
	data, err := os.ReadFile(cfg.PipelineFile)
	if err != nil {
		if os.IsNotExist(err) && cfg.PipelineFile == DefaultConfig().PipelineFile {
			return nil
		}
		return fmt.Errorf("reading pipeline file %s: %w", cfg.PipelineFile, err)
	}

	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing pipeline file %s: %w", cfg.PipelineFile, err)
	}

	for _, s := range pf.Sources {
		src := domain.Source{
			ID:         s.ID,
			Type:       domain.SourceType(s.Type),
			Mode:       domain.ExtractionMode(s.Mode),
			KeyField:   s.KeyField,
			Table:      s.Table,
			Connection: s.Connection,
		}
		if err := src.Validate(); err != nil {
			return fmt.Errorf("pipeline source %q: %w", s.ID, err)
		}
		cfg.Sources = append(cfg.Sources, src)

		ec := ports.DefaultExtractorConfig()
		ec.Enabled = s.Enabled == nil || *s.Enabled
		if s.Timeout != "" {
			if d, err := time.ParseDuration(s.Timeout); err == nil {
				ec.Timeout = d
			}
		}
		if s.BatchSize > 0 {
			ec.BatchSize = s.BatchSize
		}
		if s.PageCap > 0 {
			ec.PageCap = s.PageCap
		}
		if s.RateLimit > 0 {
			ec.RateLimit = s.RateLimit
		}
		if s.Retries > 0 {
			ec.MaxAttempts = s.Retries
		}
		if s.Custom != nil {
			ec.Custom = s.Custom
		}
		cfg.Extractors[s.ID] = ec
	}
	cfg.Transforms = pf.Transforms
	return nil
}

func normalize(c *Config) {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.TimeoutS < 0 {
		c.TimeoutS = 0
	}
	if c.DataDir == "" {
		c.DataDir = "strata_data"
	}
	if c.StageDir == "" {
		c.StageDir = "strata_stage"
	}
	if c.Resilience.BackoffBase <= 0 {
		c.Resilience.BackoffBase = 1 * time.Second
	}
	if c.Resilience.BackoffMultiplier < 1.0 {
		c.Resilience.BackoffMultiplier = 2.0
	}
	if c.Resilience.BackoffCap <= 0 {
		c.Resilience.BackoffCap = 60 * time.Second
	}
	if c.Resilience.LeaseTTL <= 0 {
		c.Resilience.LeaseTTL = 5 * time.Minute
	}
}

// ToJSON serializes the configuration for debugging.
func (c Config) ToJSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Timeout returns the global run timeout as a duration.
func (c Config) Timeout() time.Duration {
	if c.TimeoutS <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutS) * time.Second
}

// Helpers

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok {
		return v
	}
	return def
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(v string, def int) int {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return i
}

// parseSeconds accepts either a duration string ("90s") or a plain
// number of seconds.
func parseSeconds(v string, def time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return def
}
