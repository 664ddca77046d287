package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultLabelWindow    = 30
	DefaultFeatureWindow  = 3
	DefaultLags           = 3
	DefaultTrees          = 100
	DefaultLearningRate   = 0.1
	DefaultMaxDepth       = 3
	DefaultMinSamplesLeaf = 5
	DefaultSubsample      = 1.0
	DefaultMaxBins        = 64
	DefaultL2             = 1.0
	DefaultSeed           = 42
	DefaultPCAComponents  = 20
	DefaultImportanceTop  = 15
	DefaultRetention      = 24 * time.Hour
)

// Config is the top-level trainer configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Label    LabelConfig    `yaml:"label"`
	Features FeaturesConfig `yaml:"features"`
	Model    ModelConfig    `yaml:"model"`
	PCA      PCAConfig      `yaml:"pca"`
	Output   OutputConfig   `yaml:"output"`
	Publish  PublishConfig  `yaml:"publish"`
	Gates    []Gate         `yaml:"gates"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// DataConfig locates the three input tables.
type DataConfig struct {
	// Train is the run-to-failure table.
	Train string `yaml:"train"`

	// Test is the truncated table evaluated against Truth.
	Test string `yaml:"test"`

	// Truth holds one remaining-cycles value per test engine.
	Truth string `yaml:"truth"`

	// ObjectStore is used for locations of the form s3://bucket/key.
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
}

// ObjectStoreConfig configures an S3-compatible endpoint for input files.
type ObjectStoreConfig struct {
	// Endpoint is host:port of the object store. Empty disables s3:// locations.
	Endpoint string `yaml:"endpoint"`

	// AccessKeyEnv and SecretKeyEnv name the environment variables holding credentials.
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`

	UseSSL bool `yaml:"use_ssl"`
}

// AccessKey returns the access key resolved from the environment.
func (o ObjectStoreConfig) AccessKey() string {
	if o.AccessKeyEnv == "" {
		return ""
	}
	return os.Getenv(o.AccessKeyEnv)
}

// SecretKey returns the secret key resolved from the environment.
func (o ObjectStoreConfig) SecretKey() string {
	if o.SecretKeyEnv == "" {
		return ""
	}
	return os.Getenv(o.SecretKeyEnv)
}

// LabelConfig controls RUL labelling.
type LabelConfig struct {
	// Window is the failure horizon W: label is 1 when RUL <= Window.
	Window int `yaml:"window"`
}

// FeaturesConfig controls rolling and lag feature construction.
// The same policy is applied to train and test.
type FeaturesConfig struct {
	// Window is the trailing rolling window size in cycles.
	Window int `yaml:"window"`

	// Lags builds lag1..lagN features.
	Lags int `yaml:"lags"`

	// Sensors restricts engineered features to these columns. Empty means all sensors.
	Sensors []string `yaml:"sensors"`
}

// ModelConfig holds gradient boosting hyperparameters.
type ModelConfig struct {
	Trees          int     `yaml:"trees"`
	LearningRate   float64 `yaml:"learning_rate"`
	MaxDepth       int     `yaml:"max_depth"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf"`
	Subsample      float64 `yaml:"subsample"`
	MaxBins        int     `yaml:"max_bins"`
	L2             float64 `yaml:"l2"`
	Seed           int64   `yaml:"seed"`
}

// PCAConfig enables the reduced-dimension model variant.
type PCAConfig struct {
	Enabled    bool `yaml:"enabled"`
	Components int  `yaml:"components"`
}

// OutputConfig controls optional run artefacts.
type OutputConfig struct {
	// MetricsFile is a Prometheus textfile written at the end of each run.
	MetricsFile string `yaml:"metrics_file"`

	// FeaturesCSV receives the engineered training frame.
	FeaturesCSV string `yaml:"features_csv"`

	// ImportanceTop limits the importance chart to the N strongest features.
	ImportanceTop int `yaml:"importance_top"`
}

// PublishConfig configures run report publishing to Redis.
type PublishConfig struct {
	// RedisAddr is host:port. Empty disables publishing.
	RedisAddr string `yaml:"redis_addr"`

	// PasswordEnv names the environment variable holding the Redis password.
	PasswordEnv string `yaml:"password_env"`

	DB int `yaml:"db"`

	// Retention is how long a run report is kept.
	Retention time.Duration `yaml:"retention"`
}

// Password returns the Redis password resolved from the environment.
func (p PublishConfig) Password() string {
	if p.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(p.PasswordEnv)
}

// Gate is a quality condition checked against evaluation metrics.
type Gate struct {
	// Name is the human-readable gate identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "recall_failure < 0.9".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`
}

// NotifyConfig lists webhook targets for fired gates.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Label: LabelConfig{Window: DefaultLabelWindow},
		Features: FeaturesConfig{
			Window: DefaultFeatureWindow,
			Lags:   DefaultLags,
		},
		Model: ModelConfig{
			Trees:          DefaultTrees,
			LearningRate:   DefaultLearningRate,
			MaxDepth:       DefaultMaxDepth,
			MinSamplesLeaf: DefaultMinSamplesLeaf,
			Subsample:      DefaultSubsample,
			MaxBins:        DefaultMaxBins,
			L2:             DefaultL2,
			Seed:           DefaultSeed,
		},
		PCA:     PCAConfig{Components: DefaultPCAComponents},
		Output:  OutputConfig{ImportanceTop: DefaultImportanceTop},
		Publish: PublishConfig{Retention: DefaultRetention},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Data.Train == "" {
		return fmt.Errorf("data.train is required")
	}
	if cfg.Data.Test == "" {
		return fmt.Errorf("data.test is required")
	}
	if cfg.Data.Truth == "" {
		return fmt.Errorf("data.truth is required")
	}
	for _, loc := range []string{cfg.Data.Train, cfg.Data.Test, cfg.Data.Truth} {
		if strings.HasPrefix(loc, "s3://") && cfg.Data.ObjectStore.Endpoint == "" {
			return fmt.Errorf("data: %q needs data.object_store.endpoint", loc)
		}
	}
	if cfg.Label.Window < 0 {
		return fmt.Errorf("label.window must not be negative")
	}
	if cfg.Features.Window < 2 {
		return fmt.Errorf("features.window must be at least 2")
	}
	if cfg.Features.Lags < 0 {
		return fmt.Errorf("features.lags must not be negative")
	}
	m := cfg.Model
	if m.Trees <= 0 {
		return fmt.Errorf("model.trees must be positive")
	}
	if m.LearningRate <= 0 || m.LearningRate > 1 {
		return fmt.Errorf("model.learning_rate must be in (0, 1]")
	}
	if m.MaxDepth <= 0 {
		return fmt.Errorf("model.max_depth must be positive")
	}
	if m.MinSamplesLeaf <= 0 {
		return fmt.Errorf("model.min_samples_leaf must be positive")
	}
	if m.Subsample <= 0 || m.Subsample > 1 {
		return fmt.Errorf("model.subsample must be in (0, 1]")
	}
	if m.MaxBins < 2 || m.MaxBins > 256 {
		return fmt.Errorf("model.max_bins must be in [2, 256]")
	}
	if m.L2 < 0 {
		return fmt.Errorf("model.l2 must not be negative")
	}
	if cfg.PCA.Enabled && cfg.PCA.Components <= 0 {
		return fmt.Errorf("pca.components must be positive")
	}
	if cfg.Output.ImportanceTop < 0 {
		return fmt.Errorf("output.importance_top must not be negative")
	}
	if cfg.Publish.RedisAddr != "" && cfg.Publish.Retention <= 0 {
		return fmt.Errorf("publish.retention must be positive")
	}
	for i, g := range cfg.Gates {
		if g.Name == "" {
			return fmt.Errorf("gates[%d]: name is required", i)
		}
		if len(strings.Fields(g.Condition)) != 3 {
			return fmt.Errorf("gates[%d] %q: condition must be \"field op value\"", i, g.Name)
		}
		switch g.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("gates[%d] %q: unknown severity %q", i, g.Name, g.Severity)
		}
	}
	for i, wh := range cfg.Notify.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("notify.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}
