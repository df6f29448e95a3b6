package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalid is the root of every configuration error.
var ErrInvalid = eris.New("invalid configuration")

// Finalize modes.
const (
	FinalizeReport = "report"
	FinalizePrune  = "prune"
	FinalizeCopy   = "copy"
)

// Ledger drivers.
const (
	LedgerFile   = "file"
	LedgerSQLite = "sqlite"
)

// Config holds the full application configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Match    MatchConfig    `yaml:"match" mapstructure:"match"`
	Dedup    DedupConfig    `yaml:"dedup" mapstructure:"dedup"`
	Finalize FinalizeConfig `yaml:"finalize" mapstructure:"finalize"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig holds the primary store and the optional copy target.
type DatabaseConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	TargetURL string `yaml:"target_url" mapstructure:"target_url"`
}

// PipelineConfig configures inputs and the step ledger.
type PipelineConfig struct {
	CSVDir         string `yaml:"csv_dir" mapstructure:"csv_dir"`
	XMLPath        string `yaml:"xml_path" mapstructure:"xml_path"`
	ConverterPath  string `yaml:"converter_path" mapstructure:"converter_path"`
	LibraryArtists string `yaml:"library_artists" mapstructure:"library_artists"`
	StateFile      string `yaml:"state_file" mapstructure:"state_file"`
	LedgerDriver   string `yaml:"ledger_driver" mapstructure:"ledger_driver"`
}

// FromRaw reports whether the run starts from the XML dump rather than
// prepared CSV files.
func (p PipelineConfig) FromRaw() bool {
	return p.XMLPath != ""
}

// CatalogConfig points at the station library catalog.
type CatalogConfig struct {
	LibraryDB    string `yaml:"library_db" mapstructure:"library_db"`
	MappingsFile string `yaml:"mappings_file" mapstructure:"mappings_file"`
	MaxResults   int    `yaml:"max_results" mapstructure:"max_results"`
}

// MatchConfig tunes classification.
type MatchConfig struct {
	KeepThreshold           float64     `yaml:"keep_threshold" mapstructure:"keep_threshold"`
	ReviewThreshold         float64     `yaml:"review_threshold" mapstructure:"review_threshold"`
	Workers                 int         `yaml:"workers" mapstructure:"workers"`
	PageSize                int         `yaml:"page_size" mapstructure:"page_size"`
	WriteBatch              int         `yaml:"write_batch" mapstructure:"write_batch"`
	MinDistinctTrackArtists int         `yaml:"min_distinct_track_artists" mapstructure:"min_distinct_track_artists"`
	MinDivergentShare       float64     `yaml:"min_divergent_share" mapstructure:"min_divergent_share"`
	Retry                   RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig is the per-record retry policy.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// DedupConfig configures master-group deduplication.
type DedupConfig struct {
	HomeCountry string `yaml:"home_country" mapstructure:"home_country"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// FinalizeConfig selects what happens to classified releases.
type FinalizeConfig struct {
	Mode      string `yaml:"mode" mapstructure:"mode"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCOGS_CACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("database.url", "")
	v.SetDefault("database.target_url", "")
	v.SetDefault("pipeline.csv_dir", "")
	v.SetDefault("pipeline.xml_path", "")
	v.SetDefault("pipeline.library_artists", "")
	v.SetDefault("catalog.library_db", "")
	v.SetDefault("catalog.mappings_file", "")

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("pipeline.converter_path", "discogs-xml2db")
	v.SetDefault("pipeline.state_file", ".pipeline_state.json")
	v.SetDefault("pipeline.ledger_driver", LedgerFile)
	v.SetDefault("catalog.max_results", 10)
	v.SetDefault("match.keep_threshold", 0.75)
	v.SetDefault("match.review_threshold", 0.65)
	v.SetDefault("match.workers", 4)
	v.SetDefault("match.page_size", 1000)
	v.SetDefault("match.write_batch", 500)
	v.SetDefault("match.min_distinct_track_artists", 3)
	v.SetDefault("match.min_divergent_share", 0.5)
	v.SetDefault("match.retry.max_attempts", 3)
	v.SetDefault("match.retry.initial_backoff_ms", 200)
	v.SetDefault("match.retry.max_backoff_ms", 5000)
	v.SetDefault("dedup.home_country", "US")
	v.SetDefault("dedup.batch_size", 1000)
	v.SetDefault("finalize.mode", FinalizeReport)
	v.SetDefault("finalize.batch_size", 1000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a pipeline run depends on. Every failure wraps
// ErrInvalid.
func (c *Config) Validate() error {
	var problems []string

	if c.Database.URL == "" {
		problems = append(problems, "database.url is required")
	}
	if c.Pipeline.CSVDir == "" {
		problems = append(problems, "pipeline.csv_dir is required")
	}
	if c.Pipeline.FromRaw() && c.Pipeline.ConverterPath == "" {
		problems = append(problems, "pipeline.converter_path is required with pipeline.xml_path")
	}
	switch c.Pipeline.LedgerDriver {
	case LedgerFile, LedgerSQLite:
	default:
		problems = append(problems, "pipeline.ledger_driver must be file or sqlite")
	}

	if err := c.Match.ValidateThresholds(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Match.Workers < 1 {
		problems = append(problems, "match.workers must be >= 1")
	}
	if c.Match.PageSize < 1 || c.Match.WriteBatch < 1 {
		problems = append(problems, "match.page_size and match.write_batch must be >= 1")
	}
	if c.Match.MinDivergentShare < 0 || c.Match.MinDivergentShare > 1 {
		problems = append(problems, "match.min_divergent_share must be within [0,1]")
	}
	if c.Catalog.MaxResults < 1 {
		problems = append(problems, "catalog.max_results must be >= 1")
	}
	if c.Dedup.BatchSize < 1 || c.Finalize.BatchSize < 1 {
		problems = append(problems, "dedup.batch_size and finalize.batch_size must be >= 1")
	}

	switch c.Finalize.Mode {
	case FinalizeReport:
	case FinalizePrune:
		if c.Database.TargetURL != "" {
			problems = append(problems, "finalize.mode prune cannot be combined with database.target_url")
		}
	case FinalizeCopy:
		if c.Database.TargetURL == "" {
			problems = append(problems, "finalize.mode copy requires database.target_url")
		}
	default:
		problems = append(problems, "finalize.mode must be report, prune or copy")
	}
	if c.Finalize.Mode != FinalizeReport && c.Catalog.LibraryDB == "" {
		problems = append(problems, "finalize.mode "+c.Finalize.Mode+" requires catalog.library_db")
	}

	if len(problems) > 0 {
		return eris.Wrap(ErrInvalid, "config: "+strings.Join(problems, "; "))
	}
	return nil
}

// ValidateThresholds enforces 0 <= review < keep <= 1.
func (m MatchConfig) ValidateThresholds() error {
	if m.ReviewThreshold < 0 || m.KeepThreshold > 1 || m.ReviewThreshold >= m.KeepThreshold {
		return eris.Wrapf(ErrInvalid, "config: thresholds must satisfy 0 <= review (%.2f) < keep (%.2f) <= 1",
			m.ReviewThreshold, m.KeepThreshold)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
