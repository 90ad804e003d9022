// Package config assembles the command-line application's configuration
// from defaults, an optional YAML file and RECONCILER_* environment variables.
package config

import (
	"fmt"
	"strings"

	"golang-reconciliation-engine/internal/api"
	"golang-reconciliation-engine/internal/matcher"
	"golang-reconciliation-engine/internal/parsers"
	"golang-reconciliation-engine/internal/reporter"
	"golang-reconciliation-engine/internal/storage"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. RECONCILER_STORAGE_DRIVER.
const EnvPrefix = "RECONCILER"

// AppConfig is the complete configuration of the reconciler binary.
type AppConfig struct {
	Storage  storage.Config         `mapstructure:"storage"`
	Matching matcher.MatchingConfig `mapstructure:"matching"`
	Logging  logger.Config          `mapstructure:"logging"`
	Server   api.Config             `mapstructure:"server"`
	Parsing  parsers.ParseConfig    `mapstructure:"parsing"`
	Report   reporter.ReportConfig  `mapstructure:"report"`

	// Dataset and TolerancesFile seed the store before a command runs
	Dataset        parsers.DatasetFiles `mapstructure:"dataset"`
	TolerancesFile string               `mapstructure:"tolerances_file"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *AppConfig {
	return &AppConfig{
		Storage:  storage.DefaultConfig(),
		Matching: *matcher.DefaultMatchingConfig(),
		Logging:  *logger.DefaultConfig(),
		Server:   api.DefaultConfig(),
		Parsing:  *parsers.DefaultParseConfig(),
		Report:   *reporter.DefaultReportConfig(),
	}
}

// Validate validates every section.
func (c *AppConfig) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}
	if err := c.Matching.Validate(); err != nil {
		return fmt.Errorf("invalid matching config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("invalid report config: %w", err)
	}
	if c.Parsing.Delimiter == 0 || c.Parsing.Delimiter == '"' || c.Parsing.Delimiter == '\n' {
		return fmt.Errorf("invalid parsing config: bad delimiter %q", c.Parsing.Delimiter)
	}
	if c.Parsing.MaxFieldSize <= 0 {
		return fmt.Errorf("invalid parsing config: max field size must be positive, got %d", c.Parsing.MaxFieldSize)
	}
	return nil
}

// HasDataset reports whether any dataset file is configured.
func (c *AppConfig) HasDataset() bool {
	return c.Dataset.Targets != "" || c.Dataset.Candidates != "" || c.Dataset.Balances != ""
}

// SetDefaults registers every default on v so environment variables can
// override keys that no config file mentions.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("storage.driver", string(d.Storage.Driver))
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_url", d.Storage.PostgresURL)
	v.SetDefault("storage.max_conns", d.Storage.MaxConns)

	v.SetDefault("matching.window_days", d.Matching.WindowDays)
	v.SetDefault("matching.min_confidence", d.Matching.MinConfidence)
	v.SetDefault("matching.max_suggestions", d.Matching.MaxSuggestions)
	v.SetDefault("matching.max_combos", d.Matching.MaxCombos)
	v.SetDefault("matching.combination_expansion_factor", d.Matching.CombinationExpansionFactor)
	v.SetDefault("matching.combination_tolerance_cap", d.Matching.CombinationToleranceCap)
	v.SetDefault("matching.min_combo_size", d.Matching.MinComboSize)
	v.SetDefault("matching.max_combo_size", d.Matching.MaxComboSize)
	v.SetDefault("matching.combination_pool_limit", d.Matching.CombinationPoolLimit)
	v.SetDefault("matching.date_decay_days", d.Matching.DateDecayDays)
	v.SetDefault("matching.date_cutoff_days", d.Matching.DateCutoffDays)
	v.SetDefault("matching.combo_date_decay_days", d.Matching.ComboDateDecayDays)

	v.SetDefault("logging.level", string(d.Logging.Level))
	v.SetDefault("logging.format", string(d.Logging.Format))
	v.SetDefault("logging.output", string(d.Logging.Output))
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.caller_info", d.Logging.CallerInfo)

	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)

	v.SetDefault("parsing.delimiter", d.Parsing.Delimiter)
	v.SetDefault("parsing.comment", d.Parsing.Comment)
	v.SetDefault("parsing.skip_empty_rows", d.Parsing.SkipEmptyRows)
	v.SetDefault("parsing.max_field_size", d.Parsing.MaxFieldSize)
	v.SetDefault("parsing.validate_encoding", d.Parsing.ValidateEncoding)
	v.SetDefault("parsing.strict", d.Parsing.Strict)

	v.SetDefault("report.format", string(d.Report.Format))
	v.SetDefault("report.include_reasons", d.Report.IncludeReasons)
	v.SetDefault("report.include_candidates", d.Report.IncludeCandidates)
	v.SetDefault("report.include_trace", d.Report.IncludeTrace)
	v.SetDefault("report.max_items", d.Report.MaxItems)
	v.SetDefault("report.use_colors", d.Report.UseColors)
	v.SetDefault("report.table_max_width", d.Report.TableMaxWidth)
	v.SetDefault("report.csv_delimiter", d.Report.CSVDelimiter)
	v.SetDefault("report.csv_headers", d.Report.CSVHeaders)

	v.SetDefault("dataset.targets", "")
	v.SetDefault("dataset.candidates", "")
	v.SetDefault("dataset.balances", "")
	v.SetDefault("tolerances_file", "")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, configFile string) (*AppConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
