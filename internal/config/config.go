// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sync       SyncConfig       `yaml:"sync" mapstructure:"sync"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SyncConfig configures the unification engine.
type SyncConfig struct {
	// BatchSize is the per-source fetch size per loop iteration.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// MicroBatchSize bounds the blast radius of a single failed write.
	MicroBatchSize int `yaml:"micro_batch_size" mapstructure:"micro_batch_size"`
	// TimeBudgetSecs is the wall-clock budget per invocation, kept well
	// under the host's hard execution limit.
	TimeBudgetSecs int `yaml:"time_budget_secs" mapstructure:"time_budget_secs"`
	// StaleAfterSecs is the checkpoint inactivity window after which a run
	// is considered abandoned and auto-cancelled.
	StaleAfterSecs int `yaml:"stale_after_secs" mapstructure:"stale_after_secs"`
	// DefaultCountryCode is prepended to bare 10-digit phone numbers.
	DefaultCountryCode string `yaml:"default_country_code" mapstructure:"default_country_code"`
	// ContinueURL is the engine's own continuation endpoint for chunk
	// chaining. Empty disables chaining (single-chunk mode).
	ContinueURL string `yaml:"continue_url" mapstructure:"continue_url"`
	// WritesPerSecond paces micro-batch writes to bound database load.
	// Zero means unpaced.
	WritesPerSecond float64 `yaml:"writes_per_second" mapstructure:"writes_per_second"`
	// AliasFile optionally points to a YAML file mapping canonical field
	// names to per-source payload key aliases.
	AliasFile string `yaml:"alias_file" mapstructure:"alias_file"`
}

// ServerConfig configures the trigger/continuation HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the CRM staging
// puller.
type SalesforceConfig struct {
	ClientID string `yaml:"client_id" mapstructure:"client_id"`
	Username string `yaml:"username" mapstructure:"username"`
	KeyPath  string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
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
	v.SetEnvPrefix("CLIENTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.micro_batch_size", 25)
	v.SetDefault("sync.time_budget_secs", 50)
	v.SetDefault("sync.stale_after_secs", 180)
	v.SetDefault("sync.default_country_code", "1")
	v.SetDefault("sync.writes_per_second", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// LoadAliases reads the optional payload field-alias map. The file maps
// canonical field names to lists of per-source payload key names, e.g.:
//
//	email: [correo, email_addr]
//	phone: [telefono]
func LoadAliases(path string) (map[string][]string, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read alias file %s", path)
	}

	aliases := make(map[string][]string)
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, eris.Wrapf(err, "config: parse alias file %s", path)
	}
	return aliases, nil
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
