package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/artpar/topoplan/internal/core/deployment"
	"github.com/artpar/topoplan/internal/core/domain"
	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Compile CompileConfig `mapstructure:"compile"`
	Output  OutputConfig  `mapstructure:"output"`
	Store   StoreConfig   `mapstructure:"store"`
	Server  ServerConfig  `mapstructure:"server"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CompileConfig holds the defaults applied to every compilation. Settings
// left empty here fall back to the system description.
type CompileConfig struct {
	// Partition seeds the PARTITION description variable.
	Partition string `mapstructure:"partition"`

	FirstPort int `mapstructure:"first_port"` // 0 keeps the description's range
	LastPort  int `mapstructure:"last_port"`

	RunNumber          int  `mapstructure:"run_number"`
	DisableDataStorage bool `mapstructure:"disable_data_storage"`

	DataflowApp   string `mapstructure:"dataflow_app"`
	RequestModule string `mapstructure:"request_module"`
	FragmentsIn   string `mapstructure:"fragments_in"` // "module.port"

	TriggerApp    string `mapstructure:"trigger_app"`
	TriggerModule string `mapstructure:"trigger_module"`
}

// Options converts the config to compile options.
func (c CompileConfig) Options() (deployment.CompileOptions, error) {
	opts := deployment.DefaultCompileOptions()
	opts.Start = deployment.StartParams{Run: c.RunNumber, DisableDataStorage: c.DisableDataStorage}

	if c.DataflowApp != "" {
		wiring := &deployment.FragmentWiring{DataflowApp: c.DataflowApp, RequestModule: c.RequestModule}
		if c.FragmentsIn != "" {
			ref, err := domain.ParsePortRef(c.FragmentsIn)
			if err != nil {
				return deployment.CompileOptions{}, fmt.Errorf("compile.fragments_in: %w", err)
			}
			wiring.FragmentsIn = ref
		}
		opts.Fragments = wiring
	}

	switch {
	case c.TriggerApp != "" && c.TriggerModule != "":
		opts.Trigger = &deployment.TriggerLinks{App: c.TriggerApp, Module: c.TriggerModule}
	case c.TriggerApp != "" || c.TriggerModule != "":
		return deployment.CompileOptions{}, fmt.Errorf("compile.trigger_app and compile.trigger_module must be set together")
	}

	return opts, nil
}

// Ports returns the configured port range, or nil when unset.
func (c CompileConfig) Ports() *domain.PortRange {
	if c.FirstPort == 0 {
		return nil
	}
	return &domain.PortRange{First: c.FirstPort, Last: c.LastPort}
}

// OutputConfig controls where compiled plans are written.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	Overwrite bool   `mapstructure:"overwrite"`
}

// StoreConfig holds plan store configuration.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("compile.partition", "")
	v.SetDefault("compile.first_port", 0)
	v.SetDefault("compile.last_port", 0)
	v.SetDefault("compile.run_number", 1)
	v.SetDefault("compile.disable_data_storage", false)
	v.SetDefault("compile.dataflow_app", "")
	v.SetDefault("compile.request_module", "")
	v.SetDefault("compile.fragments_in", "")
	v.SetDefault("compile.trigger_app", "")
	v.SetDefault("compile.trigger_module", "")

	v.SetDefault("output.dir", "")
	v.SetDefault("output.overwrite", false)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.dsn", "./data/topoplan.db")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file falls back to defaults; a broken one does not.
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("TOPOPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger writing to w with the configured level and
// format.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
