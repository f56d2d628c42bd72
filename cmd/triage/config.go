package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/tinytelemetry/triage/internal/model"
	"github.com/tinytelemetry/triage/internal/solver"
)

const (
	defaultBindHost        = "127.0.0.1"
	defaultAPIPort         = 3000
	defaultQueryTimeout    = 30 * time.Second
	defaultSolverTimeout   = 60 * time.Second
	defaultEventsBuffer    = 1024
	defaultShutdownTimeout = 10 * time.Second
	defaultLogLevel        = "info"
	defaultSolutionRetain  = 0 // days, 0 = disabled
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	SourceDir             string        `mapstructure:"source-dir"`
	SourcePatterns        []string      `mapstructure:"source-patterns"`
	DataDir               string        `mapstructure:"data-dir"`
	ParsedPath            string        `mapstructure:"parsed-path"`
	IndexPath             string        `mapstructure:"index-path"`
	DBPath                string        `mapstructure:"db-path"`
	ReportPath            string        `mapstructure:"report-path"`
	RulesPath             string        `mapstructure:"rules-path"`
	HeaderPattern         string        `mapstructure:"header-pattern"`
	TemplateIDPrefix      string        `mapstructure:"template-id-prefix"`
	Rebuild               bool          `mapstructure:"rebuild"`
	InterestingLevels     []string      `mapstructure:"interesting-levels"`
	ContextWindow         int           `mapstructure:"context-window"`
	OverReadMargin        int           `mapstructure:"over-read-margin"`
	QueueCapacity         int           `mapstructure:"queue-capacity"`
	Workers               int           `mapstructure:"workers"`
	DequeueTimeout        time.Duration `mapstructure:"dequeue-timeout"`
	TemplateSaveInterval  int           `mapstructure:"template-save-interval"`
	SyncWrites            bool          `mapstructure:"sync-writes"`
	Solver                string        `mapstructure:"solver"`
	SolverURL             string        `mapstructure:"solver-url"`
	SolverTimeout         time.Duration `mapstructure:"solver-timeout"`
	APIEnabled            bool          `mapstructure:"api-enabled"`
	APIPort               int           `mapstructure:"api-port"`
	APIAddr               string        `mapstructure:"api-addr"`
	QueryTimeout          time.Duration `mapstructure:"query-timeout"`
	EventsBuffer          int           `mapstructure:"events-buffer"`
	LogLevel              string        `mapstructure:"log-level"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown-timeout"`
	SolutionRetentionDays int           `mapstructure:"solution-retention-days"`
	ReadUnterminated      bool          `mapstructure:"read-unterminated"`
	ConfigPath            string        `mapstructure:"-"` // not from config file
}

// newViper returns a viper instance with env binding and every default set.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TRIAGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("source-dir", "logs")
	v.SetDefault("source-patterns", model.DefaultSourcePatterns)
	v.SetDefault("data-dir", "~/.local/share/triage")
	v.SetDefault("parsed-path", "")
	v.SetDefault("index-path", "")
	v.SetDefault("db-path", "")
	v.SetDefault("report-path", "")
	v.SetDefault("rules-path", "")
	v.SetDefault("header-pattern", "")
	v.SetDefault("template-id-prefix", model.DefaultTemplateIDPrefix)
	v.SetDefault("rebuild", false)
	v.SetDefault("interesting-levels", model.DefaultInterestingLevels)
	v.SetDefault("context-window", model.DefaultContextWindow)
	v.SetDefault("over-read-margin", model.DefaultOverReadMargin)
	v.SetDefault("queue-capacity", model.DefaultQueueCapacity)
	v.SetDefault("workers", model.DefaultWorkers)
	v.SetDefault("dequeue-timeout", model.DefaultDequeueTimeout)
	v.SetDefault("template-save-interval", model.DefaultTemplateSaveInterval)
	v.SetDefault("sync-writes", false)
	v.SetDefault("solver", solver.NameLocal)
	v.SetDefault("solver-url", "")
	v.SetDefault("solver-timeout", defaultSolverTimeout)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("api-addr", "")
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("events-buffer", defaultEventsBuffer)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("shutdown-timeout", defaultShutdownTimeout)
	v.SetDefault("solution-retention-days", defaultSolutionRetain)
	v.SetDefault("read-unterminated", false)
	return v
}

func loadConfig(v *viper.Viper, configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "triage", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	// Expand ~ in paths, then derive store locations from data-dir.
	for _, p := range []*string{&cfg.SourceDir, &cfg.DataDir, &cfg.ParsedPath, &cfg.IndexPath, &cfg.DBPath, &cfg.ReportPath, &cfg.RulesPath} {
		*p = expandHome(home, *p)
	}
	if cfg.ParsedPath == "" {
		cfg.ParsedPath = filepath.Join(cfg.DataDir, "parsed_logs.jsonl")
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.DataDir, "offset_index.jsonl")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "triage.duckdb")
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = filepath.Join(cfg.DataDir, "solutions.txt")
	}

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func (cfg *appConfig) validate() error {
	if strings.TrimSpace(cfg.SourceDir) == "" {
		return errors.New("source-dir must not be empty")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data-dir must not be empty")
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.ContextWindow < 0 {
		return fmt.Errorf("invalid context-window: %d", cfg.ContextWindow)
	}
	if cfg.OverReadMargin < 0 {
		return fmt.Errorf("invalid over-read-margin: %d", cfg.OverReadMargin)
	}
	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("invalid queue-capacity: %d", cfg.QueueCapacity)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("invalid workers: %d", cfg.Workers)
	}
	if cfg.TemplateSaveInterval <= 0 {
		return fmt.Errorf("invalid template-save-interval: %d", cfg.TemplateSaveInterval)
	}
	if len(cfg.InterestingLevels) == 0 {
		return errors.New("interesting-levels must not be empty")
	}
	if cfg.SolutionRetentionDays < 0 {
		return fmt.Errorf("invalid solution-retention-days: %d", cfg.SolutionRetentionDays)
	}
	switch strings.ToLower(cfg.Solver) {
	case solver.NameLocal:
	case solver.NameHTTP:
		if cfg.SolverURL == "" {
			return errors.New("solver-url is required for the http solver")
		}
	default:
		return fmt.Errorf("invalid solver: %q", cfg.Solver)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log-level: %w", err)
	}
	return nil
}

func expandHome(home, path string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
