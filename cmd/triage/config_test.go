package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/triage/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)

	dataDir := filepath.Join(home, ".local", "share", "triage")
	require.Equal(t, dataDir, cfg.DataDir)
	require.Equal(t, filepath.Join(dataDir, "parsed_logs.jsonl"), cfg.ParsedPath)
	require.Equal(t, filepath.Join(dataDir, "offset_index.jsonl"), cfg.IndexPath)
	require.Equal(t, filepath.Join(dataDir, "triage.duckdb"), cfg.DBPath)
	require.Equal(t, filepath.Join(dataDir, "solutions.txt"), cfg.ReportPath)
	require.Equal(t, model.DefaultInterestingLevels, cfg.InterestingLevels)
	require.Equal(t, model.DefaultSourcePatterns, cfg.SourcePatterns)
	require.Equal(t, model.DefaultContextWindow, cfg.ContextWindow)
	require.Equal(t, model.DefaultQueueCapacity, cfg.QueueCapacity)
	require.Equal(t, time.Second, cfg.DequeueTimeout)
	require.Equal(t, "127.0.0.1:3000", cfg.APIAddr)
	require.Equal(t, "local", cfg.Solver)
	require.False(t, cfg.ReadUnterminated)
	require.Empty(t, cfg.ConfigPath)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TRIAGE_WORKERS", "7")
	t.Setenv("TRIAGE_CONTEXT_WINDOW", "3")
	t.Setenv("TRIAGE_DEQUEUE_TIMEOUT", "250ms")
	t.Setenv("TRIAGE_API_PORT", "8088")

	cfg, err := loadConfig(newViper(), "")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Workers)
	require.Equal(t, 3, cfg.ContextWindow)
	require.Equal(t, 250*time.Millisecond, cfg.DequeueTimeout)
	require.Equal(t, "127.0.0.1:8088", cfg.APIAddr)
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, "triage.yml")
	body := `source-dir: ~/hdfs
data-dir: /var/lib/triage
interesting-levels: [ERROR, FATAL]
template-id-prefix: APP_
rebuild: true
read-unterminated: true
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := loadConfig(newViper(), path)
	require.NoError(t, err)
	require.Equal(t, path, cfg.ConfigPath)
	require.Equal(t, filepath.Join(home, "hdfs"), cfg.SourceDir)
	require.Equal(t, "/var/lib/triage/triage.duckdb", cfg.DBPath)
	require.Equal(t, []string{"ERROR", "FATAL"}, cfg.InterestingLevels)
	require.Equal(t, "APP_", cfg.TemplateIDPrefix)
	require.True(t, cfg.Rebuild)
	require.True(t, cfg.ReadUnterminated)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "api port", env: map[string]string{"TRIAGE_API_PORT": "70000"}},
		{name: "workers", env: map[string]string{"TRIAGE_WORKERS": "0"}},
		{name: "queue capacity", env: map[string]string{"TRIAGE_QUEUE_CAPACITY": "-1"}},
		{name: "negative window", env: map[string]string{"TRIAGE_CONTEXT_WINDOW": "-2"}},
		{name: "unknown solver", env: map[string]string{"TRIAGE_SOLVER": "oracle"}},
		{name: "http solver without url", env: map[string]string{"TRIAGE_SOLVER": "http"}},
		{name: "log level", env: map[string]string{"TRIAGE_LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := loadConfig(newViper(), ""); err == nil {
				t.Fatalf("loadConfig accepted %v", tt.env)
			}
		})
	}
}
