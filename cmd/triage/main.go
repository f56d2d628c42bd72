package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := newViper()
	var configPath string

	root := &cobra.Command{
		Use:           "triage",
		Short:         "Real-time log ingestion and incident triage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/triage/config.yml)")
	root.PersistentFlags().String("source-dir", "logs", "directory holding raw log files")
	root.PersistentFlags().String("data-dir", "~/.local/share/triage", "directory for the parsed store, index and database")
	root.PersistentFlags().String("db-path", "", "DuckDB database path (default <data-dir>/triage.duckdb)")
	bindFlags(v, root.PersistentFlags(), "source-dir", "data-dir", "db-path")

	load := func() (appConfig, error) {
		cfg, err := loadConfig(v, configPath)
		if err != nil {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newRunCommand(v, load))
	root.AddCommand(newRetrieveCommand(v, load))
	root.AddCommand(newTemplatesCommand(load))
	root.AddCommand(newVersionCommand())
	return root
}

func newRunCommand(v *viper.Viper, load func() (appConfig, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest raw logs, index them and triage interesting entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
	f := cmd.Flags()
	f.Bool("rebuild", false, "discard stores, templates and solutions and start over")
	f.StringSlice("interesting-levels", nil, "levels that become problems (default ERROR,WARN,FATAL)")
	f.Int("workers", 0, "number of solver workers")
	f.Int("queue-capacity", 0, "problem queue capacity")
	f.Int("context-window", 0, "entries of preceding context handed to the solver")
	f.String("solver", "", "solver to use: local or http")
	f.String("solver-url", "", "endpoint of the http solver")
	f.Bool("api-enabled", true, "serve the read-only HTTP API")
	f.Int("api-port", defaultAPIPort, "HTTP API port")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	bindFlags(v, f, "rebuild", "interesting-levels", "workers", "queue-capacity", "context-window",
		"solver", "solver-url", "api-enabled", "api-port", "log-level")
	return cmd
}

func newRetrieveCommand(v *viper.Viper, load func() (appConfig, error)) *cobra.Command {
	var (
		source string
		seq    int64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Print the context window preceding an entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			entries, err := retrieveWindow(cmd.Context(), cfg, source, seq, cfg.ContextWindow)
			if err != nil {
				return err
			}
			return printWindow(cmd.OutOrStdout(), entries, asJSON)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source file id, relative to the source directory")
	cmd.Flags().Int64Var(&seq, "seq", 0, "sequence id of the target entry")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON lines")
	cmd.Flags().Int("window", 0, "number of preceding entries")
	bindFlag(v, cmd.Flags(), "window", "context-window")
	return cmd
}

func newTemplatesCommand(load func() (appConfig, error)) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Print the persisted template snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			templates, err := loadTemplateSnapshot(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return printTemplates(cmd.OutOrStdout(), templates, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print templates as JSON")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Triage - Log Ingestion and Incident Triage\n")
			fmt.Fprintf(w, "  Version:    %s\n", version)
			fmt.Fprintf(w, "  Commit:     %s\n", commit)
			fmt.Fprintf(w, "  Built:      %s\n", buildTime)
			fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
		},
	}
}

// bindFlags binds each named flag to the viper key of the same name. Only
// flags the user actually set override config and environment.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, names ...string) {
	for _, name := range names {
		bindFlag(v, fs, name, name)
	}
}

func bindFlag(v *viper.Viper, fs *pflag.FlagSet, flag, key string) {
	if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}
