package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/panel/internal/api"
	"github.com/joescharf/panel/internal/backend"
	"github.com/joescharf/panel/internal/challenger"
	"github.com/joescharf/panel/internal/orchestrator"
	"github.com/joescharf/panel/internal/output"
	"github.com/joescharf/panel/internal/specialist"
	"github.com/joescharf/panel/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "panel",
	Short: "Multi-agent code review panel",
	Long: `panel runs adversarial multi-reviewer code reviews.
Specialist reviewers iterate against a challenger critique until their
findings converge, optionally cross-validated across several reviewer
backends, and the merged findings become one prioritized report.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/panel/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "panel")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PANEL")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "panel")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "panel.db"))
	viper.SetDefault("specialists_file", filepath.Join(defaultConfigDir, "specialists.yaml"))
	viper.SetDefault("backends", []string{"anthropic"})
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("review.satisfaction_threshold", 85)
	viper.SetDefault("review.forced_acceptance_threshold", 70)
	viper.SetDefault("review.max_iterations", 3)
	viper.SetDefault("review.stagnation_window", 2)
	viper.SetDefault("review.min_improvement", 2.0)
	viper.SetDefault("review.invocation_timeout", "10m")
	viper.SetDefault("session.buffer_capacity", 256)
	viper.SetDefault("session.retention", "10m")
	viper.SetDefault("port", 8484)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := specialist.LoadOverlay(viper.GetString("specialists_file")); err != nil {
		ui.Warning("specialists overlay: %v", err)
	}
}

// getStore returns the shared checkpoint store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// adaptersFor resolves backend names to adapters. An empty selection
// uses the configured default set.
func adaptersFor(names []string) ([]backend.Adapter, error) {
	if len(names) == 0 {
		names = viper.GetStringSlice("backends")
	}
	adapters := make([]backend.Adapter, 0, len(names))
	for _, name := range names {
		a, err := backend.New(name)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// engineFactory builds review engines for the API and MCP servers,
// sharing one checkpoint store.
func engineFactory() (api.EngineFactory, error) {
	st, err := getStore()
	if err != nil {
		return nil, err
	}
	return func(backends []string) (api.ReviewRunner, error) {
		adapters, err := adaptersFor(backends)
		if err != nil {
			return nil, err
		}
		return orchestrator.NewEngine(adapters, st, challenger.DefaultConfig()), nil
	}, nil
}
