package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "panel"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage panel configuration.

Running bare 'panel config' is the same as 'panel config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# panel configuration
# See: panel config show (for effective values and sources)

# SQLite checkpoint database path (default: ~/.config/panel/panel.db)
# db_path: {{ .DBPath }}

# Specialist overlay file (default: ~/.config/panel/specialists.yaml)
# specialists_file: {{ .SpecialistsFile }}

# Reviewer backends. "anthropic" uses the API directly; any other name
# must have a matching backend.<name>.command entry.
# backends: ["anthropic"]

anthropic:
  # api_key: ""
  # model: "{{ .AnthropicModel }}"

# Convergence tuning
review:
  # satisfaction_threshold: {{ .SatisfactionThreshold }}
  # forced_acceptance_threshold: {{ .ForcedAcceptanceThreshold }}
  # max_iterations: {{ .MaxIterations }}
  # invocation_timeout: "10m"

# Example CLI agent backend:
# backend:
#   claude:
#     command: "claude"
#     args: ["-p", "--output-format", "text"]
#     resume_flag: "--resume"
#     timeout: "15m"
`

type configTemplateData struct {
	DBPath                    string
	SpecialistsFile           string
	AnthropicModel            string
	SatisfactionThreshold     int
	ForcedAcceptanceThreshold int
	MaxIterations             int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data := configTemplateData{
		DBPath:                    viper.GetString("db_path"),
		SpecialistsFile:           viper.GetString("specialists_file"),
		AnthropicModel:            viper.GetString("anthropic.model"),
		SatisfactionThreshold:     viper.GetInt("review.satisfaction_threshold"),
		ForcedAcceptanceThreshold: viper.GetInt("review.forced_acceptance_threshold"),
		MaxIterations:             viper.GetInt("review.max_iterations"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "PANEL_DB_PATH"},
	{Key: "specialists_file", EnvVar: "PANEL_SPECIALISTS_FILE"},
	{Key: "backends", EnvVar: "PANEL_BACKENDS"},
	{Key: "anthropic.model", EnvVar: "PANEL_ANTHROPIC_MODEL"},
	{Key: "review.satisfaction_threshold", EnvVar: "PANEL_REVIEW_SATISFACTION_THRESHOLD"},
	{Key: "review.forced_acceptance_threshold", EnvVar: "PANEL_REVIEW_FORCED_ACCEPTANCE_THRESHOLD"},
	{Key: "review.max_iterations", EnvVar: "PANEL_REVIEW_MAX_ITERATIONS"},
	{Key: "review.invocation_timeout", EnvVar: "PANEL_REVIEW_INVOCATION_TIMEOUT"},
	{Key: "session.buffer_capacity", EnvVar: "PANEL_SESSION_BUFFER_CAPACITY"},
	{Key: "session.retention", EnvVar: "PANEL_SESSION_RETENTION"},
	{Key: "port", EnvVar: "PANEL_PORT"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-36s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	c := exec.Command(editor, cfgPath)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return c.Run()
}
