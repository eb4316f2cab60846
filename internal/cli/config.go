package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/psyclass/internal/model"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Psyclass configuration",
	Long: `Manage Psyclass configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (PSYCLASS_*, e.g. PSYCLASS_DATABASE_DSN)
3. Config file (~/.psyclass/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, config file, env vars and flags are applied. API keys are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.LLM.APIKey != "" {
			cfg.LLM.APIKey = mask(cfg.LLM.APIKey)
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(yamlData)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.psyclass/config.yaml with all available options.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		configPath := cfgFile
		if configPath == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("error finding home directory: %w", err)
			}
			configPath = filepath.Join(home, ".psyclass", "config.yaml")
		}

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'psyclass config show' to view it, or delete it first to recreate", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		content, err := defaultConfigFile()
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, content, 0o600); err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created default configuration: %s\n", configPath)
		fmt.Fprintf(out, "\nTo view the configuration:\n")
		fmt.Fprintf(out, "  psyclass config show\n")
		fmt.Fprintf(out, "\nTo customize, edit the file with your preferred editor:\n")
		fmt.Fprintf(out, "  $EDITOR %s\n", configPath)
		return nil
	},
}

// defaultConfigFile renders the defaults with a short header and footer
func defaultConfigFile() ([]byte, error) {
	yamlData, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("error marshaling config: %w", err)
	}

	header := `# Psyclass Configuration File
#
# Configuration hierarchy (highest to lowest priority):
#   1. CLI flags
#   2. Environment variables (PSYCLASS_*)
#   3. This config file
#   4. Built-in defaults
#
# database.driver: sqlite, postgres or mysql
# watermark.backend: file (watermark.path) or database (watermark.name)
# pipeline.skip_policy: advance skips unclassifiable records,
#   block stops before them

`
	footer := `
# API Keys (recommended to use environment variables instead):
#   export OPENAI_API_KEY=sk-...
#   export ANTHROPIC_API_KEY=sk-ant-...
#   export GEMINI_API_KEY=...
#   export OLLAMA_BASE_URL=http://localhost:11434
`
	return append(append([]byte(header), yamlData...), footer...), nil
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
