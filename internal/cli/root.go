package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/psyclass/internal/model"
)

// Version is set at build time
var Version = "v0.3.0"

var (
	cfgFile   string
	verbose   bool
	configErr error
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "psyclass",
	Short: "Psyclass - incremental psychological classification of Weibo comments",
	Long: `Psyclass reads scraped Weibo comments from an upstream table, asks a chat
model to score each one on eleven psychological dimensions, and writes one
row per dimension to a results table.

Progress is tracked by a watermark: the highest record id whose results are
committed. A record is never classified twice and never skipped silently.

Scores are model opinions, not diagnoses.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for Psyclass.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "psyclass %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.psyclass/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().String("provider", "", "LLM provider (openai, ollama, anthropic, gemini)")
	rootCmd.PersistentFlags().String("model", "", "LLM model name")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig layers defaults, the config file and PSYCLASS_* variables
func initConfig() {
	configErr = readConfig()
	if configErr == nil && verbose && viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func readConfig() error {
	defaults, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}
		viper.AddConfigPath(filepath.Join(home, ".psyclass"))
		viper.SetConfigName("config")
	}

	// Read in environment variables that match PSYCLASS_*
	viper.SetEnvPrefix("PSYCLASS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Omitted from the defaults, so AutomaticEnv alone would miss them
	_ = viper.BindEnv("llm.api_key")
	_ = viper.BindEnv("llm.base_url")

	if err := viper.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadConfig returns the effective configuration
func loadConfig() (*model.Config, error) {
	if configErr != nil {
		return nil, configErr
	}

	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyEnvFallbacks(cfg)
	if viper.GetBool("verbose") {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// applyEnvFallbacks fills credentials from the providers' own variables
func applyEnvFallbacks(cfg *model.Config) {
	provider := strings.ToLower(cfg.LLM.Provider)
	if cfg.LLM.APIKey == "" {
		switch provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic", "claude":
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if provider == "ollama" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
}
