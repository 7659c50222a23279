package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kon-agent/kon/internal/config"
)

var Version = "dev"

var (
	flagProvider string
	flagModel    string
	flagLogLevel string
	flagStats    bool
)

var rootCmd = &cobra.Command{
	Use:   "kon",
	Short: "Conversational coding agent for the terminal",
	Long: `kon is a coding agent: it streams model output, runs tools against
your working tree, and compacts long conversations to stay inside the
model's context window.

Examples:
  kon chat                                # interactive session
  kon chat "fix the failing test"         # one-shot prompt
  kon chat --provider openai              # override the provider
  kon sessions                            # list past sessions
  kon sessions search "websocket"`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "Override provider (anthropic, openai, openai-compat)")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Override model for the active provider")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagStats, "stats", false, "Show token usage after each response")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(flagProvider, flagModel)
	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

// newLogger builds the zerolog logger from config, honoring --log-level.
func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	levelName := cfg.Logging.Level
	if flagLogLevel != "" {
		levelName = flagLogLevel
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	var out *os.File = os.Stderr
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
