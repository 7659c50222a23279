package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kon-agent/kon/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the active configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE:  runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, _ := config.GetConfigPath()
	if config.Exists() {
		fmt.Printf("Config file: %s\n\n", path)
	} else {
		fmt.Printf("No config file (would be %s); using defaults.\n\n", path)
	}

	fmt.Printf("provider:   %s\n", cfg.Provider)
	fmt.Printf("model:      %s\n", cfg.ActiveModel())
	fmt.Printf("max turns:  %d\n", cfg.Agent.MaxTurns)
	fmt.Printf("compaction: %s (window %d, buffer %d, keep %d turns)\n",
		cfg.Compaction.OnOverflow, cfg.Compaction.ContextWindow,
		cfg.Compaction.BufferTokens, cfg.Compaction.KeepRecentTurns)
	fmt.Printf("sessions:   %v\n", cfg.Session.Enabled)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if config.Exists() {
		path, _ := config.GetConfigPath()
		return fmt.Errorf("config file already exists at %s", path)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	path, _ := config.GetConfigPath()
	fmt.Printf("Wrote %s\n", path)
	return nil
}
