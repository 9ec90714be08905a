package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"znum/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage znum configuration files.

Configuration is resolved in this order, highest priority first:
  - Command line flags
  - Environment variables (ZNUM_*)
  - .env file
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write the default configuration as YAML to .znum.yaml, or to the
path given with --config. An existing file is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = ".znum.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	console.Success("Configuration file created: " + path)
	fmt.Fprintln(console.Writer(), "\nNext steps:")
	fmt.Fprintln(console.Writer(), "1. Adjust work_dir and request_delay if needed")
	fmt.Fprintln(console.Writer(), "2. Run 'znum auth login' to store your reader account")
	fmt.Fprintln(console.Writer(), "3. Run 'znum download <url>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	console.Highlight("Current Configuration")
	fmt.Fprintln(console.Writer())
	fmt.Fprint(console.Writer(), string(data))
	console.Info("Cookie file", cfg.CookiePath())
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := os.MkdirAll(cfg.Download.WorkDir, 0755); err != nil {
		return fmt.Errorf("work directory is not writable: %w", err)
	}
	probe, err := os.CreateTemp(cfg.Download.WorkDir, ".probe-*")
	if err != nil {
		return fmt.Errorf("work directory is not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())

	if dir := filepath.Dir(cfg.CookiePath()); dir != cfg.Download.WorkDir {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("cookie directory is not writable: %w", err)
		}
	}

	console.Success("✓ Configuration is valid")
	return nil
}
