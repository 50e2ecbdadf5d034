package main

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/demote/pkg/demote/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage demote configuration settings.

Configuration is loaded from:
  1. --config, when given
  2. $XDG_CONFIG_HOME/demote/config.yaml (if set)
  3. ~/.config/demote/config.yaml

Environment variables override config file settings using the DEMOTE_ prefix:
  DEMOTE_INTERVAL=5
  DEMOTE_PRIORITY=below_normal
  DEMOTE_LOGGING_LEVEL=debug`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, file and environment.`,
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a commented default configuration file if one doesn't exist.`,
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.
A running daemon picks up interval changes on save.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runConfigEdit,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if cfg.File != "" {
		fmt.Fprintf(out, "# Config file: %s\n", cfg.File)
	} else {
		fmt.Fprintln(out, "# Config file: (using defaults, no file found)")
	}
	if env := envOverrides(os.Environ()); len(env) > 0 {
		fmt.Fprintln(out, "# Environment overrides:")
		for _, kv := range env {
			fmt.Fprintf(out, "#   %s\n", kv)
		}
	}

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return encoder.Close()
}

// envOverrides returns the sorted DEMOTE_* entries of environ.
func envOverrides(environ []string) []string {
	var out []string
	for _, kv := range environ {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			out = append(out, kv)
		}
	}
	sort.Strings(out)
	return out
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		printInfo("Config file already exists: %s", path)
		printInfo("Use 'demote config edit' to modify it.")
		return nil
	}

	if _, err := config.WriteDefault(); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	printInfo("Created default config file: %s", path)
	return nil
}

func runConfigPath(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runConfigEdit(_ *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		var err error
		if path, err = config.WriteDefault(); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", path, editor)

	editorCmd := exec.Command(editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}
