package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/demote/pkg/demote/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "demote",
		Short: "Keep anti-cheat helpers at idle priority on the last core",
		Long: `Demote finds processes by image name and forces them to idle priority,
pinned to the highest-numbered logical core, re-checking every few seconds.

By default the work is done by the demoted daemon; demote starts it on
demand. Use "demote run" to monitor in the foreground instead.

Examples:
  demote run                 # Monitor in the foreground
  demote check               # Check and fix every target once
  demote status              # Show the daemon's latest results
  demote watch -o json       # Stream status events as JSON lines
  demote interval 5          # Poll every 5 seconds
  demote history             # Show what was corrected and when`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/demote/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "output format: plain, json, yaml, table, template")
	rootCmd.PersistentFlags().StringVar(&templateStr, "template", "", "Go template for -o template")
	rootCmd.PersistentFlags().String("log-level", "", "mirror logs to stderr at this level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")
	rootCmd.PersistentFlags().Bool("no-auto-start", false, "never start demoted on demand")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("no_auto_start", rootCmd.PersistentFlags().Lookup("no-auto-start"))

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usage(err)
	})
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

var (
	cfgOnce   sync.Once
	appConfig *config.Config
	cfgErr    error
)

// loadConfig reads the configuration once per process.
func loadConfig() (*config.Config, error) {
	cfgOnce.Do(func() {
		appConfig, cfgErr = config.Load(cfgFile)
		if cfgErr == nil {
			cfgErr = appConfig.Validate()
		}
	})
	return appConfig, cfgErr
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
