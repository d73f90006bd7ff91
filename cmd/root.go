package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time
var version string

var verbose bool
var debug bool
var configFile string

// cfg holds the loaded configuration, available to all commands
var cfg *config.Config

// logger is built from cfg.Logging once the configuration is loaded
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "sheetsmith",
	Short: "Standardize messy spreadsheets into an ideal template",
	Long: `Sheetsmith fills an ideal spreadsheet template from a raw export, guided by
free-text instructions. A local language model drafts a transformation plan;
the plan is validated and executed deterministically, and a built-in rule
catalogue takes over whenever the plan is missing or does worse.

Getting Started:
  1. sheetsmith check                      Verify the local model and rule catalogue
  2. sheetsmith transform --ideal ...      Standardize files from the command line
  3. sheetsmith server                     Accept uploads over HTTP

Configuration is read from ~/.sheetsmith/config.yaml (or $SHEETSMITH_CONFIG).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.Verbose = verbose
		config.Debug = debug

		path := configFile
		if path == "" {
			path = config.GetConfigPath()
		}

		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		logger, err = config.InitLogging(cfg.Logging)
		if err != nil {
			return err
		}
		config.DebugLog("Configuration loaded from %s", path)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ~/.sheetsmith/config.yaml)")
	rootCmd.AddCommand(versionCmd)
}

// getVersion returns the version string.
// Priority: build-time ldflags > VERSION file (for development)
func getVersion() string {
	if version != "" {
		return version
	}

	_, filename, _, ok := runtime.Caller(0)
	if ok {
		projectRoot := filepath.Dir(filepath.Dir(filename))
		content, err := os.ReadFile(filepath.Join(projectRoot, "VERSION"))
		if err == nil {
			return "v" + strings.TrimSpace(string(content)) + "-dev"
		}
	}

	return "unknown (build with: go build -ldflags \"-X 'github.com/kris-hansen/sheetsmith/cmd.version=vX.Y.Z'\")"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sheetsmith version: %s\n", getVersion())
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context, which fails running jobs and shuts the server down.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
