package cmd

import (
	"fmt"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/fileutil"
	"github.com/kris-hansen/sheetsmith/utils/processor"
	"github.com/kris-hansen/sheetsmith/utils/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serverPort int
var serverJobsDir string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP server for spreadsheet standardization",
	Long: `Start the Sheetsmith HTTP server or inspect its configuration.

Running 'sheetsmith server' without a subcommand starts the server on the
configured port (default: 8001).

Endpoints:
  POST /process                 Upload ideal, raw and instructions (multipart)
  POST /finalize/{jobId}        Run the pipeline for a stored job
  GET  /download/{jobId}/{kind} Download ideal, log or summary
  GET  /jobs/{jobId}            Job status
  GET  /health                  Health check endpoint`,
	Example: `  # Start the server
  sheetsmith server

  # Start on another port with its own job directory
  sheetsmith server --port 9000 --jobs-dir /var/lib/sheetsmith/jobs

  # View current configuration
  sheetsmith server show`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}
		if serverJobsDir != "" {
			dir, err := fileutil.ExpandPath(serverJobsDir)
			if err != nil {
				return fmt.Errorf("invalid jobs directory: %w", err)
			}
			cfg.Server.JobsDir = dir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		orch, err := processor.NewFromConfig(cfg, cfg.Server.JobsDir, logger)
		if err != nil {
			return err
		}
		if err := checkProposer(cmd.Context()); err != nil {
			logger.Warn("plan proposer not available, jobs will use the fallback rules", zap.Error(err))
		}
		return server.Run(cmd.Context(), &cfg.Server, orch, logger)
	},
}

var showServerCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current server configuration",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		s := cfg.Server
		fmt.Fprintf(out, "\nServer Configuration:\n")
		fmt.Fprintf(out, "Port: %d\n", s.Port)
		fmt.Fprintf(out, "Jobs Directory: %s\n", s.JobsDir)
		fmt.Fprintf(out, "Max Upload: %d MB\n", s.MaxUploadMB)
		fmt.Fprintf(out, "Auto Finalize: %v\n", s.AutoFinalize)
		fmt.Fprintf(out, "Authentication Enabled: %v\n", s.Enabled)
		if s.BearerToken != "" {
			fmt.Fprintf(out, "Bearer Token: %s\n", maskToken(s.BearerToken))
		}

		fmt.Fprintf(out, "\nCORS Configuration:\n")
		fmt.Fprintf(out, "Enabled: %v\n", s.CORS.Enabled)
		if s.CORS.Enabled {
			fmt.Fprintf(out, "Allowed Origins: %s\n", strings.Join(s.CORS.AllowedOrigins, ", "))
			fmt.Fprintf(out, "Allowed Methods: %s\n", strings.Join(s.CORS.AllowedMethods, ", "))
			fmt.Fprintf(out, "Allowed Headers: %s\n", strings.Join(s.CORS.AllowedHeaders, ", "))
			fmt.Fprintf(out, "Max Age: %d seconds\n", s.CORS.MaxAge)
		}

		p := cfg.Proposer
		fmt.Fprintf(out, "\nPlan Proposer:\n")
		fmt.Fprintf(out, "Provider: %s\n", p.Provider)
		if p.Provider != config.ProviderNone {
			fmt.Fprintf(out, "Model: %s\n", p.Model)
			fmt.Fprintf(out, "Endpoint: %s\n", p.Endpoint)
			fmt.Fprintf(out, "Timeout: %s\n", p.Timeout())
		}
		fmt.Fprintln(out)
	},
}

// maskToken keeps the first and last two characters
func maskToken(token string) string {
	if len(token) <= 6 {
		return strings.Repeat("*", len(token))
	}
	return token[:2] + strings.Repeat("*", len(token)-4) + token[len(token)-2:]
}

func init() {
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "port to listen on (overrides config)")
	serverCmd.Flags().StringVar(&serverJobsDir, "jobs-dir", "", "directory for job working directories (overrides config)")
	serverCmd.AddCommand(showServerCmd)
	rootCmd.AddCommand(serverCmd)
}
