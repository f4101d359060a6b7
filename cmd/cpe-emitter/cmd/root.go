package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/cpe-emitter/internal/config"
)

var (
	version = "1.0.0"

	// Global flags
	configFile   string
	verbose      bool
	outputFormat string

	v = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "cpe-emitter",
	Short: "Emit Peruvian electronic tax documents to SUNAT",
	Long: `CPE Emitter assembles, signs and submits electronic payment vouchers
(comprobantes de pago electronicos) to SUNAT and tracks their lifecycle.

Supports:
  - Invoices, receipts, credit and debit notes, dispatch advices
  - Daily summaries (RC) and void communications (RA) with ticket polling
  - CDR parsing and signature verification

Configuration is read from cpe.yaml, CPE_* environment variables and .env.

Examples:
  # Submit a stored document
  cpe-emitter submit 42

  # Send today's receipts in a daily summary and poll its ticket
  cpe-emitter summary --emitter 1 --date 2026-03-09
  cpe-emitter poll 7

  # Start the HTTP API
  cpe-emitter serve --address :8080`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: cpe.yaml in ., ./config, /etc/cpe-emitter)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("database-dsn", "", "Database DSN (env: CPE_DATABASE_DSN)")

	bindFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	bindFlag("database.dsn", rootCmd.PersistentFlags().Lookup("database-dsn"))
}

func loadConfig() (*config.Config, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	cfg, err := config.Load(v, opts...)
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return cfg, nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
