package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/config"
	"github.com/rezonia/einvoice-engine/internal/logging"
)

var (
	version = "1.0.0"

	// Global flags
	envFile      string
	verbose      bool
	outputFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "einvoice",
	Short: "Generate, sign and submit Spanish electronic invoices",
	Long: `einvoice converts invoices between Facturae 3.2.2 and UBL 2.1, validates
them, signs them with XAdES-EPES and submits them to FACe or FACeB2B.

Settings come from the environment or a .env file (see --env-file):
  CERTIFICATES_DIR, TENANTS_FILE, SCHEMA_DIR, TRUST_STORE, GATEWAY_TIMEOUT,
  DATABASE_URL, RABBITMQ_URL, LOG_LEVEL, LOG_FORMAT

Examples:
  # Identify the dialect of a document
  einvoice detect invoice.xml

  # Convert Facturae to UBL
  einvoice convert invoice.xsig --target ubl -o invoice-ubl.xml

  # Build, sign and submit an invoice from JSON data
  einvoice process invoice.json --tenant acme --target facturae

  # Poll a submission
  einvoice status REG-2026-000123 --tenant acme`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd.Name() != "serve")
	},
}

// Execute runs the root command; SIGINT and SIGTERM cancel its context
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")
}

func initConfig(reserveStdout bool) error {
	c, err := config.Load(envFile)
	if err != nil {
		return err
	}
	lc := c.Logging()
	if verbose {
		lc.Level = "debug"
	}
	// command output owns stdout
	if reserveStdout && lc.Output == "stdout" {
		lc.Output = "stderr"
	}
	if err := logging.SetupStandard(lc); err != nil {
		return err
	}
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("unsupported output format %q", outputFormat)
	}
	cfg = c
	return nil
}

func logger(component string) logrus.FieldLogger {
	return logging.Component(logrus.StandardLogger(), component)
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
