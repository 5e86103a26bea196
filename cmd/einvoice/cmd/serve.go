package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoice-engine/internal/server"
)

var (
	serverAddr     string
	serverDebug    bool
	readTimeout    time.Duration
	writeTimeout   time.Duration
	requestTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server exposing the engine.

Endpoints:
  - GET  /health                                   - Health check
  - POST /api/v1/detect                            - Identify the dialect
  - POST /api/v1/convert?target=                   - Convert Facturae <-> UBL
  - POST /api/v1/validate?format=                  - Validate a document
  - POST /api/v1/verify                            - Verify a XAdES signature
  - POST /api/v1/invoices?target=&tenant=          - Process and submit JSON invoice data
  - GET  /api/v1/submissions/:registry?tenant=     - Query registry status
  - POST /api/v1/submissions/:registry/cancel?tenant= - Cancel a submission

Examples:
  # Start on the configured address (SERVER_ADDRESS, default :8080)
  einvoice serve

  # Start in debug mode on another port
  einvoice serve --address :9090 --debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (default: SERVER_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable gin debug mode and request logging")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 5*time.Minute, "HTTP write timeout")
	serveCmd.Flags().DurationVar(&requestTimeout, "request-timeout", 2*time.Minute, "Per-request processing timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	addr := serverAddr
	if addr == "" {
		addr = cfg.ServerAddress
	}

	srv := server.NewServer(&server.Config{
		Address:        addr,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		RequestTimeout: requestTimeout,
		Debug:          serverDebug,
	}, server.Services{
		Codec:     e.codec,
		Validator: e.validator,
		Verifier:  e.verifier,
		Pipeline:  e.pipeline,
		Delivery:  e.orchestrator,
		Logger:    logger("server"),
	})

	logger("server").WithField("tenants", len(e.tenants.IDs())).Info("Engine ready")
	return srv.Run(ctx)
}
