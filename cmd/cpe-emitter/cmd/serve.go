package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rezonia/cpe-emitter/internal/server"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server over the document lifecycle.

The API provides endpoints for:
  - POST /api/v1/documents/:id/submit - Submit a stored document
  - POST /api/v1/documents/:id/retry  - Resend a rejected document
  - GET  /api/v1/documents/:id        - Document state
  - POST /api/v1/summaries            - Send a daily summary (RC)
  - POST /api/v1/voids                - Send a void communication (RA)
  - POST /api/v1/batches/:id/poll     - Query a batch ticket
  - POST /api/v1/assemble             - Render unsigned XML
  - POST /api/v1/cdr/parse            - Parse a CDR archive
  - POST /api/v1/verify               - Verify a signed XML
  - GET  /metrics                     - Prometheus metrics
  - GET  /health                      - Health check

Examples:
  # Start server on default port
  cpe-emitter serve

  # Start on custom port, creating tables first
  cpe-emitter serve --address :9090 --migrate

  # Start in debug mode
  cpe-emitter serve --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("address", ":8080", "Server listen address")
	serveCmd.Flags().Bool("debug", false, "Enable debug mode")
	serveCmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().Duration("write-timeout", 90*time.Second, "HTTP write timeout")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Run database migrations before serving")

	bindFlag("server.address", serveCmd.Flags().Lookup("address"))
	bindFlag("server.debug", serveCmd.Flags().Lookup("debug"))
	bindFlag("server.read_timeout", serveCmd.Flags().Lookup("read-timeout"))
	bindFlag("server.write_timeout", serveCmd.Flags().Lookup("write-timeout"))
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveMigrate {
			if err := a.store.Migrate(ctx); err != nil {
				return err
			}
		}

		sc := a.cfg.Server
		opts := []server.Option{
			server.WithLogger(a.log),
			server.WithGatherer(a.registry),
			server.WithParser(a.parser),
		}
		if a.verifier != nil {
			opts = append(opts, server.WithVerifier(a.verifier))
		}
		srv := server.NewServer(&server.Config{
			Address:      sc.Address,
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
			Debug:        sc.Debug,
		}, a.controller, opts...)

		httpServer := &http.Server{
			Addr:         sc.Address,
			Handler:      srv.Handler(),
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			a.log.Info("server starting",
				zap.String("address", sc.Address),
				zap.String("environment", a.cfg.Env),
				zap.Bool("cdr_verification", a.verifier != nil),
			)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		fmt.Fprintln(os.Stderr, "\nShutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
}
