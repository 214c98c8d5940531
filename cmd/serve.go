package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/bounty/internal/api"
	"github.com/joescharf/bounty/internal/auth"
	"github.com/joescharf/bounty/internal/ledger"
	"github.com/joescharf/bounty/internal/seed"
	"github.com/joescharf/bounty/internal/verify"
)

const (
	defaultJWTSecret = "change-me"
	shutdownTimeout  = 30 * time.Second
)

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the REST API under /api/v1.
By default it listens on port 8080. Use --port to change it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "Load demo data before serving")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

// newAPIHandler wires the ledger services into the API router.
func newAPIHandler(l *ledger.Ledger) (http.Handler, error) {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		return nil, fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if secret == defaultJWTSecret {
		slog.Warn("using the default auth.jwt_secret; set BOUNTY_AUTH_JWT_SECRET before exposing the API")
	}

	authSvc := auth.NewService(l.Store(), secret, viper.GetDuration("auth.token_ttl"))
	srv := api.NewServer(l, authSvc, newAnalysisService(l), verify.New(l))
	return srv.Router(), nil
}

func serveRun() error {
	l, err := getLedger()
	if err != nil {
		return err
	}
	defer func() { _ = l.Store().Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	if serveSeed {
		d, err := seed.Default()
		if err != nil {
			return err
		}
		res, err := seed.Apply(ctx, l, d)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		slog.Info("seed applied", "skipped", res.Skipped, "users", res.Users, "developers", res.Developers, "bugs", res.Bugs)
	}

	handler, err := newAPIHandler(l)
	if err != nil {
		return err
	}

	port := viper.GetInt("port")
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	fmt.Fprintf(ui.Out, "Serving API at http://localhost:%d/api/v1\n", port)
	return runServer(ctx, srv)
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-errCh

	slog.Info("server stopped gracefully")
	return nil
}
