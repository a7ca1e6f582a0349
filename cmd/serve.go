package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/api"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the HTTP API: synchronous discovery, background analysis batches
with progress and cancellation, health probes and Prometheus metrics. The
server drains on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (0 uses server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, port int) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	if port <= 0 {
		port = cfg.Server.Port
	}

	var opts []api.Option
	if rec := appInstance.Recorder(); rec != nil {
		opts = append(opts, api.WithRecorder(rec))
	}
	if history := appInstance.History(); history != nil {
		opts = append(opts, api.WithHistory(history))
	}
	apiServer := api.NewServer(
		appInstance.Discoverer(),
		appInstance.Worker(),
		appInstance.ProgressReader(),
		appInstance.Emitter(),
		cfg,
		logger,
		opts...,
	)
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx := cmd.Context()
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("batches still running at shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
