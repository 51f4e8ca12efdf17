package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes the HTTP API and
// optionally runs batches on a schedule.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the HTTP API",
		Long: `Listens on server.port (or $PORT) for health checks, Prometheus scrapes, and
batch requests. When server.schedule is set, a batch also runs on that interval.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, appInstance, listenAddr(appInstance.Config().Server.Port))
}

// listenAddr honors $PORT so the service runs unchanged on Cloud Run.
func listenAddr(port int) string {
	if env := os.Getenv("PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 {
			port = p
		}
	}
	return net.JoinHostPort("", strconv.Itoa(port))
}

func serve(ctx context.Context, appInstance App, addr string) error {
	logger := appInstance.Logger()
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(appInstance.Handler(), "newsroom-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	scheduleCtx, cancelSchedule := context.WithCancel(ctx)
	defer cancelSchedule()
	scheduleDone := make(chan struct{})
	go func() {
		defer close(scheduleDone)
		appInstance.Schedule(scheduleCtx)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	cancelSchedule()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	<-scheduleDone
	return serveErr
}
