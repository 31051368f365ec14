package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/httpapi"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"github.com/suPer8Hu/chat-relay/internal/signature"
	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: `Run the HTTP webhook endpoint. With QUEUE_BACKEND=local the same process
also runs the reply workers; with QUEUE_BACKEND=rabbitmq tasks are published
for "relay worker" processes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		queue   relay.Enqueuer
		drainFn func()
	)
	switch cfg.QueueBackend {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		queue = pub
		drainFn = func() {}
	default:
		pl, err := a.pipeline(ctx)
		if err != nil {
			return err
		}
		// workers outlive the request context so queued tasks drain on shutdown
		wq := relay.NewWorkQueue(cfg.QueueSize, cfg.WorkerConcurrency, pl.Handle)
		wq.Start(context.WithoutCancel(ctx))
		queue = wq
		drainFn = wq.Close
	}

	if err := a.startSweeper(ctx); err != nil {
		return err
	}

	ingress := relay.NewIngress(signature.NewVerifier(cfg.ChannelSecret), queue, a.claims, a.journal)
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(handlers.NewHandler(cfg, ingress, a.store, a.repo))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			drainFn()
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	drainFn()
	return nil
}
