package commands

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/chat-relay/internal/store/rabbitmq"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued tasks from RabbitMQ and send replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.QueueBackend != "rabbitmq" {
				return errors.New("worker requires QUEUE_BACKEND=rabbitmq")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			pl, err := a.pipeline(ctx)
			if err != nil {
				return err
			}
			if err := a.startSweeper(ctx); err != nil {
				return err
			}

			consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency)
			if err != nil {
				return err
			}
			defer consumer.Close()

			return consumer.Run(ctx, pl.Handle)
		},
	}
}
