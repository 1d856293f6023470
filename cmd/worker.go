package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/model"
	"github.com/leadline-ai/leadline/internal/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background task worker",
	Long:  "Polls the task queue and executes deferred work: provider call creation and meeting follow-ups.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		w := tasks.NewWorker(env.Store, tasks.Options{
			PollInterval: time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
			BatchSize:    cfg.Worker.BatchSize,
		})
		w.Register(model.TaskCreateProviderCall, env.Calls.HandleProviderCreate)
		w.Register(model.TaskMeetingFollowUp, env.Booker.HandleFollowUp)

		zap.L().Info("worker started",
			zap.Int("poll_interval_ms", cfg.Worker.PollIntervalMs),
			zap.Int("batch_size", cfg.Worker.BatchSize))

		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
