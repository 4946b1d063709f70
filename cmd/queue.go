package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/queue"
)

var (
	queueProjectID string
	queuePriority  int
	queuePayload   string
	queueOnce      bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage and execute deferred enrichment work",
}

var queueAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enqueue an enrichment pass for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s := queue.NewScheduler(env.store, env.queueExecutor, cfg.Queue, nil)
		item, err := s.Enqueue(ctx, queueProjectID, queuePriority, json.RawMessage(queuePayload))
		if err != nil {
			return err
		}

		fmt.Println(item.ID)
		return nil
	},
}

var queueWorkCmd = &cobra.Command{
	Use:   "work",
	Short: "Poll the queue and execute pending items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s := queue.NewScheduler(env.store, env.queueExecutor, cfg.Queue, nil)

		if _, err := s.ReapStale(ctx); err != nil {
			zap.L().Warn("stale reap failed", zap.Error(err))
		}

		if queueOnce {
			s.Poll(ctx)
			s.Wait()
			return nil
		}

		s.Start(ctx)
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete a project's completed queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s := queue.NewScheduler(env.store, env.queueExecutor, cfg.Queue, nil)
		n, err := s.ClearCompleted(ctx, queueProjectID)
		if err != nil {
			return err
		}

		fmt.Printf("cleared %d items\n", n)
		return nil
	},
}

var queueReapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Requeue items stuck in processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s := queue.NewScheduler(env.store, env.queueExecutor, cfg.Queue, nil)
		n, err := s.ReapStale(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("requeued %d items\n", n)
		return nil
	},
}

func init() {
	queueAddCmd.Flags().StringVar(&queueProjectID, "project", "", "project ID (required)")
	queueAddCmd.Flags().IntVar(&queuePriority, "priority", 0, "item priority, higher runs first")
	queueAddCmd.Flags().StringVar(&queuePayload, "payload", "{}", "item payload JSON")
	_ = queueAddCmd.MarkFlagRequired("project")

	queueWorkCmd.Flags().BoolVar(&queueOnce, "once", false, "poll once and exit")

	queueClearCmd.Flags().StringVar(&queueProjectID, "project", "", "project ID (required)")
	_ = queueClearCmd.MarkFlagRequired("project")

	queueCmd.AddCommand(queueAddCmd, queueWorkCmd, queueClearCmd, queueReapCmd)
	rootCmd.AddCommand(queueCmd)
}
