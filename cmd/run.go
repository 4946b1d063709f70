package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runProjectID   string
	runDiscover    bool
	runSearchLimit int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full enrichment pass for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		prog, err := env.runProject(ctx, runProjectID, runDiscover, runSearchLimit)
		if err != nil {
			return err
		}

		zap.L().Info("enrichment complete",
			zap.String("project_id", runProjectID),
			zap.Int("processed", prog.ProcessedClients),
			zap.Int("success", prog.SuccessClients),
			zap.Int("failed", prog.FailedClients),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(prog)
	},
}

func init() {
	runCmd.Flags().StringVar(&runProjectID, "project", "", "project ID (required)")
	runCmd.Flags().BoolVar(&runDiscover, "discover", false, "also discover competitors and leads per market")
	runCmd.Flags().IntVar(&runSearchLimit, "search-limit", 10, "search results per market during discovery")
	_ = runCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(runCmd)
}
