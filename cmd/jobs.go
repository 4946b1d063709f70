package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/segmenta/prospect-cli/internal/model"
	"github.com/segmenta/prospect-cli/internal/store"
)

var (
	jobsProjectID string
	jobsStatus    string
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control enrichment jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, optionally filtered by project or status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		jobs, err := env.store.ListJobs(ctx, store.JobFilter{
			ProjectID: jobsProjectID,
			Status:    model.JobStatus(jobsStatus),
		})
		if err != nil {
			return eris.Wrap(err, "list jobs")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		j, err := env.store.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get job")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(j.Progress())
	},
}

var jobsStartCmd = &cobra.Command{
	Use:   "start <job-id>",
	Short: "Run a pending job through to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobAction(cmd, args[0], "start")
	},
}

var jobsPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a running job at its next batch boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobAction(cmd, args[0], "pause")
	},
}

var jobsResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobAction(cmd, args[0], "resume")
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running or paused job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return jobAction(cmd, args[0], "cancel")
	},
}

func jobAction(cmd *cobra.Command, jobID, action string) error {
	ctx := cmd.Context()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	j, err := env.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "get job")
	}
	m := env.managerFor(j.ProjectID)

	switch action {
	case "start":
		err = m.Run(ctx, jobID)
	case "pause":
		err = m.Pause(ctx, jobID)
	case "resume":
		err = m.Resume(ctx, jobID)
	case "cancel":
		err = m.Cancel(ctx, jobID)
	}
	if err != nil {
		return err
	}

	zap.L().Info("job "+action+" done", zap.String("job_id", jobID))
	prog, err := m.Progress(ctx, jobID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(prog)
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsProjectID, "project", "", "filter by project ID")
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsStartCmd, jobsPauseCmd, jobsResumeCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}
