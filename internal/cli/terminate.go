package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Terminate instances by id, by job, or ALL",
	RunE:  runTerminate,
}

var (
	terminateInstanceIDs []string
	terminateJobID       string
)

func init() {
	terminateCmd.Flags().StringArrayVar(&terminateInstanceIDs, "instance-id", nil, "instance ID(s) to terminate (or ALL)")
	terminateCmd.Flags().StringVar(&terminateJobID, "job", "", "terminate every instance belonging to this job id")
	rootCmd.AddCommand(terminateCmd)
}

func runTerminate(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if terminateJobID != "" {
		return s.controller.TerminateJob(ctx, terminateJobID)
	}

	if len(terminateInstanceIDs) == 0 {
		return fmt.Errorf("no instance ID provided for terminate")
	}

	ids := terminateInstanceIDs
	if len(ids) == 1 && ids[0] == "ALL" {
		instances, err := s.controller.List(ctx, "")
		if err != nil {
			return err
		}
		s.logger.Info("found running instances", "count", len(instances))
		ids = ids[:0]
		for _, inst := range instances {
			ids = append(ids, inst.ID)
		}
	}

	s.controller.Terminate(ctx, ids)
	return nil
}
