package cli

import (
	"github.com/spf13/cobra"

	"github.com/nimbusedge/fleetctl/internal/domain"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show details of allocated instances",
	RunE:  runList,
}

var (
	listInstanceIDs []string
	listShowPW      bool
)

func init() {
	listCmd.Flags().StringArrayVar(&listInstanceIDs, "instance-id", nil, "instance ID(s) to show (default all)")
	listCmd.Flags().BoolVar(&listShowPW, "show-passwords", false, "include ssh passwords in output")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	ids := listInstanceIDs
	if len(ids) == 0 || (len(ids) == 1 && ids[0] == "ALL") {
		instances, err := s.controller.List(ctx, "")
		if err != nil {
			return err
		}
		s.logger.Info("found allocated instances", "count", len(instances))
		ids = ids[:0]
		for _, inst := range instances {
			ids = append(ids, inst.ID)
		}
	}

	details := make([]domain.Instance, 0, len(ids))
	for _, id := range ids {
		inst, found, err := s.controller.Describe(ctx, id)
		if err != nil {
			s.logger.Error("error getting instance details", "instance", id, "err", err)
			continue
		}
		if !found {
			s.logger.Warn("instance not found", "instance", id)
			continue
		}
		if inst.AppVersion != nil {
			s.logger.Info("instance version", "instance", id, "version", inst.AppVersion["code"])
		}
		if inst.Failure != "" {
			s.logger.Warn("instance failure", "instance", id, "failure", inst.Failure)
		}
		if inst.Progress != "" && inst.State != domain.StateStarted {
			s.logger.Warn("instance progress", "instance", id, "progress", inst.Progress)
		}
		details = append(details, inst)
	}

	printInstances(cmd.OutOrStdout(), details, flagJSON, listShowPW, listReportCSV)
	return nil
}
