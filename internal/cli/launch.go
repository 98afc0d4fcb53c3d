package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusedge/fleetctl/internal/domain"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch instances and wait for them to start",
	RunE:  runLaunch,
}

var (
	launchCount      int
	launchRegions    []string
	launchType       string
	launchSSHKeyName string
	launchFilter     string
	launchTimeout    int
)

func init() {
	launchCmd.Flags().IntVar(&launchCount, "count", 1, "number of instances required")
	launchCmd.Flags().StringArrayVar(&launchRegions, "region", nil, "geographic region(s) to target")
	launchCmd.Flags().StringVar(&launchType, "instance-type", "", "instance type (ABI) to create")
	launchCmd.Flags().StringVar(&launchSSHKeyName, "ssh-key-name", "", "name of the uploaded ssh client key to use")
	launchCmd.Flags().StringVar(&launchFilter, "filter", "", "JSON object to filter instances for launch")
	launchCmd.Flags().IntVar(&launchTimeout, "timeout", 600, "seconds to wait for instances to start")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	s, err := newSession()
	if err != nil {
		return err
	}

	var abis []string
	if launchType != "" {
		s.logger.Info("requested instance type (might work)", "type", launchType)
		abis = []string{launchType}
	}

	req, err := domain.NewLaunchRequest(launchCount, launchRegions, abis, launchSSHKeyName, launchFilter)
	if err != nil {
		s.logger.Error("bad launch filter", "err", err)
		return launchError{err}
	}

	ctx := cmd.Context()
	created, err := s.controller.Launch(ctx, req)
	if err != nil {
		var serverErr domain.ServerError
		if errors.As(err, &serverErr) {
			return err
		}
		s.logger.Error("error launching instances", "err", err)
		return launchError{err}
	}

	ids := make([]string, 0, len(created))
	for _, inst := range created {
		ids = append(ids, inst.ID)
	}
	s.logger.Info("allocated instances", "count", len(ids))

	known := s.controller.AwaitStarted(ctx, ids, time.Duration(launchTimeout)*time.Second)

	// Preserve allocation order in the report. Passwords stay in the JSON
	// output: this is the credential handoff fleetrun consumes.
	final := make([]domain.Instance, 0, len(ids))
	for _, id := range ids {
		final = append(final, known[id])
	}
	printInstances(cmd.OutOrStdout(), final, flagJSON, true, launchReportCSV)
	s.logger.Info("finished")
	return nil
}
