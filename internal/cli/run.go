package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusedge/fleetctl/internal/config"
	"github.com/nimbusedge/fleetctl/internal/dispatch"
	"github.com/nimbusedge/fleetctl/internal/domain"
	"github.com/nimbusedge/fleetctl/internal/results"
)

// NewFleetrunCommand builds the fleetrun root command: run one shell
// command on every started instance from a launched-instances JSON file.
func NewFleetrunCommand() *cobra.Command {
	var (
		command   string
		timeLimit float64
		dataDir   string
		debug     bool
	)

	cmd := &cobra.Command{
		Use:           "fleetrun <launched-json-file>",
		Short:         "Run a shell command on a fleet of started instances",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       config.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if debug {
				cfg.Debug = true
			}
			logger := config.NewLogger(cfg)

			instances, err := loadInstances(args[0])
			if err != nil {
				return err
			}
			logger.Info("loaded instance descriptors", "count", len(instances), "file", args[0])

			start := time.Now()
			sink, err := results.Open(cfg.DataDir, "fleetrun", start)
			if err != nil {
				return err
			}
			defer sink.Close()
			logger.Info("writing results", "path", sink.Path())

			if err := sink.Write("programArgs", map[string]any{
				"command":   command,
				"timeLimit": timeLimit,
				"file":      args[0],
			}, "<master>"); err != nil {
				logger.Warn("result log write failed", "err", err)
			}

			runner := dispatch.NewSSHRunner(sink, logger)
			dispatcher := dispatch.New(runner, sink, logger)

			perTask := time.Duration(timeLimit * float64(time.Second))
			summary := dispatcher.RunOnAll(cmd.Context(), instances, dispatch.LoginShell(command), perTask)

			elapsed := time.Since(start)
			logger.Info("finished",
				"elapsed", elapsed.Round(time.Second),
				"good", summary.Good,
				"failed", summary.Failed,
				"timed_out", summary.TimedOut,
				"other", summary.Other,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "uname", "the command to execute")
	cmd.Flags().Float64Var(&timeLimit, "time-limit", 0, "per-host time limit in seconds (0 = unlimited)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for the result log (default from config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
	return cmd
}

// loadInstances reads a JSON array of instance descriptors, as printed by
// fleetctl launch --json. A directory path means launched.json inside it.
func loadInstances(path string) ([]domain.Instance, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, "launched.json")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instances file: %w", err)
	}
	var instances []domain.Instance
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("parse instances file %s: %w", path, err)
	}
	return instances, nil
}
