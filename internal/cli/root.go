// Package cli defines the cobra command surface for fleetctl and fleetrun.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusedge/fleetctl/internal/cloudapi"
	"github.com/nimbusedge/fleetctl/internal/config"
	"github.com/nimbusedge/fleetctl/internal/domain"
	"github.com/nimbusedge/fleetctl/internal/lifecycle"
)

var rootCmd = &cobra.Command{
	Use:           "fleetctl",
	Short:         "Manage remote compute instances",
	Long:          "fleetctl launches, lists, and terminates remote compute instances through the control-plane API.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       config.Version,
}

var (
	flagAuthToken string
	flagAPIURL    string
	flagJSON      bool
	flagDebug     bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAuthToken, "auth-token", "", "control-plane auth token (default $FLEET_AUTH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "control-plane base URL")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON-format output")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "debug logging")
}

// Execute runs the fleetctl command tree and returns the process exit code.
// Server-side HTTP statuses above 400 are reduced by 400 to fit the exit
// code space; any other launch failure maps to 13.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

// launchError marks any launch failure that is not a server status, so it
// maps to the fixed launch error code.
type launchError struct{ err error }

func (e launchError) Error() string { return e.err.Error() }
func (e launchError) Unwrap() error { return e.err }

// exitCodeFor maps command errors to process exit codes. Server HTTP error
// statuses above 400 are folded into the small exit-code space by
// subtracting 400; any other launch failure uses the fixed code 13.
func exitCodeFor(err error) int {
	var serverErr domain.ServerError
	if errors.As(err, &serverErr) {
		code := serverErr.Status
		if code > 400 {
			code -= 400
		}
		return code
	}
	var le launchError
	if errors.As(err, &le) {
		return 13
	}
	return 1
}

// session bundles what every subcommand needs once flags are resolved.
type session struct {
	cfg        *config.Config
	logger     *slog.Logger
	controller *lifecycle.Controller
}

// newSession loads configuration, applies flag overrides, and wires the
// control-plane client and controller. Fails when no auth token is found.
func newSession() (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagAPIURL != "" {
		cfg.APIURL = flagAPIURL
	}
	if flagAuthToken != "" {
		cfg.AuthToken = flagAuthToken
	}
	if flagDebug {
		cfg.Debug = true
	}
	if cfg.AuthToken == "" {
		return nil, domain.ErrNoAuthToken{}
	}

	logger := config.NewLogger(cfg)
	api := cloudapi.NewClient(cfg.APIURL, cfg.APIVersion, cfg.AuthToken, cfg.RetryDelay, logger)
	controller := lifecycle.New(api, logger, lifecycle.WithTerminateWorkers(cfg.TerminateWorkers))
	return &session{cfg: cfg, logger: logger, controller: controller}, nil
}
