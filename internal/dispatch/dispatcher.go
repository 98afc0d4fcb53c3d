// Package dispatch fans one shell command out over many instances
// concurrently, with per-host timeouts and isolation between hosts.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nimbusedge/fleetctl/internal/domain"
	"github.com/nimbusedge/fleetctl/internal/outcome"
	"github.com/nimbusedge/fleetctl/internal/results"
)

// Runner is the remote-execution capability: run one command on one
// instance, bounded by the context, returning the remote exit code.
type Runner interface {
	Run(ctx context.Context, inst domain.Instance, command string) (int, error)
}

// Dispatcher runs a command across a fleet and aggregates the outcomes.
type Dispatcher struct {
	runner Runner
	sink   *results.Sink
	logger *slog.Logger
}

// New creates a Dispatcher. sink may be nil when no result log is wanted.
func New(runner Runner, sink *results.Sink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{runner: runner, sink: sink, logger: logger}
}

// LoginShell wraps a command string for execution under a login shell, so
// the remote user's profile environment applies.
func LoginShell(command string) string {
	return fmt.Sprintf("/bin/bash --login -c %q", command)
}

// RunOnAll executes command on every started instance concurrently. Each
// host gets its own timeout; exceeding it cancels only that host's task.
// The batch completes once every task has finished, failed, or timed out,
// and always yields a full summary.
func (d *Dispatcher) RunOnAll(ctx context.Context, instances []domain.Instance, command string, perTaskTimeout time.Duration) outcome.Summary {
	start := time.Now()

	targets := make([]domain.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Started() {
			targets = append(targets, inst)
		}
	}
	d.logger.Info("dispatching command", "targets", len(targets), "skipped", len(instances)-len(targets))

	outcomes := make([]outcome.Outcome, len(targets))
	var wg sync.WaitGroup
	for i, inst := range targets {
		wg.Add(1)
		go func(i int, inst domain.Instance) {
			defer wg.Done()
			outcomes[i] = d.runOne(ctx, inst, command, perTaskTimeout)
		}(i, inst)
	}
	wg.Wait()

	var summary outcome.Summary
	for i, o := range outcomes {
		d.report(targets[i], o)
		summary.Add(o)
	}
	summary.Elapsed = time.Since(start)
	d.logger.Info("command batch finished",
		"summary", summary.String(),
		"elapsed", summary.Elapsed.Round(100*time.Millisecond),
	)
	return summary
}

func (d *Dispatcher) runOne(ctx context.Context, inst domain.Instance, command string, perTaskTimeout time.Duration) outcome.Outcome {
	taskCtx := ctx
	if perTaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, perTaskTimeout)
		defer cancel()
	}
	rc, err := d.runner.Run(taskCtx, inst, command)
	if err == nil && d.sink != nil {
		if werr := d.sink.Write("returncode", rc, inst.ID); werr != nil {
			d.logger.Warn("result log write failed", "err", werr)
		}
	}
	return outcome.Classify(rc, err)
}

func (d *Dispatcher) report(inst domain.Instance, o outcome.Outcome) {
	id := abbrev(inst.ID)
	switch o.Kind {
	case outcome.Success:
	case outcome.NonZeroExit:
		d.logger.Warn("non-zero result code", "instance", id, "code", o.ExitCode)
	case outcome.Timeout:
		d.logger.Warn("task timed out", "instance", id)
	case outcome.ConnectionFailure:
		d.logger.Warn("could not connect", "instance", id, "err", o.Cause)
	default:
		d.logger.Warn("unexpected task result", "instance", id, "type", fmt.Sprintf("%T", o.Cause), "err", o.Cause)
	}
}
