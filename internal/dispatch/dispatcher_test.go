package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedge/fleetctl/internal/domain"
	"github.com/nimbusedge/fleetctl/internal/outcome"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner simulates per-instance remote execution: an exit code, an
// error, or a delay long enough to trip the per-task timeout.
type fakeRunner struct {
	exitCodes map[string]int
	errs      map[string]error
	delays    map[string]time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, inst domain.Instance, command string) (int, error) {
	if d, ok := f.delays[inst.ID]; ok {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(d):
		}
	}
	if err, ok := f.errs[inst.ID]; ok {
		return -1, err
	}
	return f.exitCodes[inst.ID], nil
}

func startedInstance(id string) domain.Instance {
	return domain.Instance{
		ID:    id,
		State: domain.StateStarted,
		SSH:   &domain.SSHTarget{Host: "10.0.0.1", Port: 22, User: "fleet"},
	}
}

func TestRunOnAllClassifiesMixedResults(t *testing.T) {
	// Five hosts: exit codes 0, 0, 1, 0 and one timeout.
	instances := []domain.Instance{
		startedInstance("i-1"),
		startedInstance("i-2"),
		startedInstance("i-3"),
		startedInstance("i-4"),
		startedInstance("i-5"),
	}
	runner := &fakeRunner{
		exitCodes: map[string]int{"i-1": 0, "i-2": 0, "i-3": 1, "i-4": 0},
		delays:    map[string]time.Duration{"i-5": time.Second},
	}
	d := New(runner, nil, discardLogger())

	summary := d.RunOnAll(context.Background(), instances, "uname", 50*time.Millisecond)

	assert.Equal(t, 3, summary.Good)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.TimedOut)
	assert.Equal(t, 0, summary.Other)
}

func TestRunOnAllTimeoutIsolatedPerHost(t *testing.T) {
	instances := []domain.Instance{
		startedInstance("slow"),
		startedInstance("fast"),
	}
	runner := &fakeRunner{
		exitCodes: map[string]int{"fast": 0},
		delays:    map[string]time.Duration{"slow": time.Second},
	}
	d := New(runner, nil, discardLogger())

	start := time.Now()
	summary := d.RunOnAll(context.Background(), instances, "uname", 50*time.Millisecond)

	assert.Equal(t, 1, summary.Good, "the fast host must not be affected by the slow one")
	assert.Equal(t, 1, summary.TimedOut)
	assert.Less(t, time.Since(start), 500*time.Millisecond,
		"the batch must not wait beyond the per-task timeout")
}

func TestRunOnAllSkipsUnstartedInstances(t *testing.T) {
	instances := []domain.Instance{
		startedInstance("i-1"),
		{ID: "i-2", State: domain.StateFailed},
		{ID: "i-3", State: domain.StateStarted}, // started but no ssh info
	}
	runner := &fakeRunner{exitCodes: map[string]int{"i-1": 0}}
	d := New(runner, nil, discardLogger())

	summary := d.RunOnAll(context.Background(), instances, "uname", 0)

	assert.Equal(t, 1, summary.Total(), "only reachable started instances are targeted")
	assert.Equal(t, 1, summary.Good)
}

func TestRunOnAllCountsConnectionAndOtherFailures(t *testing.T) {
	instances := []domain.Instance{
		startedInstance("refused"),
		startedInstance("weird"),
	}
	runner := &fakeRunner{
		errs: map[string]error{
			"refused": outcome.ConnectError{Addr: "10.0.0.1:22", Err: errors.New("connection refused")},
			"weird":   errors.New("ssh: handshake failed"),
		},
	}
	d := New(runner, nil, discardLogger())

	summary := d.RunOnAll(context.Background(), instances, "uname", 0)

	assert.Equal(t, 2, summary.Other, "connection failures and unexpected errors bucket as other")
	assert.Equal(t, 0, summary.Good)
}

func TestRunOnAllCompletesWithEmptyFleet(t *testing.T) {
	d := New(&fakeRunner{}, nil, discardLogger())
	summary := d.RunOnAll(context.Background(), nil, "uname", time.Second)
	require.Equal(t, 0, summary.Total())
}

func TestLoginShellWrapsCommand(t *testing.T) {
	assert.Equal(t, `/bin/bash --login -c "uname -a"`, LoginShell("uname -a"))
}
