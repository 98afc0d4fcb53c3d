// Package lifecycle owns the launch, poll, report, terminate cycle for a
// batch of instances against the control plane.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nimbusedge/fleetctl/internal/cloudapi"
	"github.com/nimbusedge/fleetctl/internal/domain"
)

// API is the slice of the control-plane client the controller needs.
type API interface {
	AppVersions(ctx context.Context) ([]int, error)
	CreateInstances(ctx context.Context, req domain.LaunchRequest) ([]domain.Instance, cloudapi.Response, error)
	ListInstances(ctx context.Context, jobID string, maxRetries int) ([]domain.Instance, cloudapi.Response, error)
	GetInstance(ctx context.Context, id string, showDeviceInfo bool) (domain.Instance, cloudapi.Response, error)
	DeleteInstance(ctx context.Context, id string) (cloudapi.Response, error)
}

// Controller drives instance lifecycle operations. It is the single writer
// of the id-to-descriptor mapping it hands back from AwaitStarted.
type Controller struct {
	api    API
	logger *slog.Logger

	pollInterval  time.Duration
	recoveryDelay time.Duration
	workers       int
}

const (
	defaultPollInterval  = 5 * time.Second
	defaultRecoveryDelay = 30 * time.Second
	recoveryListRetries  = 20

	// Deliberately low so batch deletes never flood the control plane.
	defaultTerminateWorkers = 2
)

// Option adjusts controller timing or concurrency, mostly for tests.
type Option func(*Controller)

// WithPollInterval overrides the pause between poll cycles.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithRecoveryDelay overrides the pause before the launch-recovery query.
func WithRecoveryDelay(d time.Duration) Option {
	return func(c *Controller) { c.recoveryDelay = d }
}

// WithTerminateWorkers overrides the batch-termination pool size.
func WithTerminateWorkers(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New creates a Controller over the given control-plane API.
func New(api API, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		api:           api,
		logger:        logger,
		pollInterval:  defaultPollInterval,
		recoveryDelay: defaultRecoveryDelay,
		workers:       defaultTerminateWorkers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Launch requests a batch of instances. If the create call fails with an
// HTTP error status, the request may still have partially succeeded
// server-side, so the controller waits and queries for instances tagged
// with the batch's job id before giving up.
func (c *Controller) Launch(ctx context.Context, req domain.LaunchRequest) ([]domain.Instance, error) {
	versions, err := c.api.AppVersions(ctx)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		c.logger.Error("could not get app versions from server")
		return nil, domain.ErrNoAppVersions{}
	}

	c.logger.Info("requesting instances", "request", req.String())
	created, resp, err := c.api.CreateInstances(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		c.logger.Info("allocated instances", "count", len(created), "job", req.JobID)
		return created, nil
	}

	// The original request may have partially succeeded server-side, so
	// give the control plane time to settle, then look for instances
	// carrying this batch's job id.
	c.logger.Warn("launch request failed, attempting recovery by job id",
		"status", resp.Status, "job", req.JobID)
	if err := sleepCtx(ctx, c.recoveryDelay); err != nil {
		return nil, domain.ServerError{Status: resp.Status}
	}

	recovered, listResp, err := c.api.ListInstances(ctx, req.JobID, recoveryListRetries)
	if err != nil {
		c.logger.Error("recovery query failed", "err", err)
		return nil, domain.ServerError{Status: resp.Status}
	}
	if !listResp.OK() {
		c.logger.Warn("recovery query returned error status", "status", listResp.Status)
		return nil, domain.ServerError{Status: listResp.Status}
	}
	if len(recovered) == 0 {
		c.logger.Warn("recovery query found no instances for job", "job", req.JobID)
		return nil, domain.ServerError{Status: resp.Status}
	}
	c.logger.Info("recovered instances by job id", "count", len(recovered), "job", req.JobID)
	return recovered, nil
}

// AwaitStarted polls the given instance ids until every one reaches a
// terminal state or the deadline passes. The returned map always has
// exactly the input id set as its keys; ids that never went terminal carry
// their last observed descriptor. Context cancellation (e.g. SIGINT) ends
// the wait early with whatever was collected so far.
func (c *Controller) AwaitStarted(ctx context.Context, ids []string, timeout time.Duration) map[string]domain.Instance {
	known := make(map[string]domain.Instance, len(ids))
	terminal := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = domain.Instance{ID: id, State: domain.StateInitial}
	}

	deadline := time.Now().Add(timeout)
	started := 0
	for {
		for _, id := range ids {
			if terminal[id] {
				continue
			}
			inst, resp, err := c.api.GetInstance(ctx, id, true)
			if err != nil {
				if ctx.Err() != nil {
					c.logger.Info("interrupted, skipping ahead")
					return known
				}
				// Transient; the id stays pending and is re-queried
				// next cycle rather than being marked failed.
				c.logger.Warn("error checking instance state", "instance", id, "err", err)
				continue
			}
			if !resp.OK() {
				c.logger.Warn("error status checking instance state", "instance", id, "status", resp.Status)
				continue
			}
			if inst.State == "" {
				c.logger.Warn("no state in instance response", "instance", id)
				continue
			}
			known[id] = inst
			if inst.State.IsTerminal() {
				terminal[id] = true
				if inst.State == domain.StateStarted {
					started++
				}
			}
			if inst.State == domain.StateInitial {
				c.logger.Info("instance still initial", "instance", id)
			}
		}

		histogram := make(map[domain.InstanceState]int, 4)
		for _, inst := range known {
			histogram[inst.State]++
		}
		c.logger.Info("instances launched so far", "started", started, "states", stateCounts(histogram))

		if len(terminal) == len(known) {
			break
		}
		if time.Now().After(deadline) {
			c.logger.Warn("took too long for some instances to start")
			break
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			c.logger.Info("interrupted, skipping ahead")
			break
		}
	}
	return known
}

// Terminate deletes the given instances. Multiple ids are dispatched by a
// small fixed worker pool; one failed termination never blocks the rest.
func (c *Controller) Terminate(ctx context.Context, ids []string) {
	start := time.Now()
	defer func() {
		c.logger.Info("terminate finished", "count", len(ids), "elapsed", time.Since(start).Round(100*time.Millisecond))
	}()

	if len(ids) == 1 {
		c.terminateOne(ctx, ids[0])
		return
	}

	work := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				c.terminateOne(ctx, id)
			}
		}()
	}
	for _, id := range ids {
		work <- id
	}
	close(work)
	wg.Wait()
}

// TerminateJob terminates every instance belonging to one launch batch.
func (c *Controller) TerminateJob(ctx context.Context, jobID string) error {
	instances, resp, err := c.api.ListInstances(ctx, jobID, 1)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return domain.ServerError{Status: resp.Status}
	}
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	c.logger.Info("terminating job instances", "job", jobID, "count", len(ids))
	c.Terminate(ctx, ids)
	return nil
}

// List returns the caller's instances, optionally scoped by job id.
func (c *Controller) List(ctx context.Context, jobID string) ([]domain.Instance, error) {
	instances, resp, err := c.api.ListInstances(ctx, jobID, 1)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, domain.ServerError{Status: resp.Status}
	}
	return instances, nil
}

// Describe fetches one instance's descriptor including device info. A
// not-found (or any HTTP error) status reports found=false, not an error.
func (c *Controller) Describe(ctx context.Context, id string) (domain.Instance, bool, error) {
	inst, resp, err := c.api.GetInstance(ctx, id, true)
	if err != nil {
		return domain.Instance{}, false, err
	}
	if !resp.OK() {
		return domain.Instance{}, false, nil
	}
	return inst, true, nil
}

func (c *Controller) terminateOne(ctx context.Context, id string) {
	c.logger.Info("terminating instance", "instance", id)
	resp, err := c.api.DeleteInstance(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Error("terminate request failed", "instance", id, "err", err)
		}
		return
	}
	if !resp.OK() {
		c.logger.Warn("terminate returned error status", "instance", id, "status", resp.Status)
	}
}

func stateCounts(histogram map[domain.InstanceState]int) string {
	var b strings.Builder
	for _, state := range []domain.InstanceState{
		domain.StateInitial, domain.StateStarting, domain.StateStarted,
		domain.StateFailed, domain.StateTerminated,
	} {
		if n := histogram[state]; n > 0 {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%s=%d", state, n)
		}
	}
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
