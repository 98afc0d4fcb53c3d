package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// LaunchRequest describes one batch of instances to allocate. It is built
// once and never mutated afterwards; JobID correlates the batch server-side
// so the instance list can be recovered if the launch response is lost.
type LaunchRequest struct {
	Count      int
	Regions    []string
	ABIs       []string
	SSHKeyName string
	JobID      string
	Filter     map[string]any
}

// NewLaunchRequest builds a LaunchRequest with a fresh correlation JobID.
// jsonFilter, if non-empty, must be a JSON object; its keys are merged into
// the request body. Anything else is a configuration error, not retryable.
func NewLaunchRequest(count int, regions, abis []string, sshKeyName, jsonFilter string) (LaunchRequest, error) {
	req := LaunchRequest{
		Count:      count,
		Regions:    regions,
		ABIs:       abis,
		SSHKeyName: sshKeyName,
		JobID:      uuid.New().String(),
	}
	if jsonFilter != "" {
		var parsed any
		if err := json.Unmarshal([]byte(jsonFilter), &parsed); err != nil {
			return LaunchRequest{}, ErrBadFilter{Filter: jsonFilter, Reason: "not valid JSON"}
		}
		if parsed != nil {
			filter, ok := parsed.(map[string]any)
			if !ok {
				return LaunchRequest{}, ErrBadFilter{Filter: jsonFilter, Reason: "not a JSON object"}
			}
			req.Filter = filter
		}
	}
	return req, nil
}

// Body returns the JSON request body for the create-instances call, with
// any filter keys merged in alongside the standard fields.
func (r LaunchRequest) Body() map[string]any {
	body := map[string]any{
		"count":   r.Count,
		"job":     r.JobID,
		"regions": r.Regions,
		"abis":    r.ABIs,
		"ssh_key": r.SSHKeyName,
	}
	for k, v := range r.Filter {
		body[k] = v
	}
	return body
}

// String renders the request without leaking anything secret.
func (r LaunchRequest) String() string {
	return fmt.Sprintf("launch{count=%d job=%s regions=%v abis=%v}", r.Count, r.JobID, r.Regions, r.ABIs)
}
