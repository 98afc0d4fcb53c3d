package domain

import "fmt"

// ErrNoAppVersions means the control plane returned no usable application
// versions, so a launch cannot even be requested. Treated as fatal.
type ErrNoAppVersions struct{}

func (e ErrNoAppVersions) Error() string {
	return "control plane returned no application versions"
}

// ErrBadFilter is a configuration error in a caller-supplied launch filter.
// It is never retried.
type ErrBadFilter struct {
	Filter string
	Reason string
}

func (e ErrBadFilter) Error() string {
	return fmt.Sprintf("invalid launch filter %q: %s", e.Filter, e.Reason)
}

// ServerError carries the HTTP status of a launch that failed after the
// recovery query also came up empty. The status is preserved so the command
// layer can map it to a process exit code.
type ServerError struct {
	Status int
}

func (e ServerError) Error() string {
	return fmt.Sprintf("server error %d", e.Status)
}

// ErrNoAuthToken means no auth token was supplied via flag or environment.
type ErrNoAuthToken struct{}

func (e ErrNoAuthToken) Error() string {
	return "no auth token found"
}
