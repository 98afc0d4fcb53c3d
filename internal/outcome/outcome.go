// Package outcome classifies per-target results of a fan-out batch into a
// closed set of categories and aggregates them for the run summary.
package outcome

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the category of a single target's result.
type Kind int

const (
	Success Kind = iota
	NonZeroExit
	Timeout
	ConnectionFailure
	Other
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case NonZeroExit:
		return "non-zero-exit"
	case Timeout:
		return "timeout"
	case ConnectionFailure:
		return "connection-failure"
	case Other:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the classified result for one target.
type Outcome struct {
	Kind     Kind
	ExitCode int
	Cause    error
}

// ConnectError marks a failure to reach the target at all, as opposed to a
// failure of the remote command.
type ConnectError struct {
	Addr string
	Err  error
}

func (e ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e ConnectError) Unwrap() error {
	return e.Err
}

// Classify maps a raw per-target result to its category. It is a pure
// function: exitCode is only meaningful when err is nil.
func Classify(exitCode int, err error) Outcome {
	if err == nil {
		if exitCode == 0 {
			return Outcome{Kind: Success}
		}
		return Outcome{Kind: NonZeroExit, ExitCode: exitCode}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{Kind: Timeout, Cause: err}
	}
	var connErr ConnectError
	if errors.As(err, &connErr) {
		return Outcome{Kind: ConnectionFailure, Cause: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Outcome{Kind: ConnectionFailure, Cause: err}
	}
	return Outcome{Kind: Other, Cause: err}
}

// Summary holds the per-category counts for one batch operation.
type Summary struct {
	Good     int
	Failed   int
	TimedOut int
	Other    int
	Elapsed  time.Duration
}

// Add buckets one outcome into the summary. ConnectionFailure counts toward
// Other in the final histogram, matching the four reported buckets.
func (s *Summary) Add(o Outcome) {
	switch o.Kind {
	case Success:
		s.Good++
	case NonZeroExit:
		s.Failed++
	case Timeout:
		s.TimedOut++
	default:
		s.Other++
	}
}

// Total returns the number of outcomes recorded.
func (s Summary) Total() int {
	return s.Good + s.Failed + s.TimedOut + s.Other
}

func (s Summary) String() string {
	return fmt.Sprintf("%d good, %d failed, %d timed out, %d other", s.Good, s.Failed, s.TimedOut, s.Other)
}
