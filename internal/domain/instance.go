package domain

import (
	"net"
	"strconv"
)

// InstanceState is the control-plane lifecycle state of an instance.
type InstanceState string

const (
	StateInitial    InstanceState = "initial"
	StateStarting   InstanceState = "starting"
	StateStarted    InstanceState = "started"
	StateFailed     InstanceState = "failed"
	StateTerminated InstanceState = "terminated"
)

// IsTerminal reports whether no further state transition will occur.
func (s InstanceState) IsTerminal() bool {
	switch s {
	case StateStarted, StateFailed, StateTerminated:
		return true
	}
	return false
}

// SSHTarget holds the connection coordinates the control plane assigns to a
// started instance. Password may be empty when key-based auth is configured.
type SSHTarget struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
}

// Addr returns the host:port dial address for the target, defaulting to 22.
func (t SSHTarget) Addr() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Instance is the descriptor the control plane reports for one compute
// instance. The client never sets State; it only observes transitions.
type Instance struct {
	ID         string         `json:"instanceId"`
	State      InstanceState  `json:"state"`
	Job        string         `json:"job"`
	SSH        *SSHTarget     `json:"ssh,omitempty"`
	DeviceInfo map[string]any `json:"device-info,omitempty"`

	// Diagnostic fields passed through from the control plane.
	AppVersion map[string]any `json:"app-version,omitempty"`
	Progress   string         `json:"progress,omitempty"`
	Failure    string         `json:"failure,omitempty"`
}

// Started reports whether the instance is started and reachable over SSH.
func (i Instance) Started() bool {
	return i.State == StateStarted && i.SSH != nil && i.SSH.Host != ""
}
