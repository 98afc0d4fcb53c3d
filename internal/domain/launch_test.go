package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLaunchRequestAssignsFreshJobID(t *testing.T) {
	a, err := NewLaunchRequest(1, nil, nil, "", "")
	require.NoError(t, err)
	b, err := NewLaunchRequest(1, nil, nil, "", "")
	require.NoError(t, err)

	assert.NotEmpty(t, a.JobID)
	assert.NotEqual(t, a.JobID, b.JobID)
}

func TestNewLaunchRequestFilter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		wantErr bool
		reason  string
	}{
		{name: "empty filter", filter: ""},
		{name: "object filter", filter: `{"dar": ">= 1.5"}`},
		{name: "null filter", filter: "null"},
		{name: "invalid json", filter: `{dar: 1}`, wantErr: true, reason: "not valid JSON"},
		{name: "array filter", filter: `[1, 2]`, wantErr: true, reason: "not a JSON object"},
		{name: "scalar filter", filter: `"fast"`, wantErr: true, reason: "not a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLaunchRequest(1, nil, nil, "", tt.filter)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var badFilter ErrBadFilter
			require.ErrorAs(t, err, &badFilter)
			assert.Equal(t, tt.reason, badFilter.Reason)
		})
	}
}

func TestLaunchRequestBodyMergesFilter(t *testing.T) {
	req, err := NewLaunchRequest(3, []string{"eu", "us"}, []string{"arm64-v8a"}, "mykey", `{"ram": 4000000}`)
	require.NoError(t, err)

	body := req.Body()
	assert.Equal(t, 3, body["count"])
	assert.Equal(t, req.JobID, body["job"])
	assert.Equal(t, []string{"eu", "us"}, body["regions"])
	assert.Equal(t, "mykey", body["ssh_key"])
	assert.Equal(t, float64(4000000), body["ram"])
}

func TestInstanceStateTerminal(t *testing.T) {
	assert.True(t, StateStarted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateTerminated.IsTerminal())
	assert.False(t, StateInitial.IsTerminal())
	assert.False(t, StateStarting.IsTerminal())
}

func TestSSHTargetAddrDefaultsPort(t *testing.T) {
	assert.Equal(t, "h.example:22", SSHTarget{Host: "h.example"}.Addr())
	assert.Equal(t, "h.example:2222", SSHTarget{Host: "h.example", Port: 2222}.Addr())
}

func TestInstanceStarted(t *testing.T) {
	assert.True(t, Instance{State: StateStarted, SSH: &SSHTarget{Host: "h"}}.Started())
	assert.False(t, Instance{State: StateStarted}.Started(), "no ssh target")
	assert.False(t, Instance{State: StateStarting, SSH: &SSHTarget{Host: "h"}}.Started())
}
