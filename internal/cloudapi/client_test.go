package cloudapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusedge/fleetctl/internal/domain"
)

const testRetryDelay = 10 * time.Millisecond

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"value": 1623}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	start := time.Now()
	resp, err := c.do(context.Background(), http.MethodGet, "/info/app-versions", nil, nil, 2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.EqualValues(t, 3, calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 2*testRetryDelay)
}

func TestDoReturnsStatusWhenRetriesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "overloaded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	resp, err := c.do(context.Background(), http.MethodGet, "/instances", nil, nil, 1)
	require.NoError(t, err, "HTTP error statuses must not surface as errors")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)

	var body map[string]string
	assert.True(t, resp.Decode(&body))
	assert.Equal(t, "overloaded", body["error"])
}

func TestDoSendsAuthHeaders(t *testing.T) {
	var gotVersion, gotToken, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("X-Fleet-API-Version")
		gotToken = r.Header.Get("X-Fleet-Auth-Token")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "secret-token", testRetryDelay, discardLogger())
	_, err := c.AppVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", gotVersion)
	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, "application/json", gotAccept)
}

func TestDeleteInstanceRetriesBadGatewayOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	resp, err := c.DeleteInstance(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.EqualValues(t, 2, calls.Load())
}

func TestDeleteInstanceDoesNotRetryOtherStatuses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	resp, err := c.DeleteInstance(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestListInstancesAcceptsLegacyIDKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"my": [{"id": "i-1", "state": "started", "job": "j-1"}, {"instanceId": "i-2", "state": "starting"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	instances, resp, err := c.ListInstances(context.Background(), "", 0)
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.Len(t, instances, 2)
	assert.Equal(t, "i-1", instances[0].ID)
	assert.Equal(t, domain.StateStarted, instances[0].State)
	assert.Equal(t, "i-2", instances[1].ID)
}

func TestListInstancesScopesByJob(t *testing.T) {
	var gotJob string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotJob = r.URL.Query().Get("job")
		w.Write([]byte(`{"my": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	_, _, err := c.ListInstances(context.Background(), "job-42", 0)
	require.NoError(t, err)
	assert.Equal(t, "job-42", gotJob)
}

func TestGetInstanceSetsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("show-device-info"))
		w.Write([]byte(`{"state": "started", "job": "j-1", "ssh": {"host": "10.0.0.5", "port": 2222, "user": "fleet"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	inst, resp, err := c.GetInstance(context.Background(), "i-9", true)
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Equal(t, "i-9", inst.ID)
	require.NotNil(t, inst.SSH)
	assert.Equal(t, "10.0.0.5:2222", inst.SSH.Addr())
}

func TestNetworkFailurePropagatesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, "1", "tok", testRetryDelay, discardLogger())
	_, err := c.do(ctx, http.MethodGet, "/instances", nil, nil, 0)
	require.Error(t, err)
}
