package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nimbusedge/fleetctl/internal/domain"
)

const (
	headerAPIVersion = "X-Fleet-API-Version"
	headerAuthToken  = "X-Fleet-Auth-Token"
)

// Response is the outcome of one logical control-plane request. HTTP error
// statuses are reported here, not as Go errors; only network-level failures
// surface as errors from the client.
type Response struct {
	Body   []byte
	Status int
}

// OK reports whether the status is in the 2xx range.
func (r Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode best-effort-parses the body into v. An unparseable body leaves v
// untouched and is not an error; callers get whatever the server sent.
func (r Response) Decode(v any) bool {
	if len(r.Body) == 0 {
		return false
	}
	return json.Unmarshal(r.Body, v) == nil
}

// Client performs control-plane requests with bounded fixed-delay retry on
// HTTP error statuses. The underlying transport retries network-level
// failures; status-code handling stays in an explicit loop here.
type Client struct {
	baseURL    string
	apiVersion string
	authToken  string

	retryDelay time.Duration

	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a control-plane client authenticated with authToken.
func NewClient(baseURL, apiVersion, authToken string, retryDelay time.Duration, logger *slog.Logger) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil // suppress default logging
	// Retry only transport-level failures; HTTP statuses are handled by do.
	retryClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	return &Client{
		baseURL:    baseURL,
		apiVersion: apiVersion,
		authToken:  authToken,
		retryDelay: retryDelay,
		http:       retryClient.StandardClient(),
		logger:     logger,
	}
}

// AppVersions fetches the application versions the control plane will accept
// for new instances. An HTTP error status yields an empty list, not an error.
func (c *Client) AppVersions(ctx context.Context) ([]int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/info/app-versions", nil, nil, 1)
	if err != nil {
		return nil, err
	}
	var entries []struct {
		Value int `json:"value"`
	}
	if !resp.Decode(&entries) {
		return nil, nil
	}
	versions := make([]int, 0, len(entries))
	for _, e := range entries {
		versions = append(versions, e.Value)
	}
	c.logger.Debug("app versions", "versions", versions)
	return versions, nil
}

// CreateInstances posts a launch request. On an error status the raw
// response is returned so the launch-recovery path can see the status code.
func (c *Client) CreateInstances(ctx context.Context, req domain.LaunchRequest) ([]domain.Instance, Response, error) {
	resp, err := c.do(ctx, http.MethodPost, "/instances", req.Body(), nil, 0)
	if err != nil || !resp.OK() {
		return nil, resp, err
	}
	var created []wireInstance
	resp.Decode(&created)
	instances := make([]domain.Instance, 0, len(created))
	for _, w := range created {
		instances = append(instances, w.fold())
	}
	return instances, resp, nil
}

// ListInstances returns the caller's instances, optionally scoped to one
// launch batch by job id.
func (c *Client) ListInstances(ctx context.Context, jobID string, maxRetries int) ([]domain.Instance, Response, error) {
	var params url.Values
	if jobID != "" {
		params = url.Values{"job": {jobID}}
	}
	resp, err := c.do(ctx, http.MethodGet, "/instances", nil, params, maxRetries)
	if err != nil || !resp.OK() {
		return nil, resp, err
	}
	var listing struct {
		My []wireInstance `json:"my"`
	}
	resp.Decode(&listing)
	instances := make([]domain.Instance, 0, len(listing.My))
	for _, w := range listing.My {
		instances = append(instances, w.fold())
	}
	return instances, resp, nil
}

// GetInstance fetches the descriptor for one instance id.
func (c *Client) GetInstance(ctx context.Context, id string, showDeviceInfo bool) (domain.Instance, Response, error) {
	var params url.Values
	if showDeviceInfo {
		params = url.Values{"show-device-info": {"true"}}
	}
	resp, err := c.do(ctx, http.MethodGet, "/instances/"+id, nil, params, 1)
	if err != nil || !resp.OK() {
		return domain.Instance{}, resp, err
	}
	var w wireInstance
	resp.Decode(&w)
	inst := w.fold()
	inst.ID = id
	return inst, resp, nil
}

// DeleteInstance requests termination of one instance. A 502 from the
// gateway gets one extra retry beyond the ordinary budget: a terminate
// request must not be dropped on a transient gateway hiccup.
func (c *Client) DeleteInstance(ctx context.Context, id string) (Response, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/instances/"+id, nil, nil, 0)
	if err != nil {
		return resp, err
	}
	if resp.Status == http.StatusBadGateway {
		c.logger.Warn("bad gateway terminating instance, retrying once", "instance", id)
		if err := c.wait(ctx); err != nil {
			return resp, err
		}
		return c.do(ctx, http.MethodDelete, "/instances/"+id, nil, nil, 0)
	}
	return resp, nil
}

// --- internal ---

// wireInstance tolerates the control plane's "id" key alongside the
// "instanceId" key used in descriptor files.
type wireInstance struct {
	domain.Instance
	LegacyID string `json:"id"`
}

func (w wireInstance) fold() domain.Instance {
	inst := w.Instance
	if inst.ID == "" {
		inst.ID = w.LegacyID
	}
	return inst
}

// do performs one logical request. On an HTTP error status it sleeps the
// fixed retry delay and tries again until maxRetries is exhausted, then
// returns the final status and body. Network-level failures are errors.
func (c *Client) do(ctx context.Context, method, path string, body any, params url.Values, maxRetries int) (Response, error) {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request body: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.once(ctx, method, reqURL, payload)
		if err != nil {
			return Response{}, err
		}
		if resp.OK() || attempt >= maxRetries {
			return resp, nil
		}
		c.logger.Warn("error code from server, retrying",
			"status", resp.Status,
			"url", reqURL,
			"retries_left", maxRetries-attempt,
		)
		if err := c.wait(ctx); err != nil {
			return resp, err
		}
	}
}

func (c *Client) once(ctx context.Context, method, reqURL string, payload []byte) (Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(headerAPIVersion, c.apiVersion)
	req.Header.Set(headerAuthToken, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http %s %s: %w", method, reqURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}
	return Response{Body: respBody, Status: resp.StatusCode}, nil
}

func (c *Client) wait(ctx context.Context) error {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
