package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/logger"
)

const multiplexedStream = "application/vnd.docker.multiplexed-stream"

// APIError represents an error response from the hosted container service
type APIError struct {
	Message string `json:"message"`
	Status  int    `json:"-"`
	Method  string `json:"-"`
	Path    string `json:"-"`
}

// Error implements the error interface for APIError
func (e *APIError) Error() string {
	return fmt.Sprintf("hosted backend error: %s %s: %s (status: %d)", e.Method, e.Path, e.Message, e.Status)
}

// IsNotFound returns true if the error is a not found error
func (e *APIError) IsNotFound() bool {
	return e.Status == http.StatusNotFound
}

// IsRateLimited returns true if the error is a rate limit error
func (e *APIError) IsRateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// IsServerError returns true if the error is a server error
func (e *APIError) IsServerError() bool {
	return e.Status >= http.StatusInternalServerError
}

// Hosted runs jobs on a remote service speaking the Docker Engine API
type Hosted struct {
	httpClient   *retryablehttp.Client
	baseURL      string
	accessKey    string
	secretKey    string
	instanceType string
}

var _ Backend = (*Hosted)(nil)

// NewHosted creates a client for the hosted container service
func NewHosted(cfg config.ExecutionBackendConfig) (*Hosted, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	rc.RetryMax = cfg.RetryAttempts - 1
	rc.RetryWaitMin = cfg.RetryDelay
	rc.RetryWaitMax = cfg.RetryDelay
	rc.Backoff = fixedBackoff
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = logger.Leveled{}

	return &Hosted{
		httpClient:   rc,
		baseURL:      strings.TrimSuffix(cfg.Endpoint, "/"),
		accessKey:    cfg.AccessKey,
		secretKey:    cfg.SecretKey,
		instanceType: cfg.InstanceType,
	}, nil
}

// fixedBackoff waits the same delay between every attempt
func fixedBackoff(min, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return min
}

// checkRetry retries connection errors, rate limiting and server errors
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		logger.Warnf("Retrying hosted backend request after error: %v", err)
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		logger.Warnf("Retrying hosted backend request due to status code: %d", resp.StatusCode)
		return true, nil
	}
	return false, nil
}

// doRequest performs a request and returns the raw response
func (h *Hosted) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var raw interface{}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		raw = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, h.baseURL+path, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(h.accessKey, h.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logger.Debugf("Making hosted backend request: method=%s, path=%s", method, path)
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	return resp, nil
}

// call performs a request and decodes a JSON response into v
func (h *Hosted) call(ctx context.Context, method, path string, body, v interface{}) error {
	resp, err := h.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if v != nil && len(data) > 0 {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse response body: %w", err)
		}
	}
	return nil
}

// Run creates and starts a container on the hosted service
func (h *Hosted) Run(ctx context.Context, spec RunSpec) (string, error) {
	labels := withManagedLabel(spec.Labels)
	if h.instanceType != "" {
		labels[InstanceTypeLabel] = h.instanceType
	}

	hostCfg := &container.HostConfig{}
	for _, m := range spec.Mounts {
		bind := m.Source + ":" + m.Target
		if m.ReadOnly {
			bind += ":ro"
		}
		hostCfg.Binds = append(hostCfg.Binds, bind)
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}

	req := container.CreateRequest{
		Config: &container.Config{
			Image:  spec.Image,
			Cmd:    spec.Cmd,
			Env:    envList(spec.Env),
			Labels: labels,
		},
		HostConfig: hostCfg,
	}

	var created container.CreateResponse
	if err := h.call(ctx, http.MethodPost, "/containers/create", req, &created); err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("failed to create container: empty id in response")
	}

	if err := h.call(ctx, http.MethodPost, "/containers/"+created.ID+"/start", nil, nil); err != nil {
		return "", fmt.Errorf("failed to start container %s: %w", created.ID, err)
	}
	logger.Debugf("Started hosted container %s from image %s", created.ID, spec.Image)
	return created.ID, nil
}

// Inspect returns the current status of a container
func (h *Hosted) Inspect(ctx context.Context, id string) (*ContainerStatus, error) {
	var raw json.RawMessage
	if err := h.call(ctx, http.MethodGet, "/containers/"+id+"/json", nil, &raw); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}

	var info container.InspectResponse
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to parse inspect result: %w", err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return nil, fmt.Errorf("inspect of container %s returned no state", id)
	}

	created, _ := time.Parse(time.RFC3339Nano, info.Created)
	return &ContainerStatus{
		ID:        info.ID,
		Status:    string(info.State.Status),
		ExitCode:  info.State.ExitCode,
		CreatedAt: created,
		Raw:       raw,
	}, nil
}

// Logs returns the stdout and stderr of a container
func (h *Hosted) Logs(ctx context.Context, id string) (string, error) {
	path := "/containers/" + id + "/logs?stdout=1&stderr=1"
	resp, err := h.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get logs of container %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return "", &APIError{Message: strings.TrimSpace(string(data)), Status: resp.StatusCode, Method: http.MethodGet, Path: path}
	}

	var buf bytes.Buffer
	if strings.HasPrefix(resp.Header.Get("Content-Type"), multiplexedStream) {
		_, err = stdcopy.StdCopy(&buf, &buf, resp.Body)
	} else {
		_, err = io.Copy(&buf, resp.Body)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read logs of container %s: %w", id, err)
	}
	return buf.String(), nil
}

// List returns all managed containers on the hosted service
func (h *Hosted) List(ctx context.Context) ([]ContainerSummary, error) {
	f, err := filters.ToJSON(filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")))
	if err != nil {
		return nil, fmt.Errorf("failed to encode filters: %w", err)
	}

	var containers []container.Summary
	path := "/containers/json?all=1&filters=" + url.QueryEscape(f)
	if err := h.call(ctx, http.MethodGet, path, nil, &containers); err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]ContainerSummary, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerSummary{
			ID:        c.ID,
			State:     string(c.State),
			CreatedAt: time.Unix(c.Created, 0),
			Labels:    c.Labels,
		})
	}
	return out, nil
}

// Remove force-removes a container
func (h *Hosted) Remove(ctx context.Context, id string) (RemoveOutcome, error) {
	err := h.call(ctx, http.MethodDelete, "/containers/"+id+"?force=1", nil, nil)
	if isNotFound(err) {
		return AlreadyGone, nil
	}
	if err != nil {
		return RemoveFailed, fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return Removed, nil
}

// Wait blocks until the container is no longer running
func (h *Hosted) Wait(ctx context.Context, id string) (int, error) {
	var resp container.WaitResponse
	path := "/containers/" + id + "/wait?condition=" + string(container.WaitConditionNotRunning)
	if err := h.call(ctx, http.MethodPost, path, nil, &resp); err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
		}
		return 0, fmt.Errorf("failed to wait for container %s: %w", id, err)
	}
	if resp.Error != nil && resp.Error.Message != "" {
		return int(resp.StatusCode), fmt.Errorf("container %s wait error: %s", id, resp.Error.Message)
	}
	return int(resp.StatusCode), nil
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}
