package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wobcom/netbox-sub000/internal/pkg/logger"
)

// ValidationError is a diagnosable rejection from the provisioning worker
// (HTTP 422): the output explains what is wrong with the change batch. It is
// deliberately distinct from transport errors, which indicate the worker
// itself misbehaved.
type ValidationError struct {
	Output string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "worker rejected provision: " + e.Output
}

// WorkerAPI is the provisioning worker contract used by the orchestrator.
type WorkerAPI interface {
	Prepare(ctx context.Context, provisionSetID int64) (string, error)
	Diff(ctx context.Context, provisionSetID int64) (string, error)
	Commit(ctx context.Context, provisionSetID int64) (string, error)
	Rollback(ctx context.Context, provisionSetID int64) (string, error)
	Cleanup(ctx context.Context, provisionSetID int64)
}

// WorkerClient talks to the external provisioning worker over HTTP.
type WorkerClient struct {
	baseURL string
	args    []string
	http    *http.Client
}

var _ WorkerAPI = (*WorkerClient)(nil)

// NewWorkerClient creates a worker client. args are forwarded in the prepare
// request body.
func NewWorkerClient(baseURL string, args []string) *WorkerClient {
	return &WorkerClient{
		baseURL: baseURL,
		args:    args,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Prepare asks the worker to validate and render the provision set. A 2xx
// response returns the worker output; a 422 returns a *ValidationError
// carrying the diagnosis; anything else is a transport error.
func (c *WorkerClient) Prepare(ctx context.Context, provisionSetID int64) (string, error) {
	body, err := json.Marshal(map[string]interface{}{"args": c.args})
	if err != nil {
		return "", fmt.Errorf("encode prepare request: %w", err)
	}

	status, out, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/provision/%d", c.baseURL, provisionSetID), body)
	if err != nil {
		return "", err
	}
	switch {
	case status >= 200 && status < 300:
		return out, nil
	case status == http.StatusUnprocessableEntity:
		return "", &ValidationError{Output: out}
	default:
		return "", fmt.Errorf("worker prepare returned %d: %s", status, out)
	}
}

// Diff returns the worker's rendered diff for the provision set.
func (c *WorkerClient) Diff(ctx context.Context, provisionSetID int64) (string, error) {
	return c.action(ctx, provisionSetID, "diff")
}

// Commit asks the worker to commit the prepared provision set.
func (c *WorkerClient) Commit(ctx context.Context, provisionSetID int64) (string, error) {
	return c.action(ctx, provisionSetID, "commit")
}

// Rollback asks the worker to roll back to the state of the provision set.
func (c *WorkerClient) Rollback(ctx context.Context, provisionSetID int64) (string, error) {
	return c.action(ctx, provisionSetID, "rollback")
}

// Cleanup removes worker-side state for an abandoned provision set.
// Best-effort, the response is ignored.
func (c *WorkerClient) Cleanup(ctx context.Context, provisionSetID int64) {
	_, _, err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("%s/provision/%d", c.baseURL, provisionSetID), nil)
	if err != nil {
		logger.Warn("worker cleanup failed",
			zap.Int64("provision_set_id", provisionSetID),
			zap.Error(err),
		)
	}
}

func (c *WorkerClient) action(ctx context.Context, provisionSetID int64, verb string) (string, error) {
	status, out, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/provision/%d/%s", c.baseURL, provisionSetID, verb), nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("worker %s returned %d: %s", verb, status, out)
	}
	return out, nil
}

func (c *WorkerClient) do(ctx context.Context, method, url string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", fmt.Errorf("build worker request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("call worker: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("read worker response: %w", err)
	}
	return resp.StatusCode, string(out), nil
}
