// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Defaults for the tool invocation HTTP surface.
const (
	// DefaultBasePath is the path prefix of the tool endpoints.
	DefaultBasePath = "/api/sdk"

	// DefaultMode lets the host decide between sync and async execution.
	DefaultMode = "auto"

	// DefaultToolTimeout is the per-tool execution budget sent to the host,
	// in seconds.
	DefaultToolTimeout = 120.0

	// DefaultPollInterval is the fixed delay between task status polls.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultWaitTimeout bounds how long WaitForCompletion polls before
	// giving up on a task.
	DefaultWaitTimeout = time.Hour

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024
)

// Task statuses reported by the host.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// CallRequest is the body of a tool invocation.
type CallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
	Timeout   float64        `json:"timeout"`
	Mode      string         `json:"mode"`
}

// CallResponse is the host's answer to a tool invocation. Async dispatch
// carries a task id and no result; sync dispatch carries the result inline.
type CallResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	Result any    `json:"result,omitempty"`
}

// Async reports whether the host accepted the call as a background task.
func (r *CallResponse) Async() bool {
	return r.TaskID != ""
}

// Task is one status snapshot of a background tool task.
type Task struct {
	TaskID          string `json:"task_id"`
	Status          string `json:"status"`
	Progress        any    `json:"progress"`
	ProgressMessage string `json:"progress_message"`
	Message         string `json:"message"`
	Result          any    `json:"result"`
	Error           string `json:"error"`
}

// NormalizedProgress applies the progress normalization rule to the raw
// server-reported value.
func (t *Task) NormalizedProgress() float64 {
	return NormalizeProgress(t.Progress)
}

// DisplayMessage prefers the progress message over the general one.
func (t *Task) DisplayMessage() string {
	if t.ProgressMessage != "" {
		return t.ProgressMessage
	}
	return t.Message
}

// Terminal reports whether the status admits no further transitions.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// taskResponse is the wire wrapper around a task snapshot.
type taskResponse struct {
	Status string `json:"status"`
	Task   Task   `json:"task"`
}

// hostEnvelope is the status/message/detail triple every host response may
// carry. A body with status "error" is a failure even on HTTP 200.
type hostEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// ToolInfo describes one tool the host exposes.
type ToolInfo struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	InputSchema       map[string]any `json:"input_schema"`
	Category          string         `json:"category,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	ExecutionStrategy string         `json:"execution_strategy,omitempty"`
	DurationHint      string         `json:"duration_hint,omitempty"`
	SupportsProgress  bool           `json:"supports_progress,omitempty"`
}

// ListToolsOptions filters a tool listing.
type ListToolsOptions struct {
	Namespace          string
	IncludeUnavailable bool
}

// ProgressFunc receives normalized progress updates during a wait.
type ProgressFunc func(progress float64, message string)

// WaitOptions tunes WaitForCompletion. Zero values take the client defaults.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
	OnProgress   ProgressFunc
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a stateless request helper against the tool invocation surface.
// Safe for concurrent use.
type Client struct {
	baseURL      string
	basePath     string
	httpClient   *http.Client
	pollInterval time.Duration
	waitTimeout  time.Duration
	pluginID     string
}

// NewClient creates a client for the host at baseURL (scheme and authority,
// e.g. "http://127.0.0.1:8431").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		basePath:     DefaultBasePath,
		httpClient:   &http.Client{},
		pollInterval: DefaultPollInterval,
		waitTimeout:  DefaultWaitTimeout,
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithBasePath overrides the endpoint path prefix.
func (c *Client) WithBasePath(path string) *Client {
	c.basePath = "/" + strings.Trim(path, "/")
	return c
}

// WithPollInterval sets the default poll interval for waits.
func (c *Client) WithPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollInterval = d
	}
	return c
}

// WithWaitTimeout sets the default overall wait budget.
func (c *Client) WithWaitTimeout(d time.Duration) *Client {
	if d > 0 {
		c.waitTimeout = d
	}
	return c
}

// WithPluginID attaches a plugin identity header to every request.
func (c *Client) WithPluginID(id string) *Client {
	c.pluginID = id
	return c
}

// Call submits a tool invocation. Mode and timeout default when unset;
// a nil arguments map is sent as an empty object.
func (c *Client) Call(ctx context.Context, req CallRequest) (*CallResponse, error) {
	if req.Mode == "" {
		req.Mode = DefaultMode
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultToolTimeout
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	var resp CallResponse
	if err := c.doJSON(ctx, http.MethodPost, c.basePath+"/tools/call", req, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Mode == "async" && resp.TaskID == "" {
		return nil, newError(CodeInvalidResponse, "async task response missing task_id")
	}
	return &resp, nil
}

// GetTask fetches one status snapshot of the task.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var resp taskResponse
	if err := c.doJSON(ctx, http.MethodGet, c.basePath+"/tasks/"+url.PathEscape(taskID), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Task.TaskID == "" {
		resp.Task.TaskID = taskID
	}
	return &resp.Task, nil
}

// CancelTask asks the host to cancel the task. Best effort: the host only
// honors it for tasks it still considers pending or running.
func (c *Client) CancelTask(ctx context.Context, taskID string) error {
	var resp hostEnvelope
	return c.doJSON(ctx, http.MethodDelete, c.basePath+"/tasks/"+url.PathEscape(taskID), nil, nil, &resp)
}

// ListTools returns the host's tool catalog.
func (c *Client) ListTools(ctx context.Context, opts ListToolsOptions) ([]ToolInfo, error) {
	params := url.Values{}
	if opts.Namespace != "" {
		params.Set("namespace", opts.Namespace)
	}
	if opts.IncludeUnavailable {
		params.Set("include_unavailable", "true")
	}

	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.basePath+"/tools/list", nil, params, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// WaitForCompletion polls the task at a fixed interval until it reaches a
// terminal status or the wait budget elapses. No backoff: the interval is
// constant. OnProgress fires only when the normalized progress or the
// message text actually changed since the previous poll.
//
// A terminal task is returned without error regardless of which terminal
// status it carries; mapping failed/cancelled to errors is the caller's
// decision. A completed task's result comes back already normalized.
// Transient network failures during a poll are logged and retried on the
// next tick; HTTP-level failures propagate immediately.
func (c *Client) WaitForCompletion(ctx context.Context, taskID string, opts WaitOptions) (*Task, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.waitTimeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.pollInterval
	}

	deadline := time.Now().Add(timeout)
	var (
		reported     bool
		lastProgress float64
		lastMessage  string
	)

	for {
		if time.Now().After(deadline) {
			return nil, newError(CodeTaskTimeout, fmt.Sprintf("task %s timed out after %s", taskID, timeout))
		}

		task, err := c.GetTask(ctx, taskID)
		if err != nil {
			terr := Classify(err)
			if terr.Code != CodeNetwork {
				return nil, terr
			}
			// Transient connectivity loss; keep the poll loop alive.
			log.Printf("toolgw: poll error for task %s: %v", taskID, err)
		} else {
			progress := task.NormalizedProgress()
			message := task.DisplayMessage()
			if opts.OnProgress != nil && (!reported || progress != lastProgress || message != lastMessage) {
				opts.OnProgress(progress, message)
				reported = true
				lastProgress = progress
				lastMessage = message
			}
			if task.Terminal() {
				if task.Status == StatusCompleted {
					task.Result = NormalizeResult(task.Result)
				}
				return task, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, Classify(ctx.Err())
		case <-time.After(interval):
		}
	}
}

// Do performs one JSON request against a host endpoint under the client's
// base path. Other host surfaces (downloads, model management) share this
// transport so they inherit the same error classification. path is relative
// to the base path, e.g. "/downloads/pending".
func (c *Client) Do(ctx context.Context, method, path string, body any, params url.Values, out any) error {
	return c.doJSON(ctx, method, c.basePath+path, body, params, out)
}

// doJSON performs one request and decodes the JSON response into out.
// All failure paths come back as *Error.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return wrapError(CodeUnknown, fmt.Sprintf("failed to encode request body: %v", err), err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return wrapError(CodeUnknown, fmt.Sprintf("failed to build request: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.pluginID != "" {
		req.Header.Set("X-Plugin-ID", c.pluginID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapError(CodeNetwork, fmt.Sprintf("request to host failed: %v", err), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return wrapError(CodeNetwork, fmt.Sprintf("failed to read response: %v", err), err)
	}

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, errorDetail(data))
	}

	var envelope hostEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return wrapError(CodeInvalidResponse, fmt.Sprintf("unparsable host response: %v", err), err)
	}
	if envelope.Status == "error" {
		msg := envelope.Message
		if msg == "" {
			msg = "unknown host error"
		}
		e := newError(CodeUnknown, msg)
		e.Detail = envelope.Detail
		return e
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return wrapError(CodeInvalidResponse, fmt.Sprintf("unparsable host response: %v", err), err)
		}
	}
	return nil
}

// errorDetail pulls the best available text out of an HTTP error body.
// Non-JSON bodies degrade to the raw text, trimmed.
func errorDetail(data []byte) string {
	var parsed struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return strings.TrimSpace(string(data))
}
