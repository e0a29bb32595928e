// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolgw

import (
	"context"
	"sync"

	"github.com/dawnchat/dawnchat-go/internal/events"
)

// State is the orchestrator's lifecycle position.
type State string

const (
	StateIdle      State = "idle"
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Event codes emitted on orchestrator transitions.
const (
	EventRunStarted    = "run_started"
	EventTaskAccepted  = "task_accepted"
	EventTaskCompleted = "task_completed"
	EventTaskCancelled = "task_cancelled"
	EventTaskFailed    = "task_failed"
	EventSubmitFailed  = "submit_failed"
	EventWaitFailed    = "wait_failed"
	EventCancelFailed  = "cancel_failed"
)

// Orchestrator drives a single tool call through its lifecycle:
//
//	idle -> pending -> running -> {completed, failed, cancelled}
//
// One task at a time. A sync tool call (the host answers inline) transitions
// pending -> completed directly, never visiting running. Every transition and
// failure is emitted through the sink.
//
// One Run or Cancel at a time; the internal lock protects snapshot reads
// against a concurrent Run, not interleaved Runs.
type Orchestrator struct {
	client *Client
	sink   events.Sink

	mu       sync.Mutex
	state    State
	taskID   string
	progress float64
	message  string
	result   any
	lastErr  *Error
}

// NewOrchestrator wraps the client. A nil sink gets a fresh broadcaster so
// external listeners can always subscribe via Sink().
func NewOrchestrator(client *Client, sink events.Sink) *Orchestrator {
	if sink == nil {
		sink = events.NewBroadcaster()
	}
	return &Orchestrator{client: client, sink: sink, state: StateIdle}
}

// Sink exposes the event sink for subscription.
func (o *Orchestrator) Sink() events.Sink { return o.sink }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TaskID returns the last known task id, surviving Reset for display.
func (o *Orchestrator) TaskID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.taskID
}

// Progress returns the last normalized progress value.
func (o *Orchestrator) Progress() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Message returns the last progress message.
func (o *Orchestrator) Message() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.message
}

// Result returns the result of the last completed run.
func (o *Orchestrator) Result() any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Err returns the typed error of the last failed run, or nil.
func (o *Orchestrator) Err() *Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Reset returns the orchestrator to idle. The last task id is kept for
// display; progress, result, and error are cleared.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateIdle
	o.progress = 0
	o.message = ""
	o.result = nil
	o.lastErr = nil
}

// Run submits the request and blocks until the task reaches a terminal
// state. The returned result is normalized. Failures come back as *Error
// after the matching state transition and event emission.
func (o *Orchestrator) Run(ctx context.Context, req CallRequest) (any, error) {
	o.Reset()
	o.setState(StatePending)
	o.emit(events.LevelInfo, EventRunStarted, "tool run started", map[string]any{
		"tool_name": req.ToolName,
		"mode":      req.Mode,
	})

	resp, err := o.client.Call(ctx, req)
	if err != nil {
		classified := Classify(err)
		ferr := wrapError(CodeSubmitFailed, classified.Message, classified)
		ferr.Retriable = classified.Retriable
		ferr.Status = classified.Status
		ferr.Detail = classified.Detail
		o.fail(ferr)
		o.emit(events.LevelError, EventSubmitFailed, ferr.Message, map[string]any{
			"tool_name": req.ToolName,
			"code":      string(classified.Code),
		})
		return nil, ferr
	}

	if !resp.Async() {
		// Sync dispatch: the running phase is skipped entirely.
		result := NormalizeResult(resp.Result)
		o.complete(result, 1)
		o.emit(events.LevelInfo, EventTaskCompleted, "tool completed synchronously", map[string]any{
			"tool_name": req.ToolName,
		})
		return result, nil
	}

	o.accept(resp.TaskID)
	o.emit(events.LevelInfo, EventTaskAccepted, "task accepted", map[string]any{
		"tool_name": req.ToolName,
		"task_id":   resp.TaskID,
	})

	task, err := o.client.WaitForCompletion(ctx, resp.TaskID, WaitOptions{
		OnProgress: o.onProgress,
	})
	if err != nil {
		werr := Classify(err)
		o.fail(werr)
		o.emit(events.LevelError, EventWaitFailed, werr.Message, map[string]any{
			"task_id": resp.TaskID,
			"code":    string(werr.Code),
		})
		return nil, werr
	}

	switch task.Status {
	case StatusCompleted:
		o.complete(task.Result, 1)
		o.emit(events.LevelInfo, EventTaskCompleted, "task completed", map[string]any{
			"task_id": resp.TaskID,
		})
		return task.Result, nil

	case StatusCancelled:
		cerr := newError(CodeTaskCancelled, "task was cancelled")
		o.cancelTerminal(cerr)
		o.emit(events.LevelWarn, EventTaskCancelled, cerr.Message, map[string]any{
			"task_id": resp.TaskID,
		})
		return nil, cerr

	default:
		msg := task.Error
		if msg == "" {
			msg = "task failed"
		}
		ferr := newError(CodeTaskFailed, msg)
		o.fail(ferr)
		o.emit(events.LevelError, EventTaskFailed, msg, map[string]any{
			"task_id": resp.TaskID,
			"status":  task.Status,
		})
		return nil, ferr
	}
}

// Cancel asks the host to cancel the in-flight task. With no task in flight
// it returns false without touching the network. On transport failure the
// state is left as-is and the error is returned alongside false.
func (o *Orchestrator) Cancel(ctx context.Context) (bool, error) {
	o.mu.Lock()
	taskID := o.taskID
	inFlight := o.state == StatePending || o.state == StateRunning
	o.mu.Unlock()

	if taskID == "" || !inFlight {
		return false, nil
	}

	if err := o.client.CancelTask(ctx, taskID); err != nil {
		cerr := Classify(err)
		o.emit(events.LevelError, EventCancelFailed, cerr.Message, map[string]any{
			"task_id": taskID,
			"code":    string(cerr.Code),
		})
		return false, cerr
	}

	o.cancelTerminal(newError(CodeTaskCancelled, "task was cancelled"))
	o.emit(events.LevelWarn, EventTaskCancelled, "task cancelled by caller", map[string]any{
		"task_id": taskID,
	})
	return true, nil
}

// =============================================================================
// INTERNAL TRANSITIONS
// =============================================================================

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) accept(taskID string) {
	o.mu.Lock()
	o.taskID = taskID
	o.state = StateRunning
	o.mu.Unlock()
}

func (o *Orchestrator) onProgress(progress float64, message string) {
	o.mu.Lock()
	o.progress = progress
	o.message = message
	o.mu.Unlock()
}

func (o *Orchestrator) complete(result any, progress float64) {
	o.mu.Lock()
	o.state = StateCompleted
	o.result = result
	o.progress = progress
	o.mu.Unlock()
}

// fail transitions to failed unless a cancellation already won.
func (o *Orchestrator) fail(err *Error) {
	o.mu.Lock()
	if o.state != StateCancelled {
		o.state = StateFailed
	}
	o.lastErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) cancelTerminal(err *Error) {
	o.mu.Lock()
	o.state = StateCancelled
	o.lastErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) emit(level events.Level, code, message string, ctx map[string]any) {
	o.sink.Emit(events.Event{Level: level, Code: code, Message: message, Context: ctx})
}
