// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package downloads

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dawnchat/dawnchat-go/internal/toolgw"
)

// Source identifies where a download pulls from.
type Source string

const (
	SourceHuggingFace Source = "huggingface"
	SourceGitHub      Source = "github"
	SourceHTTP        Source = "http"
)

// Download task statuses reported by the host.
const (
	StatusIdle        = "idle"
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
	StatusNotFound    = "not_found"
)

// Task is one download task snapshot.
type Task struct {
	TaskID          string  `json:"task_id"`
	Backend         string  `json:"backend,omitempty"`
	Source          string  `json:"source,omitempty"`
	Status          string  `json:"status"`
	Progress        float64 `json:"progress"`
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Speed           string  `json:"speed,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
	ModelType       string  `json:"model_type,omitempty"`
	ModelID         string  `json:"model_id,omitempty"`
	HFRepoID        string  `json:"hf_repo_id,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	URL             string  `json:"url,omitempty"`
	SaveDir         string  `json:"save_dir,omitempty"`
	SavePath        string  `json:"save_path,omitempty"`
}

// Terminal reports whether the download can make no further progress.
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNotFound:
		return true
	}
	return false
}

// taskFromPayload builds a Task from a decoded JSON object, tolerating the
// loose typing hosts exhibit (progress as fraction, percentage, or string).
func taskFromPayload(payload map[string]any) Task {
	t := Task{
		TaskID:          str(payload["task_id"]),
		Backend:         str(payload["backend"]),
		Source:          str(payload["source"]),
		Status:          str(payload["status"]),
		Progress:        toolgw.NormalizeProgress(payload["progress"]),
		DownloadedBytes: i64(payload["downloaded_bytes"]),
		TotalBytes:      i64(payload["total_bytes"]),
		Speed:           str(payload["speed"]),
		ErrorMessage:    str(payload["error_message"]),
		ModelType:       str(payload["model_type"]),
		ModelID:         str(payload["model_id"]),
		HFRepoID:        str(payload["hf_repo_id"]),
		Filename:        str(payload["filename"]),
		URL:             str(payload["url"]),
		SaveDir:         str(payload["save_dir"]),
		SavePath:        str(payload["save_path"]),
	}
	if t.Status == "" {
		t.Status = "unknown"
	}
	return t
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func i64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// =============================================================================
// FACADE
// =============================================================================

// StartHFRequest describes a Hugging Face repository download.
type StartHFRequest struct {
	ModelType string
	ModelID   string
	HFRepoID  string
	SaveDir   string
	Filename  string
	UseMirror *bool
	Resume    bool
}

// StartURLRequest describes a direct URL download (github or http source).
type StartURLRequest struct {
	Source    Source
	URL       string
	SavePath  string
	TaskID    string
	UseMirror *bool
	Resume    bool
}

// Facade is the HTTP surface for download tasks. It rides on the shared host
// transport, so failures carry the tool error taxonomy.
type Facade struct {
	host *toolgw.Client
}

// NewFacade wraps the host client.
func NewFacade(host *toolgw.Client) *Facade {
	return &Facade{host: host}
}

// StartHF begins downloading a model from a Hugging Face repository.
func (f *Facade) StartHF(ctx context.Context, req StartHFRequest) (*Task, error) {
	body := map[string]any{
		"source":     string(SourceHuggingFace),
		"model_type": req.ModelType,
		"model_id":   req.ModelID,
		"hf_repo_id": req.HFRepoID,
		"save_dir":   req.SaveDir,
		"resume":     req.Resume,
	}
	if req.Filename != "" {
		body["filename"] = req.Filename
	}
	if req.UseMirror != nil {
		body["use_mirror"] = *req.UseMirror
	}
	return f.start(ctx, body)
}

// StartURL begins a direct URL download. The source must be github or http.
func (f *Facade) StartURL(ctx context.Context, req StartURLRequest) (*Task, error) {
	if req.Source != SourceGitHub && req.Source != SourceHTTP {
		return nil, fmt.Errorf("source must be %s or %s for a url download, got %q", SourceGitHub, SourceHTTP, req.Source)
	}
	body := map[string]any{
		"source":    string(req.Source),
		"url":       req.URL,
		"save_path": req.SavePath,
		"task_id":   req.TaskID,
		"resume":    req.Resume,
	}
	if req.UseMirror != nil {
		body["use_mirror"] = *req.UseMirror
	}
	return f.start(ctx, body)
}

func (f *Facade) start(ctx context.Context, body map[string]any) (*Task, error) {
	var resp struct {
		Task map[string]any `json:"task"`
	}
	if err := f.host.Do(ctx, http.MethodPost, "/downloads/start", body, nil, &resp); err != nil {
		return nil, err
	}
	task := taskFromPayload(resp.Task)
	return &task, nil
}

// Get fetches one task snapshot.
func (f *Facade) Get(ctx context.Context, taskID string) (*Task, error) {
	var resp struct {
		Task map[string]any `json:"task"`
	}
	if err := f.host.Do(ctx, http.MethodGet, "/downloads/task/"+url.PathEscape(taskID), nil, nil, &resp); err != nil {
		return nil, err
	}
	task := taskFromPayload(resp.Task)
	if task.TaskID == "" {
		task.TaskID = taskID
	}
	return &task, nil
}

// Pause suspends a running download.
func (f *Facade) Pause(ctx context.Context, taskID string) error {
	return f.host.Do(ctx, http.MethodPost, "/downloads/task/"+url.PathEscape(taskID)+"/pause", map[string]any{}, nil, nil)
}

// Cancel aborts a download.
func (f *Facade) Cancel(ctx context.Context, taskID string) error {
	return f.host.Do(ctx, http.MethodPost, "/downloads/task/"+url.PathEscape(taskID)+"/cancel", map[string]any{}, nil, nil)
}

// PendingFilter narrows a Pending listing. Zero values match everything.
type PendingFilter struct {
	ModelType    string
	TaskIDPrefix string
}

// Pending lists the host's unfinished downloads, filtered client-side.
func (f *Facade) Pending(ctx context.Context, filter PendingFilter) ([]Task, error) {
	var resp struct {
		Tasks []map[string]any `json:"tasks"`
	}
	if err := f.host.Do(ctx, http.MethodGet, "/downloads/pending", nil, nil, &resp); err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(resp.Tasks))
	for _, item := range resp.Tasks {
		t := taskFromPayload(item)
		if filter.ModelType != "" && t.ModelType != filter.ModelType {
			continue
		}
		if filter.TaskIDPrefix != "" && !strings.HasPrefix(t.TaskID, filter.TaskIDPrefix) {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
