// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package downloads

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dawnchat/dawnchat-go/internal/events"
	"github.com/dawnchat/dawnchat-go/internal/toolgw"
)

// DefaultPollInterval is the delay between registry refresh sweeps.
const DefaultPollInterval = 2 * time.Second

// refreshConcurrency bounds parallel status fetches during one sweep.
const refreshConcurrency = 4

// Registry tracks download tasks by id and keeps their snapshots fresh by
// polling the facade. Tracked entries are removed only by an explicit Clear;
// a completed or failed download stays visible until the caller drops it.
type Registry struct {
	facade   *Facade
	sink     events.Sink
	interval time.Duration

	mu    sync.Mutex
	tasks map[string]Task
}

// NewRegistry creates a registry over the facade. A nil sink discards
// update events.
func NewRegistry(facade *Facade, sink events.Sink) *Registry {
	if sink == nil {
		sink = events.Discard{}
	}
	return &Registry{
		facade:   facade,
		sink:     sink,
		interval: DefaultPollInterval,
		tasks:    make(map[string]Task),
	}
}

// WithPollInterval overrides the sweep delay.
func (r *Registry) WithPollInterval(d time.Duration) *Registry {
	if d > 0 {
		r.interval = d
	}
	return r
}

// Track starts following a task id. The snapshot stays a pending placeholder
// until the next refresh. Tracking an id twice is a no-op.
func (r *Registry) Track(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[taskID]; ok {
		return
	}
	r.tasks[taskID] = Task{TaskID: taskID, Status: StatusPending}
}

// TrackTask starts following an already-fetched snapshot.
func (r *Registry) TrackTask(task Task) {
	if task.TaskID == "" {
		return
	}
	r.mu.Lock()
	r.tasks[task.TaskID] = task
	r.mu.Unlock()
}

// Get returns the last known snapshot of the task.
func (r *Registry) Get(taskID string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	return t, ok
}

// Snapshot returns every tracked task, ordered by task id for stable output.
func (r *Registry) Snapshot() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Clear forgets one task. Returns whether it was tracked.
func (r *Registry) Clear(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[taskID]
	delete(r.tasks, taskID)
	return ok
}

// ClearAll forgets every tracked task.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.tasks = make(map[string]Task)
	r.mu.Unlock()
}

// RefreshAll re-fetches every tracked task once. A task the host no longer
// knows is marked not_found but stays tracked. Transport failures abort the
// sweep and are returned; per-task 404s are not errors.
func (r *Registry) RefreshAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			task, err := r.facade.Get(gctx, id)
			if err != nil {
				var terr *toolgw.Error
				if errors.As(err, &terr) && terr.Code == toolgw.CodeHTTP4xx {
					r.update(Task{TaskID: id, Status: StatusNotFound})
					return nil
				}
				return err
			}
			r.update(*task)
			return nil
		})
	}
	return g.Wait()
}

// Watch sweeps at the configured interval until the context ends.
func (r *Registry) Watch(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.RefreshAll(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.sink.Emit(events.Event{
					Level:   events.LevelWarn,
					Code:    "download_refresh_failed",
					Message: err.Error(),
				})
			}
		}
	}
}

// update stores the snapshot and emits an event when something visible
// changed. Tasks cleared mid-flight stay cleared.
func (r *Registry) update(task Task) {
	r.mu.Lock()
	prev, tracked := r.tasks[task.TaskID]
	if !tracked {
		r.mu.Unlock()
		return
	}
	r.tasks[task.TaskID] = task
	changed := prev.Status != task.Status || prev.Progress != task.Progress
	r.mu.Unlock()

	if changed {
		r.sink.Emit(events.Event{
			Level:   events.LevelInfo,
			Code:    "download_update",
			Message: task.Status,
			Context: map[string]any{
				"task_id":  task.TaskID,
				"status":   task.Status,
				"progress": task.Progress,
				"model_id": task.ModelID,
			},
		})
	}
}
