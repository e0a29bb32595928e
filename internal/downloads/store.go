// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package downloads

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dawnchat/dawnchat-go/internal/util"
)

// IDStore maps caller keys (model ids) to host-assigned download task ids in
// a JSON file, so a restarted client can reattach to downloads it started.
// Every mutation rewrites the whole file atomically. A missing or corrupted
// file reads as empty rather than failing: losing the mapping only costs
// reattachment, never correctness.
type IDStore struct {
	mu   sync.Mutex
	path string
}

// NewIDStore creates a store backed by the file at path. The file and its
// directory are created on first write.
func NewIDStore(path string) *IDStore {
	return &IDStore{path: path}
}

// Load reads the full mapping.
func (s *IDStore) Load() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the task id stored under key.
func (s *IDStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.load()[key]
	return id, ok
}

// Set stores one key -> task id pair.
func (s *IDStore) Set(key, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping := s.load()
	mapping[key] = taskID
	return s.save(mapping)
}

// Remove deletes the key and returns the task id it held, if any.
func (s *IDStore) Remove(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping := s.load()
	removed, ok := mapping[key]
	if !ok {
		return "", nil
	}
	delete(mapping, key)
	if err := s.save(mapping); err != nil {
		return "", err
	}
	return removed, nil
}

// UpsertMany merges pairs into the mapping in one write.
func (s *IDStore) UpsertMany(pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mapping := s.load()
	for k, v := range pairs {
		mapping[k] = v
	}
	return s.save(mapping)
}

// load must be called with the lock held.
func (s *IDStore) load() map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]string{}
	}
	var mapping map[string]string
	if err := json.Unmarshal(data, &mapping); err != nil || mapping == nil {
		return map[string]string{}
	}
	return mapping
}

// save must be called with the lock held.
func (s *IDStore) save(mapping map[string]string) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task id mapping: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write task id mapping: %w", err)
	}
	return nil
}
