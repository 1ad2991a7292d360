// Package heartbeat persists the pilot's liveness timestamps to disk and
// answers whether the pilot should be considered suspended (spec §4.4),
// grounded on original_source/pilot/util/heartbeat.py. The atomic
// temp-file-then-rename persistence is generalized from the teacher's
// agent/internal/connection.loadState/saveState.
package heartbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gridpilot/pilot/internal/model"
)

const fileName = "pilot_heartbeat.json"

// Store guards the on-disk heartbeat document with an in-process mutex.
// A cross-process advisory flock is layered on top in lockFile (lock_unix.go)
// — additive to, never a substitute for, this mutex (spec §9 decision #3).
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store backed by dir/pilot_heartbeat.json.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, fileName)}
}

// Update writes the current time as last_pilot_update, preserving whatever
// last_server_update was already on disk, grounded on update_pilot_heartbeat.
func (s *Store) Update(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.LastPilotUpdate = now.Unix()
	return s.write(doc)
}

// UpdateServer records the last time the server acknowledged this pilot,
// grounded on heartbeat.py's last_server_update field.
func (s *Store) UpdateServer(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.LastServerUpdate = now.Unix()
	return s.write(doc)
}

// Read returns the current on-disk document, grounded on
// read_pilot_heartbeat. A missing file returns the zero document, not an
// error — matching the original's "no heartbeat file yet" treatment of a
// fresh pilot.
func (s *Store) Read() (model.HeartbeatDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// LastUpdate returns the last_pilot_update timestamp, grounded on
// get_last_update.
func (s *Store) LastUpdate() (time.Time, error) {
	doc, err := s.Read()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(doc.LastPilotUpdate, 0), nil
}

// IsSuspended reports whether more than limit has elapsed since the last
// pilot heartbeat, grounded exactly on is_suspended(limit=600):
// "now - last_pilot_update > limit".
func (s *Store) IsSuspended(now time.Time, limit time.Duration) (bool, error) {
	last, err := s.LastUpdate()
	if err != nil {
		return false, err
	}
	if last.Unix() == 0 {
		return false, nil
	}
	return now.Sub(last) > limit, nil
}

func (s *Store) read() (model.HeartbeatDoc, error) {
	if unlock, err := s.lockFile(); err == nil {
		defer unlock()
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.HeartbeatDoc{}, nil
		}
		return model.HeartbeatDoc{}, fmt.Errorf("heartbeat: failed to read store: %w", err)
	}
	var doc model.HeartbeatDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.HeartbeatDoc{}, fmt.Errorf("heartbeat: corrupted store: %w", err)
	}
	return doc, nil
}

// write persists doc atomically via temp file + rename, identical in shape
// to the teacher's connection.saveState.
func (s *Store) write(doc model.HeartbeatDoc) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("heartbeat: failed to marshal store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("heartbeat: failed to create store dir: %w", err)
	}
	if unlock, lockErr := s.lockFile(); lockErr == nil {
		defer unlock()
	}
	tmp, err := os.CreateTemp(dir, "pilot_heartbeat.*.tmp")
	if err != nil {
		return fmt.Errorf("heartbeat: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("heartbeat: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("heartbeat: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("heartbeat: failed to rename temp file into place: %w", err)
	}
	ok = true
	return nil
}
