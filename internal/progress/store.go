// Package progress persists ProgressSnapshots so that a later host process
// can answer progress polls for a transfer started by an earlier one.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const latestFile = "latest.json"

var (
	// ErrNoSnapshot is returned when nothing has been written for a job yet.
	ErrNoSnapshot = errors.New("no progress snapshot")
	// ErrInvalidJobID is returned for ids that cannot be used as file names.
	ErrInvalidJobID = errors.New("invalid job id")
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Store keeps one JSON file per job plus a copy of the most recent write.
// Progress ticks are throttled per job; status changes always go through.
type Store struct {
	dir      string
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     map[string]models.ProgressSnapshot
}

// NewStore creates the snapshot directory if needed.
// interval is the minimum spacing between two non-status-changing writes
// for the same job; zero disables throttling.
func NewStore(dir string, interval time.Duration) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("progress directory is empty")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating progress directory %s: %w", dir, err)
	}
	return &Store{
		dir:      dir,
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]models.ProgressSnapshot),
	}, nil
}

// Dir returns the directory snapshots are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists snap for snap.JobID. It reports whether the snapshot was
// actually written: throttled ticks and writes after a terminal snapshot
// are dropped. Percent never decreases within a run.
func (s *Store) Write(snap models.ProgressSnapshot) (bool, error) {
	if !jobIDPattern.MatchString(snap.JobID) {
		return false, fmt.Errorf("%w: %q", ErrInvalidJobID, snap.JobID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.last[snap.JobID]
	if seen && prev.Status.IsTerminal() {
		log.Debugf("[Progress] Dropping %s snapshot for %s, job already finished", snap.Status, snap.JobID)
		return false, nil
	}

	statusChanged := !seen || prev.Status != snap.Status
	if !statusChanged && !snap.Status.IsTerminal() && !s.allow(snap.JobID) {
		return false, nil
	}

	if seen && !snap.Status.IsTerminal() && snap.Percent < prev.Percent {
		snap.Percent = prev.Percent
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, snap.JobID+".json"), data); err != nil {
		return false, err
	}
	if err := writeFileAtomic(filepath.Join(s.dir, latestFile), data); err != nil {
		return false, err
	}

	s.last[snap.JobID] = snap
	if snap.Status.IsTerminal() {
		delete(s.limiters, snap.JobID)
	}
	return true, nil
}

// allow must be called with s.mu held.
func (s *Store) allow(jobID string) bool {
	if s.interval <= 0 {
		return true
	}
	lim, ok := s.limiters[jobID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(s.interval), 1)
		s.limiters[jobID] = lim
	}
	return lim.Allow()
}

// Read returns the snapshot stored for jobID.
func (s *Store) Read(jobID string) (models.ProgressSnapshot, error) {
	if !jobIDPattern.MatchString(jobID) {
		return models.ProgressSnapshot{}, fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return readSnapshot(filepath.Join(s.dir, jobID+".json"))
}

// Latest returns the most recently written snapshot of any job.
func (s *Store) Latest() (models.ProgressSnapshot, error) {
	return readSnapshot(filepath.Join(s.dir, latestFile))
}

// Remove deletes the stored snapshot for jobID. Missing files are not an error.
func (s *Store) Remove(jobID string) error {
	if !jobIDPattern.MatchString(jobID) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	s.mu.Lock()
	delete(s.last, jobID)
	delete(s.limiters, jobID)
	s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, jobID+".json"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing snapshot for %s: %w", jobID, err)
	}
	return nil
}

// Prune removes finished per-job snapshots older than maxAge and returns how
// many were deleted. The latest snapshot is always kept.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == latestFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		snap, err := readSnapshot(filepath.Join(s.dir, name))
		if err != nil {
			log.WithError(err).Debugf("[Progress] Skipping unreadable snapshot %s during prune", name)
			continue
		}
		if !snap.Status.IsTerminal() || snap.UpdatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			log.WithError(err).Warnf("[Progress] Failed to prune snapshot %s", name)
			continue
		}
		removed++
	}
	return removed, nil
}

func readSnapshot(path string) (models.ProgressSnapshot, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.ProgressSnapshot{}, ErrNoSnapshot
		}
		return models.ProgressSnapshot{}, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	var snap models.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return models.ProgressSnapshot{}, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return snap, nil
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never see a half-written snapshot.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing snapshot %s: %w", path, err)
	}
	return nil
}
