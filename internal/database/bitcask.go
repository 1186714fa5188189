package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go-ytdl-host/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when a key is not found in the database.
	ErrNotFound = errors.New("key not found")
	// ErrLocked is returned by Open while another handle holds the database.
	ErrLocked = bitcask.ErrDatabaseLocked
)

// JobKeyPrefix prefixes every job history record.
const JobKeyPrefix = "job_"

// maxValueSize bounds one stored record.
const maxValueSize = 1 << 20

// DB wraps the bitcask store and serialises access to it.
type DB struct {
	db *bitcask.Bitcask
	sync.RWMutex
	closeOnce sync.Once
	closeErr  error
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", path, err)
	}

	db, err := bitcask.Open(path, bitcask.WithMaxValueSize(maxValueSize), bitcask.WithSync(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	log.Debugf("[DB] Opened %s", path)
	return &DB{db: db}, nil
}

// OpenRetry opens path like Open, retrying while another handle holds the
// lock. The delay doubles after each locked attempt, capped at one second.
func OpenRetry(ctx context.Context, path string, attempts int, delay time.Duration) (*DB, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := Open(path)
		if err == nil {
			return db, nil
		}
		if !errors.Is(err, ErrLocked) {
			return nil, err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		log.Debugf("[DB] %s is locked, retrying in %v (attempt %d/%d)", path, delay, attempt, attempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = min(delay*2, time.Second)
	}
	return nil, lastErr
}

// Close safely closes the database.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		d.Lock()
		defer d.Unlock()
		d.closeErr = d.db.Close()
		if d.closeErr != nil {
			log.Errorf("[DB] Error during database close operation: %v", d.closeErr)
		} else {
			log.Debug("[DB] Database closed")
		}
	})
	return d.closeErr
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	defer d.RUnlock()
	val, err := d.db.Get(key)
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", key, err)
	}
	return val, nil
}

// Put stores a key-value pair.
func (d *DB) Put(key []byte, value []byte) error {
	d.Lock()
	defer d.Unlock()
	if err := d.db.Put(key, value); err != nil {
		return fmt.Errorf("error putting key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	defer d.Unlock()
	if !d.db.Has(key) {
		return ErrNotFound
	}
	if err := d.db.Delete(key); err != nil {
		return fmt.Errorf("error deleting key %s: %w", key, err)
	}
	return nil
}

// Fold iterates over all key-value pairs and calls the provided function.
// Keys whose value disappears mid-iteration are skipped.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	var keys [][]byte
	if err := d.db.Fold(func(key []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return fmt.Errorf("error folding keys: %w", err)
	}

	for _, key := range keys {
		value, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("[DB] Fold: Error getting value for key %s", key)
			continue
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return nil
}

// JobKey returns the storage key for a job id.
func JobKey(jobID string) []byte {
	if strings.HasPrefix(jobID, JobKeyPrefix) {
		return []byte(jobID)
	}
	return []byte(JobKeyPrefix + jobID)
}

// PutJob stores job under its job key.
func (d *DB) PutJob(job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("error marshalling job %s: %w", job.ID, err)
	}
	return d.Put(JobKey(job.ID), data)
}

// GetJob loads one job record.
func (d *DB) GetJob(jobID string) (models.Job, error) {
	data, err := d.Get(JobKey(jobID))
	if err != nil {
		return models.Job{}, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return models.Job{}, fmt.Errorf("error unmarshalling job %s: %w", jobID, err)
	}
	return job, nil
}

// FoldJobs calls fn for every decodable job record. Corrupt entries are logged and skipped.
func (d *DB) FoldJobs(fn func(job models.Job) error) error {
	prefix := []byte(JobKeyPrefix)
	return d.Fold(func(key, value []byte) error {
		if !bytes.HasPrefix(key, prefix) {
			return nil
		}
		var job models.Job
		if err := json.Unmarshal(value, &job); err != nil {
			log.WithError(err).Warnf("[DB] Skipping unreadable job record %s", key)
			return nil
		}
		return fn(job)
	})
}
