// Package history records finished jobs so they can be listed, searched and
// verified after the host that ran them has exited.
package history

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"go-ytdl-host/internal/database"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/index"
	"go-ytdl-host/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotTerminal is returned when recording a job that is still running.
	ErrNotTerminal = errors.New("job has not finished")
	// ErrNoFile is returned by Verify for records without a stored file.
	ErrNoFile = errors.New("job has no file")
)

// VerifyResult is the outcome of re-hashing one recorded file.
type VerifyResult struct {
	Job     models.Job
	Missing bool
	Match   bool
	Err     error
}

// Recorder writes finished jobs to the key/value store and the search index.
// The index is opened per operation so several host processes can share it.
type Recorder struct {
	db        *database.DB
	indexPath string
}

// NewRecorder returns a Recorder. An empty indexPath disables indexing.
func NewRecorder(db *database.DB, indexPath string) *Recorder {
	return &Recorder{db: db, indexPath: indexPath}
}

// Record stores a terminal job. Index failures are logged, not returned.
func (r *Recorder) Record(job models.Job) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, job.ID, job.Status)
	}
	if err := r.db.PutJob(job); err != nil {
		return err
	}
	r.withIndex(func(idx bleve.Index) error {
		return index.IndexJob(idx, job)
	})
	log.Debugf("[History] Recorded %s (%s)", job.ID, job.Status)
	return nil
}

// withIndex opens the index, runs fn and closes it again. Errors are logged.
func (r *Recorder) withIndex(fn func(idx bleve.Index) error) {
	if r.indexPath == "" {
		return
	}
	idx, err := index.OpenOrCreateIndex(r.indexPath)
	if err != nil {
		log.WithError(err).Warn("[History] Search index unavailable")
		return
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.WithError(err).Warn("[History] Error closing index")
		}
	}()
	if err := fn(idx); err != nil {
		log.WithError(err).Warn("[History] Index update failed")
	}
}

// Get returns one recorded job.
func (r *Recorder) Get(jobID string) (models.Job, error) {
	return r.db.GetJob(jobID)
}

// List returns every recorded job, newest first.
func (r *Recorder) List() ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.FoldJobs(func(job models.Job) error {
		jobs = append(jobs, job)
		return nil
	}); err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].FinishedAt.After(jobs[j].FinishedAt)
	})
	return jobs, nil
}

// Search returns the recorded jobs matching query, best match first.
func (r *Recorder) Search(query string, limit int) ([]models.Job, error) {
	if r.indexPath == "" {
		return nil, fmt.Errorf("search index is not configured")
	}
	idx, err := index.OpenOrCreateIndex(r.indexPath)
	if err != nil {
		return nil, err
	}
	hits, err := index.Search(idx, query, limit)
	if closeErr := idx.Close(); closeErr != nil {
		log.WithError(closeErr).Warn("[History] Error closing index")
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(hits))
	for _, h := range hits {
		job, err := r.db.GetJob(h.ID)
		if err != nil {
			log.WithError(err).Debugf("[History] Index hit %s has no record", h.ID)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Remove deletes a record and its index entry. With deleteFile the
// downloaded file is removed too.
func (r *Recorder) Remove(jobID string, deleteFile bool) error {
	job, err := r.db.GetJob(jobID)
	if err != nil {
		return err
	}
	if deleteFile && job.FilePath != "" {
		if err := os.Remove(job.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing file %s: %w", job.FilePath, err)
		}
	}
	if err := r.db.Delete(database.JobKey(job.ID)); err != nil {
		return err
	}
	r.withIndex(func(idx bleve.Index) error {
		return index.DeleteJob(idx, job.ID)
	})
	return nil
}

// Verify re-hashes the file of a recorded job against its stored hash.
func (r *Recorder) Verify(jobID string) VerifyResult {
	job, err := r.db.GetJob(jobID)
	if err != nil {
		return VerifyResult{Err: err}
	}
	return verifyJob(job)
}

// VerifyAll verifies every recorded job that has a file.
func (r *Recorder) VerifyAll() ([]VerifyResult, error) {
	jobs, err := r.List()
	if err != nil {
		return nil, err
	}
	var results []VerifyResult
	for _, job := range jobs {
		if job.FilePath == "" {
			continue
		}
		results = append(results, verifyJob(job))
	}
	return results, nil
}

func verifyJob(job models.Job) VerifyResult {
	res := VerifyResult{Job: job}
	if job.FilePath == "" {
		res.Err = fmt.Errorf("%w: %s", ErrNoFile, job.ID)
		return res
	}
	if _, err := os.Stat(job.FilePath); errors.Is(err, os.ErrNotExist) {
		res.Missing = true
		return res
	}
	if job.FileHash == "" {
		hash, err := helpers.HashFile(job.FilePath)
		if err != nil {
			res.Err = err
			return res
		}
		res.Job.FileHash = hash
		res.Match = true
		return res
	}
	err := helpers.CheckHash(job.FilePath, job.FileHash)
	switch {
	case err == nil:
		res.Match = true
	case errors.Is(err, helpers.ErrHashMismatch):
	default:
		res.Err = err
	}
	return res
}

// ClearFinished removes records whose status is one of statuses and returns
// how many were removed.
func (r *Recorder) ClearFinished(statuses ...models.JobStatus) (int, error) {
	var ids []string
	if err := r.db.FoldJobs(func(job models.Job) error {
		for _, s := range statuses {
			if job.Status == s {
				ids = append(ids, job.ID)
				break
			}
		}
		return nil
	}); err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := r.Remove(id, false); err != nil {
			log.WithError(err).Warnf("[History] Could not remove %s", id)
			continue
		}
		removed++
	}
	return removed, nil
}
