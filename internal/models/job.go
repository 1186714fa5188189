package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a job is asked to move to a state
// the state machine does not allow from its current state.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Kind is the requested media kind of a job.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ParseKind maps loose wire values onto a Kind, defaulting to video.
func ParseKind(s string) Kind {
	switch s {
	case "audio", "mp3", "m4a", "wav":
		return KindAudio
	default:
		return KindVideo
	}
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobQueued         JobStatus = "queued"
	JobFetchingInfo   JobStatus = "fetching_info"
	JobReady          JobStatus = "ready"
	JobDownloading    JobStatus = "downloading"
	JobPostprocessing JobStatus = "postprocessing"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
	JobCancelled      JobStatus = "cancelled"
)

// transitions lists every forward edge of the job state graph.
// Queued -> Downloading is the collapsed start-and-poll path.
var transitions = map[JobStatus][]JobStatus{
	JobQueued:         {JobFetchingInfo, JobDownloading, JobCancelled},
	JobFetchingInfo:   {JobReady, JobCancelled},
	JobReady:          {JobDownloading, JobCancelled},
	JobDownloading:    {JobPostprocessing, JobCompleted, JobFailed, JobCancelled},
	JobPostprocessing: {JobCompleted, JobFailed, JobCancelled},
}

// CanTransition reports whether the state graph has an edge from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends a run.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// IsActive reports whether a transfer is currently running for the job.
func (s JobStatus) IsActive() bool {
	return s == JobDownloading || s == JobPostprocessing
}

// IsPending reports whether the job is waiting to be picked by the queue.
func (s JobStatus) IsPending() bool {
	return s == JobQueued || s == JobReady
}

// Job is a unit of work to transfer one resource.
type Job struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Kind       Kind      `json:"kind"`
	Quality    string    `json:"quality"`
	Title      string    `json:"title"`
	Duration   Seconds   `json:"duration"`
	Channel    string    `json:"channel"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Status     JobStatus `json:"status"`
	Percent    int       `json:"percent"`
	Speed      string    `json:"speed,omitempty"`
	ETA        string    `json:"eta,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputDir  string    `json:"outputDir"`
	FilePath   string    `json:"filePath,omitempty"`
	FileHash   string    `json:"fileHash,omitempty"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// NewJobID returns a time-ordered job identifier.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "job_" + uuid.NewString()
	}
	return "job_" + id.String()
}

// NewJob creates a queued job for an already validated URL.
func NewJob(url string, kind Kind, quality, outputDir string) *Job {
	now := time.Now()
	return &Job{
		ID:        NewJobID(),
		URL:       url,
		Kind:      kind,
		Quality:   quality,
		Status:    JobQueued,
		OutputDir: outputDir,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the job to next if the state graph allows it.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = time.Now()
	if next.IsTerminal() {
		j.FinishedAt = j.UpdatedAt
		j.Speed = ""
		j.ETA = ""
		if next == JobCompleted {
			j.Percent = 100
		}
	}
	return nil
}

// SetPercent raises the job's percent; lower values are ignored so that
// progress never moves backwards within a run.
func (j *Job) SetPercent(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Percent {
		j.Percent = p
		j.UpdatedAt = time.Now()
	}
}

// ResetForRetry re-enqueues a failed or cancelled job.
func (j *Job) ResetForRetry() error {
	if j.Status != JobFailed && j.Status != JobCancelled {
		return fmt.Errorf("%w: cannot retry job in state %s", ErrInvalidTransition, j.Status)
	}
	j.Status = JobQueued
	j.Percent = 0
	j.Speed = ""
	j.ETA = ""
	j.Error = ""
	j.FinishedAt = time.Time{}
	j.UpdatedAt = time.Now()
	return nil
}

// EventKind classifies an engine progress event.
type EventKind string

const (
	EventDownloading    EventKind = "downloading"
	EventPostprocessing EventKind = "postprocessing"
)

// ProgressEvent is one progress tick from the engine adapter.
type ProgressEvent struct {
	Kind       EventKind
	Downloaded int64
	Total      int64
	Percent    int
	Speed      float64 // bytes per second
	ETA        time.Duration
	Filename   string
	Title      string
}

// SnapshotStatus is the status field of a persisted ProgressSnapshot.
type SnapshotStatus string

const (
	SnapshotStarting    SnapshotStatus = "starting"
	SnapshotDownloading SnapshotStatus = "downloading"
	SnapshotMerging     SnapshotStatus = "merging"
	SnapshotComplete    SnapshotStatus = "complete"
	SnapshotError       SnapshotStatus = "error"
)

// IsTerminal reports whether the snapshot describes a finished transfer.
func (s SnapshotStatus) IsTerminal() bool {
	return s == SnapshotComplete || s == SnapshotError
}

// ProgressSnapshot is the cross-process progress record for a detached transfer.
type ProgressSnapshot struct {
	JobID     string         `json:"jobId,omitempty"`
	Status    SnapshotStatus `json:"status"`
	Percent   int            `json:"percent"`
	Title     string         `json:"title"`
	Error     string         `json:"error"`
	Path      string         `json:"path"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
