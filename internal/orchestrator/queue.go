// Package orchestrator owns the interactive download queue: it validates and
// enqueues URLs, resolves their metadata, runs at most one transfer at a time
// and advances through the queue in insertion order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/metadata"
	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/paths"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidURL         = errors.New("not a supported video URL")
	ErrDuplicateJob       = errors.New("URL is already in the queue")
	ErrAlreadyDownloading = errors.New("already downloading")
	ErrNothingQueued      = errors.New("nothing queued to download")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobActive          = errors.New("job is currently downloading")
	ErrPlaylistURL        = errors.New("playlist URLs are added with AddPlaylist")
	ErrNoPlaylistSupport  = errors.New("engine cannot list playlist entries")
	ErrEmptyPlaylist      = errors.New("playlist has no downloadable entries")
)

// DefaultAdvanceDelay is the pause between a job finishing and the next one starting.
const DefaultAdvanceDelay = 500 * time.Millisecond

// CompleteMessage is reported to OnComplete for successful transfers.
const CompleteMessage = "download complete"

// MetadataLookup resolves best-effort metadata. It returns usable metadata
// even when it also returns an error.
type MetadataLookup interface {
	Lookup(ctx context.Context, url string) (models.Metadata, error)
}

// Options configures a Queue.
type Options struct {
	OutputDir        string
	SubfolderPattern string
	DefaultKind      models.Kind
	DefaultQuality   string
	AutoStart        bool
	AdvanceDelay     time.Duration
	HashFiles        bool
}

// Callbacks receive job changes. They are invoked without the queue lock
// held, so they may call back into the Queue.
type Callbacks struct {
	OnUpdate   func(job models.Job)
	OnProgress func(jobID string, info models.ProgressInfo)
	OnComplete func(jobID string, success bool, message string)
}

// Queue is the interactive job orchestrator.
type Queue struct {
	engine downloader.Engine
	meta   MetadataLookup
	opts   Options
	cb     Callbacks

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	jobs      []*models.Job
	byID      map[string]*models.Job
	activeID  string
	cancel    context.CancelFunc
	scheduled int
	changed   chan struct{}
	// startRequested makes jobs that were resolving metadata during
	// StartAll join the run once ready, even without AutoStart.
	startRequested bool
}

// New creates an idle queue.
func New(engine downloader.Engine, meta MetadataLookup, opts Options, cb Callbacks) *Queue {
	if opts.AdvanceDelay < 0 {
		opts.AdvanceDelay = 0
	}
	if opts.DefaultKind == "" {
		opts.DefaultKind = models.KindVideo
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Queue{
		engine:  engine,
		meta:    meta,
		opts:    opts,
		cb:      cb,
		ctx:     ctx,
		stop:    stop,
		byID:    make(map[string]*models.Job),
		changed: make(chan struct{}),
	}
}

// SetOutputDir changes the directory used for jobs added from now on.
func (q *Queue) SetOutputDir(dir string) {
	q.mu.Lock()
	q.opts.OutputDir = dir
	q.mu.Unlock()
}

// Add validates url and appends a new job. Metadata is resolved in the
// background; once resolved the job becomes Ready and, with AutoStart,
// starts if nothing else is downloading.
func (q *Queue) Add(url string, kind models.Kind, quality string) (models.Job, error) {
	url = helpers.NormalizeURL(url)
	if url == "" || !helpers.IsValidURL(url) {
		return models.Job{}, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	if helpers.IsPlaylistURL(url) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrPlaylistURL, url)
	}
	if kind == "" {
		kind = q.opts.DefaultKind
	}
	if quality == "" {
		quality = q.opts.DefaultQuality
	}
	quality = downloader.NormalizeQuality(kind, quality)

	q.mu.Lock()
	for _, existing := range q.jobs {
		if existing.URL == url {
			q.mu.Unlock()
			return models.Job{}, fmt.Errorf("%w: %s", ErrDuplicateJob, url)
		}
	}
	job := models.NewJob(url, kind, quality, q.opts.OutputDir)
	q.jobs = append(q.jobs, job)
	q.byID[job.ID] = job
	queued := *job

	// Move to FetchingInfo before releasing the lock so the advance scan
	// never picks a job whose metadata is still being resolved.
	if err := job.Transition(models.JobFetchingInfo); err != nil {
		q.mu.Unlock()
		return models.Job{}, err
	}
	fetching := *job
	q.broadcastLocked()
	q.wg.Add(1)
	q.mu.Unlock()

	log.Infof("[Queue] Added %s (%s, %s) as %s", url, kind, quality, job.ID)
	q.emitUpdate(queued)
	q.emitUpdate(fetching)

	go q.fetchInfo(job.ID, url)
	return fetching, nil
}

// AddPlaylist lists the videos of a playlist URL through the engine and adds
// each one as its own job. Entries that cannot be added are skipped.
func (q *Queue) AddPlaylist(ctx context.Context, url string, kind models.Kind, quality string) ([]models.Job, error) {
	expander, ok := q.engine.(downloader.PlaylistExpander)
	if !ok {
		return nil, ErrNoPlaylistSupport
	}
	entries, err := expander.Entries(ctx, helpers.NormalizeURL(url))
	if err != nil {
		return nil, fmt.Errorf("listing playlist %s: %w", url, err)
	}
	log.Infof("[Queue] Playlist %s has %d entries", url, len(entries))

	var added []models.Job
	for _, entry := range entries {
		if ctx.Err() != nil {
			return added, ctx.Err()
		}
		job, err := q.Add(entry.URL, kind, quality)
		if err != nil {
			log.WithError(err).Warnf("[Queue] Skipping playlist entry %s", entry.URL)
			continue
		}
		added = append(added, job)
	}
	if len(added) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPlaylist, url)
	}
	return added, nil
}

func (q *Queue) fetchInfo(jobID, url string) {
	defer q.wg.Done()

	var meta models.Metadata
	if q.meta != nil {
		var err error
		meta, err = q.meta.Lookup(q.ctx, url)
		if err != nil {
			log.WithError(err).Warnf("[Queue] Metadata unavailable for %s, continuing with placeholder", url)
		}
	}

	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.Status != models.JobFetchingInfo {
		// Removed or cancelled while the lookup ran.
		q.broadcastLocked()
		q.mu.Unlock()
		return
	}
	job.Title = meta.Title
	job.Duration = meta.Duration
	job.Channel = meta.Channel
	job.Thumbnail = meta.Thumbnail
	if err := job.Transition(models.JobReady); err != nil {
		log.WithError(err).Errorf("[Queue] Could not mark %s ready", jobID)
		q.mu.Unlock()
		return
	}
	ready := *job

	var started *models.Job
	if (q.opts.AutoStart || q.startRequested) && q.activeID == "" {
		started = q.advanceLocked()
	}
	if !q.fetchingLocked() {
		q.startRequested = false
	}
	q.broadcastLocked()
	q.mu.Unlock()

	q.emitUpdate(ready)
	if started != nil {
		q.emitUpdate(*started)
	}
}

// Start begins the transfer of one pending job.
func (q *Queue) Start(jobID string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if q.activeID != "" {
		q.mu.Unlock()
		return ErrAlreadyDownloading
	}
	if !job.Status.IsPending() {
		q.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", models.ErrInvalidTransition, jobID, job.Status)
	}
	snap, err := q.beginLocked(job)
	q.broadcastLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.emitUpdate(snap)
	return nil
}

// StartAll starts the first pending job; the rest follow as each one
// finishes. Jobs still resolving metadata join once they are ready.
func (q *Queue) StartAll() error {
	q.mu.Lock()
	if q.activeID != "" {
		q.mu.Unlock()
		return ErrAlreadyDownloading
	}
	started := q.advanceLocked()
	if q.fetchingLocked() {
		q.startRequested = true
		if started == nil {
			q.mu.Unlock()
			log.Debug("[Queue] Start requested, waiting for metadata")
			return nil
		}
	}
	q.broadcastLocked()
	q.mu.Unlock()

	if started == nil {
		return ErrNothingQueued
	}
	q.emitUpdate(*started)
	return nil
}

// advanceLocked starts the first pending job in insertion order and returns
// a copy of it, or nil when nothing is pending. q.mu must be held.
func (q *Queue) advanceLocked() *models.Job {
	if q.activeID != "" || q.ctx.Err() != nil {
		return nil
	}
	for _, job := range q.jobs {
		if !job.Status.IsPending() {
			continue
		}
		snap, err := q.beginLocked(job)
		if err != nil {
			log.WithError(err).Errorf("[Queue] Could not start %s", job.ID)
			continue
		}
		return &snap
	}
	return nil
}

// beginLocked moves job to Downloading and launches its transfer. q.mu must be held.
func (q *Queue) beginLocked(job *models.Job) (models.Job, error) {
	if err := job.Transition(models.JobDownloading); err != nil {
		return models.Job{}, err
	}
	job.Attempts++

	ctx, cancel := context.WithCancel(q.ctx)
	q.activeID = job.ID
	q.cancel = cancel

	req := downloader.Request{URL: job.URL, Kind: job.Kind, Quality: job.Quality}
	tmpl, err := paths.OutputTemplate(job.OutputDir, q.opts.SubfolderPattern,
		paths.TagData(string(job.Kind), job.Quality, job.Channel, time.Now()))
	if err != nil {
		log.WithError(err).Warnf("[Queue] Invalid subfolder pattern, saving %s directly into %s", job.ID, job.OutputDir)
		tmpl, err = paths.OutputTemplate(job.OutputDir, "", nil)
	}

	q.wg.Add(1)
	go q.run(ctx, job.ID, req, tmpl, err)

	log.Infof("[Queue] Downloading %s (%s)", job.ID, job.URL)
	return *job, nil
}

func (q *Queue) run(ctx context.Context, jobID string, req downloader.Request, tmpl string, setupErr error) {
	defer q.wg.Done()

	var (
		res downloader.Result
		err = setupErr
	)
	if err == nil {
		req.OutputTemplate = tmpl
		res, err = downloader.Run(ctx, q.engine, req, func(ev models.ProgressEvent) {
			q.onEvent(jobID, ev)
		})
	}
	hash := ""
	if err == nil && q.opts.HashFiles && res.FilePath != "" {
		var hashErr error
		if hash, hashErr = helpers.HashFile(res.FilePath); hashErr != nil {
			log.WithError(hashErr).Warnf("[Queue] Could not hash %s", res.FilePath)
		}
	}
	q.finish(jobID, res, hash, err)
}

// onEvent applies one engine event to the active job.
func (q *Queue) onEvent(jobID string, ev models.ProgressEvent) {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok || job.Status.IsTerminal() {
		q.mu.Unlock()
		return
	}

	percent := ev.Percent
	if percent == 0 {
		percent = downloader.Percent(ev.Downloaded, ev.Total)
	}
	info := models.ProgressInfo{
		Filename:   ev.Filename,
		Downloaded: ev.Downloaded,
		Total:      ev.Total,
	}
	switch ev.Kind {
	case models.EventDownloading:
		if job.Status == models.JobPostprocessing {
			// A second stream of a merged format; stay in post-processing.
			job.SetPercent(min(percent, 99))
		} else {
			job.SetPercent(percent)
			job.Speed = helpers.FormatSpeed(ev.Speed)
			job.ETA = helpers.FormatETA(ev.ETA)
		}
		info.Status = "downloading"
		info.Speed = job.Speed
		info.ETA = job.ETA
	case models.EventPostprocessing:
		if job.Status == models.JobDownloading {
			if err := job.Transition(models.JobPostprocessing); err != nil {
				log.WithError(err).Warnf("[Queue] Ignoring post-processing event for %s", jobID)
			}
			job.Speed = ""
			job.ETA = ""
		}
		job.SetPercent(percent)
		info.Status = "finished"
	}
	if ev.Title != "" && (job.Title == "" || job.Title == metadata.PlaceholderTitle) {
		job.Title = ev.Title
	}
	info.Percent = job.Percent
	snap := *job
	q.mu.Unlock()

	q.emitUpdate(snap)
	if q.cb.OnProgress != nil {
		q.cb.OnProgress(jobID, info)
	}
}

// finish records the outcome of a transfer and schedules the next job.
func (q *Queue) finish(jobID string, res downloader.Result, hash string, runErr error) {
	q.mu.Lock()
	if q.activeID == jobID {
		q.activeID = ""
		if q.cancel != nil {
			q.cancel()
			q.cancel = nil
		}
	}
	job, ok := q.byID[jobID]
	if !ok {
		q.scheduleAdvanceLocked()
		q.broadcastLocked()
		q.mu.Unlock()
		return
	}

	var (
		success bool
		message string
		next    models.JobStatus
	)
	switch {
	case runErr == nil:
		next, success, message = models.JobCompleted, true, CompleteMessage
		if res.Title != "" && (job.Title == "" || job.Title == metadata.PlaceholderTitle) {
			job.Title = res.Title
		}
		job.FilePath = res.FilePath
		job.FileHash = hash
		job.Error = ""
	case errors.Is(runErr, downloader.ErrCancelled):
		next, message = models.JobCancelled, runErr.Error()
		job.Error = message
	default:
		next, message = models.JobFailed, runErr.Error()
		job.Error = message
	}
	if err := job.Transition(next); err != nil {
		log.WithError(err).Errorf("[Queue] Could not finish %s", jobID)
	}
	snap := *job
	q.scheduleAdvanceLocked()
	q.broadcastLocked()
	q.mu.Unlock()

	if success {
		log.Infof("[Queue] Completed %s: %s", jobID, snap.Title)
	} else {
		log.Warnf("[Queue] %s ended %s: %s", jobID, snap.Status, message)
	}
	q.emitUpdate(snap)
	if q.cb.OnComplete != nil {
		q.cb.OnComplete(jobID, success, message)
	}
}

// scheduleAdvanceLocked starts the next pending job after the advance delay.
func (q *Queue) scheduleAdvanceLocked() {
	q.scheduled++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(q.opts.AdvanceDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-q.ctx.Done():
			q.mu.Lock()
			q.scheduled--
			q.broadcastLocked()
			q.mu.Unlock()
			return
		}

		q.mu.Lock()
		q.scheduled--
		started := q.advanceLocked()
		q.broadcastLocked()
		q.mu.Unlock()
		if started != nil {
			q.emitUpdate(*started)
		}
	}()
}

// Cancel stops a job. The active transfer is cancelled cooperatively and
// ends Cancelled once the engine returns; a job that has not started is
// cancelled immediately. Cancelling a finished job is a no-op.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.IsTerminal() {
		q.mu.Unlock()
		return nil
	}
	if q.activeID == jobID {
		if q.cancel != nil {
			q.cancel()
		}
		q.mu.Unlock()
		log.Infof("[Queue] Cancellation requested for %s", jobID)
		return nil
	}

	job.Error = downloader.ErrCancelled.Error()
	if err := job.Transition(models.JobCancelled); err != nil {
		q.mu.Unlock()
		return err
	}
	snap := *job
	q.broadcastLocked()
	q.mu.Unlock()

	q.emitUpdate(snap)
	return nil
}

// CancelActive cancels the running transfer, if any, and reports whether there was one.
func (q *Queue) CancelActive() bool {
	q.mu.Lock()
	id := q.activeID
	q.mu.Unlock()
	if id == "" {
		return false
	}
	return q.Cancel(id) == nil
}

// Retry re-enqueues a failed or cancelled job with its progress reset.
func (q *Queue) Retry(jobID string) error {
	q.mu.Lock()
	job, ok := q.byID[jobID]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err := job.ResetForRetry(); err != nil {
		q.mu.Unlock()
		return err
	}
	queued := *job

	var started *models.Job
	if q.opts.AutoStart {
		started = q.advanceLocked()
	}
	q.broadcastLocked()
	q.mu.Unlock()

	q.emitUpdate(queued)
	if started != nil {
		q.emitUpdate(*started)
	}
	return nil
}

// Remove deletes a job that is not currently transferring.
func (q *Queue) Remove(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.byID[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if q.activeID == jobID || job.Status.IsActive() {
		return fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	q.removeLocked(jobID)
	q.broadcastLocked()
	return nil
}

// ClearCompleted removes every completed job and returns how many were removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	for _, job := range q.jobs {
		if job.Status == models.JobCompleted {
			ids = append(ids, job.ID)
		}
	}
	for _, id := range ids {
		q.removeLocked(id)
	}
	if len(ids) > 0 {
		q.broadcastLocked()
	}
	return len(ids)
}

func (q *Queue) removeLocked(jobID string) {
	delete(q.byID, jobID)
	for i, job := range q.jobs {
		if job.ID == jobID {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return
		}
	}
}

// Jobs returns a copy of every job in insertion order.
func (q *Queue) Jobs() []models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		out = append(out, *job)
	}
	return out
}

// Get returns a copy of one job.
func (q *Queue) Get(jobID string) (models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byID[jobID]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return *job, nil
}

// ActiveID returns the id of the transferring job, or "".
func (q *Queue) ActiveID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeID
}

// Wait blocks until the queue is idle: nothing transferring, no metadata
// lookup in flight and no advance pending. Pending jobs that will not be
// started automatically do not keep Wait blocked.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.idleLocked() {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) idleLocked() bool {
	return q.activeID == "" && q.scheduled == 0 && !q.fetchingLocked()
}

// fetchingLocked reports whether any job is still resolving metadata.
func (q *Queue) fetchingLocked() bool {
	for _, job := range q.jobs {
		if job.Status == models.JobFetchingInfo {
			return true
		}
	}
	return false
}

// broadcastLocked wakes every Wait call. q.mu must be held.
func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Close cancels any running transfer and waits for background work to stop.
func (q *Queue) Close() {
	q.stop()
	q.wg.Wait()
}

func (q *Queue) emitUpdate(job models.Job) {
	if q.cb.OnUpdate != nil {
		q.cb.OnUpdate(job)
	}
}
