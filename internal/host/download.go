package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/paths"

	log "github.com/sirupsen/logrus"
)

// mergingPercent is reported while the engine post-processes the file.
const mergingPercent = 99

// startDownload writes the starting snapshot for job and runs its transfer
// on a detached worker. It returns once the worker is registered.
func (h *Host) startDownload(job *models.Job) error {
	tmpl, err := paths.OutputTemplate(job.OutputDir, h.opts.SubfolderPattern,
		paths.TagData(string(job.Kind), job.Quality, "", time.Now()))
	if err != nil {
		log.WithError(err).Warnf("[Host] Bad subfolder pattern, saving %s to %s", job.ID, job.OutputDir)
		if tmpl, err = paths.OutputTemplate(job.OutputDir, "", nil); err != nil {
			return err
		}
	}
	req := downloader.Request{
		URL:            job.URL,
		Kind:           job.Kind,
		Quality:        job.Quality,
		OutputTemplate: tmpl,
	}

	h.writeSnapshot(models.ProgressSnapshot{JobID: job.ID, Status: models.SnapshotStarting, Path: job.OutputDir})

	_, err = h.opts.Registry.Spawn(job.ID, func(ctx context.Context) error {
		return h.runDownload(ctx, job, req)
	})
	if err != nil {
		h.writeSnapshot(models.ProgressSnapshot{
			JobID: job.ID, Status: models.SnapshotError, Error: err.Error(), Path: job.OutputDir,
		})
		return fmt.Errorf("starting download: %w", err)
	}
	log.Infof("[Host] Started %s for %s (%s/%s) into %s", job.ID, job.URL, job.Kind, job.Quality, job.OutputDir)
	return nil
}

func (h *Host) runDownload(ctx context.Context, job *models.Job, req downloader.Request) error {
	title := ""
	res, runErr := downloader.Run(ctx, h.opts.Engine, req, func(ev models.ProgressEvent) {
		if ev.Title != "" {
			title = ev.Title
		} else if ev.Filename != "" {
			title = filepath.Base(ev.Filename)
		}
		snap := models.ProgressSnapshot{JobID: job.ID, Title: title, Path: job.OutputDir}
		switch ev.Kind {
		case models.EventPostprocessing:
			snap.Status = models.SnapshotMerging
			snap.Percent = mergingPercent
		default:
			snap.Status = models.SnapshotDownloading
			snap.Percent = ev.Percent
			if snap.Percent == 0 {
				snap.Percent = downloader.Percent(ev.Downloaded, ev.Total)
			}
		}
		h.writeSnapshot(snap)
	})

	final := models.ProgressSnapshot{JobID: job.ID, Path: job.OutputDir}
	job.FinishedAt = time.Now()
	job.UpdatedAt = job.FinishedAt
	switch {
	case runErr == nil:
		final.Status = models.SnapshotComplete
		final.Percent = 100
		final.Title = res.Title
		if final.Title == "" {
			final.Title = title
		}
		job.Status = models.JobCompleted
		job.Percent = 100
		job.Title = final.Title
		job.FilePath = res.FilePath
		log.Infof("[Host] Download complete: %s -> %s", final.Title, job.OutputDir)
	case errors.Is(runErr, downloader.ErrCancelled):
		final.Status = models.SnapshotError
		final.Error = downloader.ErrCancelled.Error()
		job.Status = models.JobCancelled
		job.Error = final.Error
		job.Title = title
		log.Infof("[Host] Download %s cancelled", job.ID)
	default:
		final.Status = models.SnapshotError
		final.Error = runErr.Error()
		job.Status = models.JobFailed
		job.Error = final.Error
		job.Title = title
		log.WithError(runErr).Errorf("[Host] Download %s failed", job.ID)
	}
	h.writeSnapshot(final)
	h.record(job)
	return runErr
}

// writeSnapshot persists snap. Store failures never stop a transfer.
func (h *Host) writeSnapshot(snap models.ProgressSnapshot) {
	if h.opts.Store == nil {
		return
	}
	if _, err := h.opts.Store.Write(snap); err != nil {
		log.WithError(err).Warnf("[Host] Could not write %s progress for %s", snap.Status, snap.JobID)
	}
}

func (h *Host) record(job *models.Job) {
	if h.opts.Recorder == nil {
		return
	}
	if job.Status == models.JobCompleted && job.FilePath != "" {
		if hash, err := helpers.HashFile(job.FilePath); err == nil {
			job.FileHash = hash
		} else {
			log.WithError(err).Debugf("[Host] Could not hash %s", job.FilePath)
		}
	}
	if err := h.opts.Recorder.Record(*job); err != nil {
		log.WithError(err).Warnf("[Host] Could not record %s in history", job.ID)
	}
}
