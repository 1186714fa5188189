package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go-ytdl-host/internal/config"
	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/messaging"
	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/progress"
	"go-ytdl-host/internal/worker"

	log "github.com/sirupsen/logrus"
)

// StartedMessage is the acknowledgment text of the download action.
const StartedMessage = "download started"

var (
	ErrMissingURL   = errors.New("url is required")
	ErrInvalidURL   = errors.New("unsupported url")
	ErrMissingJobID = errors.New("jobId is required")
	// ErrPlaylistURL rejects playlist links; one detached job is one video.
	ErrPlaylistURL = errors.New("playlist urls are not supported, send the video urls instead")
)

func (h *Host) handlePing(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	return messaging.Message{"status": "ok", "version": Version}, nil
}

// outputPath is the saved output directory, or DefaultPath when none is
// saved or it no longer exists.
func (h *Host) outputPath() string {
	if h.opts.SettingsPath == "" {
		return h.opts.DefaultPath
	}
	return config.OutputPath(h.opts.SettingsPath, h.opts.DefaultPath)
}

func (h *Host) rememberPath(dir string) {
	if h.opts.SettingsPath == "" || dir == "" {
		return
	}
	h.pathMu.Lock()
	defer h.pathMu.Unlock()
	config.SaveOutputPath(h.opts.SettingsPath, dir)
}

func (h *Host) handleGetPath(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	return messaging.Message{"path": h.outputPath()}, nil
}

func (h *Host) handleSelectPath(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	if h.opts.Selector == nil {
		return messaging.Message{"error": "folder selection is not available"}, nil
	}
	dir, ok, err := h.opts.Selector.SelectFolder(ctx, h.outputPath())
	if err != nil {
		log.WithError(err).Error("[Host] Folder dialog failed")
		return messaging.Message{"error": err.Error()}, nil
	}
	if !ok || strings.TrimSpace(dir) == "" {
		return messaging.Message{"path": nil, "cancelled": true}, nil
	}
	h.rememberPath(dir)
	return messaging.Message{"path": dir}, nil
}

// handleGetProgress returns the snapshot for jobId, or the most recent
// snapshot of any job when no id is given.
func (h *Host) handleGetProgress(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	if h.opts.Store == nil {
		return messaging.Message{"status": "waiting"}, nil
	}

	var (
		snap models.ProgressSnapshot
		err  error
	)
	if jobID := msg.String("jobId"); jobID != "" {
		snap, err = h.opts.Store.Read(jobID)
	} else {
		snap, err = h.opts.Store.Latest()
	}
	if err != nil {
		if errors.Is(err, progress.ErrNoSnapshot) {
			return messaging.Message{"status": "waiting"}, nil
		}
		log.WithError(err).Warn("[Host] Could not read progress")
		return messaging.Message{"status": "unknown", "error": err.Error()}, nil
	}
	return snapshotMessage(snap), nil
}

func snapshotMessage(snap models.ProgressSnapshot) messaging.Message {
	out := messaging.Message{
		"status":  string(snap.Status),
		"percent": snap.Percent,
		"title":   snap.Title,
		"error":   snap.Error,
		"path":    snap.Path,
	}
	if snap.JobID != "" {
		out["jobId"] = snap.JobID
	}
	return out
}

func (h *Host) handleGetURL(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	url := msg.String("url")
	if url == "" {
		return messaging.Message{"error": ErrMissingURL.Error()}, nil
	}
	kind, quality := requestFormat(msg)

	ctx, cancel := context.WithTimeout(ctx, h.opts.ResolveTimeout)
	defer cancel()

	stream, err := h.opts.Engine.ResolveURL(ctx, url, kind, quality)
	if err != nil {
		log.WithError(err).Warnf("[Host] Could not resolve %s", url)
		return messaging.Message{"error": err.Error()}, nil
	}
	return messaging.Message{"url": stream.URL, "title": stream.Title, "ext": stream.Ext}, nil
}

// requestFormat maps the wire format/quality pair onto a kind and a preset
// key. format is "video", "audio" or an audio container name.
func requestFormat(msg messaging.Message) (models.Kind, string) {
	format := strings.ToLower(msg.String("format"))
	quality := msg.String("quality")
	kind := models.ParseKind(format)
	if kind == models.KindAudio && (format == "m4a" || format == "wav") {
		quality = format
	}
	return kind, downloader.NormalizeQuality(kind, quality)
}

func (h *Host) handleDownload(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	raw := msg.String("url")
	if raw == "" {
		return nil, ErrMissingURL
	}
	if !helpers.IsValidURL(raw) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	if helpers.IsPlaylistURL(raw) {
		return nil, ErrPlaylistURL
	}
	url := helpers.NormalizeURL(raw)
	kind, quality := requestFormat(msg)

	dir := helpers.ExpandHome(strings.TrimSpace(msg.String("downloadPath")))
	if dir == "" {
		dir = h.outputPath()
	} else {
		h.rememberPath(dir)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating download directory: %w", err)
	}

	job := models.NewJob(url, kind, quality, dir)
	if err := h.startDownload(job); err != nil {
		return nil, err
	}

	return messaging.Message{
		"success": true,
		"message": StartedMessage,
		"path":    dir,
		"jobId":   job.ID,
	}, nil
}

func (h *Host) handleCancel(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	jobID := msg.String("jobId")
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	if err := h.opts.Registry.Cancel(jobID); err != nil {
		if errors.Is(err, worker.ErrWorkerNotFound) {
			return messaging.Message{"success": false, "error": err.Error(), "jobId": jobID}, nil
		}
		return nil, err
	}
	return messaging.Message{"success": true, "jobId": jobID}, nil
}
