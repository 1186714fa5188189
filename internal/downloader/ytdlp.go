package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-ytdl-host/internal/models"

	"github.com/lrstanley/go-ytdlp"
	log "github.com/sirupsen/logrus"
)

// Default engine tuning, mirrored in the config defaults.
const (
	DefaultRetries          = 10
	DefaultFragmentRetries  = 10
	DefaultExtractorRetries = 3
	DefaultMergeFormat      = "mp4"
	DefaultProgressInterval = 500 * time.Millisecond
	DefaultInfoTimeout      = 5 * time.Second
	DefaultPlaylistTimeout  = time.Minute
)

// YTDLPEngine drives yt-dlp through go-ytdlp. The library captures the
// process output itself, so nothing the engine prints reaches our stdout.
type YTDLPEngine struct {
	Retries          int
	FragmentRetries  int
	ExtractorRetries int
	MergeFormat      string
	ProgressInterval time.Duration
	InfoTimeout      time.Duration
}

// NewYTDLPEngine builds an engine from the download config.
func NewYTDLPEngine(cfg models.DownloadConfig, infoTimeout time.Duration) *YTDLPEngine {
	e := &YTDLPEngine{
		Retries:          cfg.Retries,
		FragmentRetries:  cfg.FragmentRetries,
		ExtractorRetries: cfg.ExtractorRetries,
		MergeFormat:      cfg.MergeFormat,
		ProgressInterval: time.Duration(cfg.ProgressIntervalMs) * time.Millisecond,
		InfoTimeout:      infoTimeout,
	}
	if e.Retries <= 0 {
		e.Retries = DefaultRetries
	}
	if e.FragmentRetries <= 0 {
		e.FragmentRetries = DefaultFragmentRetries
	}
	if e.ExtractorRetries <= 0 {
		e.ExtractorRetries = DefaultExtractorRetries
	}
	if e.MergeFormat == "" {
		e.MergeFormat = DefaultMergeFormat
	}
	if e.ProgressInterval <= 0 {
		e.ProgressInterval = DefaultProgressInterval
	}
	if e.InfoTimeout <= 0 {
		e.InfoTimeout = DefaultInfoTimeout
	}
	return e
}

func (e *YTDLPEngine) downloadCommand(req Request) *ytdlp.Command {
	sel := SelectFormat(req.Kind, req.Quality)

	dl := ytdlp.New().
		Format(sel.Format).
		Output(req.OutputTemplate).
		NoPlaylist().
		Retries(strconv.Itoa(e.Retries)).
		FragmentRetries(strconv.Itoa(e.FragmentRetries)).
		ExtractorRetries(strconv.Itoa(e.ExtractorRetries)).
		SkipUnavailableFragments()

	if sel.Merge {
		dl = dl.MergeOutputFormat(e.MergeFormat)
	}
	if sel.ExtractAudio {
		dl = dl.ExtractAudio().AudioFormat(sel.AudioCodec)
		if sel.AudioQuality != "" {
			dl = dl.AudioQuality(sel.AudioQuality)
		}
	}
	return dl
}

// eventSink forwards events until stop is called; after that sends are no-ops.
type eventSink struct {
	mu      sync.Mutex
	ch      chan<- models.ProgressEvent
	stopped bool
}

func (s *eventSink) send(ctx context.Context, ev models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.ch <- ev:
	case <-ctx.Done():
	}
}

func (s *eventSink) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Download runs one transfer.
func (e *YTDLPEngine) Download(ctx context.Context, req Request, events chan<- models.ProgressEvent) (Result, error) {
	sink := &eventSink{ch: events}
	defer sink.stop()

	var (
		mu    sync.Mutex
		title string
	)

	dl := e.downloadCommand(req)
	dl.ProgressFunc(e.ProgressInterval, func(update ytdlp.ProgressUpdate) {
		// Cancellation is observed on every tick, the context also stops the process.
		if ctx.Err() != nil {
			return
		}
		ev, ok := translateUpdate(update)
		if !ok {
			return
		}
		if ev.Title != "" {
			mu.Lock()
			title = ev.Title
			mu.Unlock()
		}
		sink.send(ctx, ev)
	})

	log.Debugf("[Engine] Starting yt-dlp for %s (kind=%s quality=%s)", req.URL, req.Kind, req.Quality)
	res, err := dl.Run(ctx, req.URL)
	if err != nil {
		return Result{}, ClassifyError(ctx, engineFailure(res, err))
	}

	mu.Lock()
	result := Result{Title: title}
	mu.Unlock()

	if res != nil {
		infos, infoErr := res.GetExtractedInfo()
		if infoErr != nil {
			log.WithError(infoErr).Debug("[Engine] Could not read extracted info from result")
		} else if len(infos) > 0 {
			if infos[0].Title != nil && *infos[0].Title != "" {
				result.Title = *infos[0].Title
			}
			if infos[0].Filename != nil {
				result.FilePath = finalPath(*infos[0].Filename, SelectFormat(req.Kind, req.Quality), e.MergeFormat)
			}
		}
	}
	return result, nil
}

// finalPath predicts the file name after post-processing changed the container.
func finalPath(filename string, sel Selection, mergeFormat string) string {
	ext := ""
	switch {
	case sel.ExtractAudio:
		ext = sel.AudioCodec
	case sel.Merge && mergeFormat != "":
		ext = mergeFormat
	}
	if ext == "" {
		return filename
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + "." + ext
}

// translateUpdate maps a go-ytdlp progress update onto a ProgressEvent.
// A finished stream means the transfer phase is over and post-processing
// (merge or audio extraction) follows.
func translateUpdate(u ytdlp.ProgressUpdate) (models.ProgressEvent, bool) {
	ev := models.ProgressEvent{
		Downloaded: int64(u.DownloadedBytes),
		Total:      int64(u.TotalBytes),
	}
	if u.Info != nil {
		if u.Info.Title != nil {
			ev.Title = *u.Info.Title
		}
		if u.Info.Filename != nil {
			ev.Filename = filepath.Base(*u.Info.Filename)
		}
	}

	switch u.Status {
	case ytdlp.ProgressStatusStarting, ytdlp.ProgressStatusDownloading:
		ev.Kind = models.EventDownloading
		ev.Percent = Percent(ev.Downloaded, ev.Total)
		if !u.Started.IsZero() {
			if elapsed := time.Since(u.Started).Seconds(); elapsed > 0 {
				ev.Speed = float64(u.DownloadedBytes) / elapsed
			}
		}
		if eta := u.ETA(); eta > 0 {
			ev.ETA = eta
		}
		return ev, true
	case ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing:
		ev.Kind = models.EventPostprocessing
		ev.Percent = 99
		return ev, true
	default:
		return ev, false
	}
}

// engineFailure prefers the engine's own "ERROR:" line over the generic exit error.
func engineFailure(res *ytdlp.Result, err error) error {
	if res == nil {
		return err
	}
	lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "ERROR:") {
			return errors.New(line)
		}
	}
	return err
}

// rawInfo is the subset of the engine's JSON dump that we read.
type rawInfo struct {
	Title            string         `json:"title"`
	Duration         models.Seconds `json:"duration"`
	Channel          string         `json:"channel"`
	Uploader         string         `json:"uploader"`
	Thumbnail        string         `json:"thumbnail"`
	URL              string         `json:"url"`
	Ext              string         `json:"ext"`
	RequestedFormats []struct {
		URL    string `json:"url"`
		VCodec string `json:"vcodec"`
		ACodec string `json:"acodec"`
	} `json:"requested_formats"`
}

// parseInfoJSON decodes the first JSON object line of a --dump-json run.
func parseInfoJSON(stdout string) (rawInfo, error) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var info rawInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			return rawInfo{}, fmt.Errorf("decoding engine info: %w", err)
		}
		return info, nil
	}
	return rawInfo{}, &EngineError{Kind: ErrExtraction, Message: "engine returned no info"}
}

func (e *YTDLPEngine) dumpInfo(ctx context.Context, url, format string) (rawInfo, error) {
	cmd := ytdlp.New().
		DumpJSON().
		SkipDownload().
		NoPlaylist()
	if format != "" {
		cmd = cmd.Format(format)
	}
	res, err := cmd.Run(ctx, url)
	if err != nil {
		return rawInfo{}, ClassifyError(ctx, engineFailure(res, err))
	}
	return parseInfoJSON(res.Stdout)
}

// Info performs the slow metadata lookup, bounded by InfoTimeout.
func (e *YTDLPEngine) Info(ctx context.Context, url string) (models.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, e.InfoTimeout)
	defer cancel()

	info, err := e.dumpInfo(ctx, url, "")
	if err != nil {
		return models.Metadata{}, err
	}
	channel := info.Channel
	if channel == "" {
		channel = info.Uploader
	}
	return models.Metadata{
		Title:     info.Title,
		Duration:  info.Duration,
		Channel:   channel,
		Thumbnail: info.Thumbnail,
	}, nil
}

// rawPlaylist is the subset of a flat --dump-single-json playlist dump that we read.
type rawPlaylist struct {
	Entries []struct {
		ID         string `json:"id"`
		URL        string `json:"url"`
		WebpageURL string `json:"webpage_url"`
		Title      string `json:"title"`
	} `json:"entries"`
}

// parsePlaylistJSON turns a flat playlist dump into watch URLs. Entries
// without an id or URL are skipped.
func parsePlaylistJSON(stdout string) ([]PlaylistEntry, error) {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil, &EngineError{Kind: ErrExtraction, Message: "engine returned no playlist"}
	}
	var raw rawPlaylist
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return nil, fmt.Errorf("decoding playlist: %w", err)
	}
	entries := make([]PlaylistEntry, 0, len(raw.Entries))
	for _, e := range raw.Entries {
		url := e.WebpageURL
		if url == "" && strings.HasPrefix(e.URL, "http") {
			url = e.URL
		}
		if url == "" && e.ID != "" {
			url = "https://www.youtube.com/watch?v=" + e.ID
		}
		if url == "" {
			continue
		}
		entries = append(entries, PlaylistEntry{URL: url, Title: e.Title})
	}
	return entries, nil
}

// Entries lists the videos of a playlist URL without downloading them.
func (e *YTDLPEngine) Entries(ctx context.Context, url string) ([]PlaylistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultPlaylistTimeout)
	defer cancel()

	res, err := ytdlp.New().
		FlatPlaylist().
		DumpSingleJSON().
		SkipDownload().
		Run(ctx, url)
	if err != nil {
		return nil, ClassifyError(ctx, engineFailure(res, err))
	}
	return parsePlaylistJSON(res.Stdout)
}

// ResolveURL resolves a direct, short-lived stream URL for the selected format.
func (e *YTDLPEngine) ResolveURL(ctx context.Context, url string, kind models.Kind, quality string) (models.StreamInfo, error) {
	sel := SelectFormat(kind, quality)
	info, err := e.dumpInfo(ctx, url, sel.Format)
	if err != nil {
		return models.StreamInfo{}, err
	}
	return streamFromInfo(info, kind), nil
}

func streamFromInfo(info rawInfo, kind models.Kind) models.StreamInfo {
	out := models.StreamInfo{URL: info.URL, Title: info.Title, Ext: info.Ext}
	if out.URL == "" {
		for _, f := range info.RequestedFormats {
			if kind == models.KindAudio && f.ACodec != "none" {
				out.URL = f.URL
				break
			}
			if kind != models.KindAudio && f.VCodec != "none" {
				out.URL = f.URL
				break
			}
		}
	}
	if out.Title == "" {
		out.Title = "video"
	}
	if out.Ext == "" {
		out.Ext = "mp4"
	}
	return out
}

// InstallEngine makes sure a yt-dlp binary is available, downloading it
// into the library's cache when missing. Returns the executable path and version.
func InstallEngine(ctx context.Context) (string, string, error) {
	resolved, err := ytdlp.Install(ctx, nil)
	if err != nil {
		return "", "", fmt.Errorf("installing yt-dlp: %w", err)
	}
	return resolved.Executable, resolved.Version, nil
}
