package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrExtraction means the engine could not resolve the resource.
	ErrExtraction = errors.New("extraction failed")
	// ErrTransfer means the byte transfer failed after the engine's retries.
	ErrTransfer = errors.New("transfer failed")
	// ErrCancelled means the caller cancelled the transfer.
	ErrCancelled = errors.New("download cancelled")
)

// EngineError carries the engine's message verbatim while still matching
// one of the sentinel errors above through errors.Is.
type EngineError struct {
	Kind    error
	Message string
}

func (e *EngineError) Error() string { return e.Message }

func (e *EngineError) Unwrap() error { return e.Kind }

// Request describes one transfer handed to an Engine.
type Request struct {
	URL            string
	Kind           models.Kind
	Quality        string
	OutputTemplate string
}

// Result is what a successful transfer produced.
type Result struct {
	Title    string
	FilePath string
}

// Engine is the external extraction/download collaborator.
//
// Download reports progress on events in the order the engine emits it and
// must not send on events once it has returned. It should stop promptly
// once ctx is cancelled.
type Engine interface {
	Download(ctx context.Context, req Request, events chan<- models.ProgressEvent) (Result, error)
	Info(ctx context.Context, url string) (models.Metadata, error)
	ResolveURL(ctx context.Context, url string, kind models.Kind, quality string) (models.StreamInfo, error)
}

// PlaylistEntry is one video of a playlist.
type PlaylistEntry struct {
	URL   string
	Title string
}

// PlaylistExpander is implemented by engines that can list the videos of a
// playlist URL without downloading them.
type PlaylistExpander interface {
	Entries(ctx context.Context, url string) ([]PlaylistEntry, error)
}

// Messages that mean the resource itself cannot be resolved. Anything else
// the engine reports is treated as a transfer failure.
var extractionHints = []string{
	"unsupported url",
	"video unavailable",
	"private video",
	"is not a valid url",
	"incomplete youtube id",
	"not available in your country",
	"sign in to confirm",
	"this video has been removed",
	"members-only",
	"unable to extract",
	"no video formats found",
	"requested format is not available",
}

// ClassifyError maps an engine error onto the error taxonomy. ctx is the
// context the transfer ran under, a cancelled ctx always wins.
func ClassifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if (ctx != nil && errors.Is(ctx.Err(), context.Canceled)) || errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return &EngineError{Kind: ErrCancelled, Message: ErrCancelled.Error()}
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}

	msg := strings.TrimSpace(err.Error())
	lower := strings.ToLower(msg)
	for _, hint := range extractionHints {
		if strings.Contains(lower, hint) {
			return &EngineError{Kind: ErrExtraction, Message: msg}
		}
	}
	return &EngineError{Kind: ErrTransfer, Message: msg}
}

// Run executes one transfer on engine and delivers its progress events to
// onEvent in order on the calling goroutine. Events that arrive after ctx
// is cancelled are dropped. Panics inside the engine are turned into
// transfer failures.
func Run(ctx context.Context, engine Engine, req Request, onEvent func(models.ProgressEvent)) (Result, error) {
	events := make(chan models.ProgressEvent, 16)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("[Engine] Panic during download of %s: %v", req.URL, r)
				out = outcome{err: &EngineError{Kind: ErrTransfer, Message: fmt.Sprintf("engine panic: %v", r)}}
			}
			close(events)
			done <- out
		}()
		res, err := engine.Download(ctx, req, events)
		out = outcome{res: res, err: err}
	}()

	for ev := range events {
		if ctx.Err() != nil {
			continue
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}

	out := <-done
	if out.err != nil {
		return out.res, ClassifyError(ctx, out.err)
	}
	return out.res, nil
}
