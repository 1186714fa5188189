// Package host implements the native messaging host: it reads framed
// requests from a stream, dispatches them to actions and writes one framed
// response per request. Downloads run on detached workers and report
// through the progress store.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/messaging"
	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/progress"
	"go-ytdl-host/internal/worker"

	log "github.com/sirupsen/logrus"
)

// Version is reported by the ping action.
const Version = "1.0.0"

// DefaultResolveTimeout bounds a getUrl lookup.
const DefaultResolveTimeout = 30 * time.Second

// correlationKeys are echoed verbatim from request to response.
var correlationKeys = []string{"id", "_id"}

// PathSelector asks the user to pick a directory. ok is false when the
// user dismissed the dialog.
type PathSelector interface {
	SelectFolder(ctx context.Context, initial string) (path string, ok bool, err error)
}

// JobRecorder stores finished detached downloads.
type JobRecorder interface {
	Record(job models.Job) error
}

// Options configures a Host.
type Options struct {
	Engine   downloader.Engine
	Store    *progress.Store
	Registry *worker.Registry
	Selector PathSelector
	Recorder JobRecorder

	DefaultPath      string
	SettingsPath     string
	SubfolderPattern string
	ResolveTimeout   time.Duration
	// ShutdownTimeout bounds how long Serve waits for detached workers
	// after the input stream closes. Zero waits until they finish.
	ShutdownTimeout time.Duration
}

type handlerFunc func(ctx context.Context, msg messaging.Message) (messaging.Message, error)

// Host is one native messaging connection.
type Host struct {
	opts     Options
	handlers map[string]handlerFunc

	pathMu sync.Mutex
}

// New builds a Host. A nil Registry gets a fresh one.
func New(opts Options) *Host {
	if opts.Registry == nil {
		opts.Registry = worker.NewRegistry()
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = DefaultResolveTimeout
	}
	h := &Host{opts: opts}
	h.handlers = map[string]handlerFunc{
		"ping":        h.handlePing,
		"getPath":     h.handleGetPath,
		"selectPath":  h.handleSelectPath,
		"getProgress": h.handleGetProgress,
		"getUrl":      h.handleGetURL,
		"download":    h.handleDownload,
		"cancel":      h.handleCancel,
	}
	return h
}

// Registry returns the registry detached downloads are spawned on.
func (h *Host) Registry() *worker.Registry {
	return h.opts.Registry
}

// Serve reads requests from r until the stream closes and writes responses
// to w. Requests are handled one at a time in arrival order. When the stream
// closes Serve waits for detached downloads before returning. A malformed
// frame ends the loop with an error after a best-effort unmarked error frame.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := messaging.NewReader(r)
	writer := messaging.NewWriter(w)

	log.Info("[Host] Waiting for messages")
	var loopErr error
	for {
		msg, err := reader.Read()
		if err != nil {
			if errors.Is(err, messaging.ErrStreamClosed) {
				log.Info("[Host] Input closed")
				break
			}
			log.WithError(err).Error("[Host] Unreadable message, closing connection")
			if werr := writer.Write(messaging.Message{"error": err.Error()}); werr != nil {
				log.WithError(werr).Error("[Host] Could not send error frame")
			}
			loopErr = err
			break
		}

		resp := h.Dispatch(ctx, msg)
		if err := writer.Write(resp); err != nil {
			log.WithError(err).Error("[Host] Could not write response")
			loopErr = err
			break
		}
	}

	h.waitForWorkers(ctx)
	return loopErr
}

func (h *Host) waitForWorkers(ctx context.Context) {
	active := h.opts.Registry.Active()
	if len(active) > 0 {
		log.Infof("[Host] Waiting for %d download(s) to finish", len(active))
	}
	if h.opts.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ShutdownTimeout)
		defer cancel()
	}
	if err := h.opts.Registry.Wait(ctx); err != nil {
		log.WithError(err).Warn("[Host] Stopped waiting for downloads")
	}
}

// Dispatch routes one request to its action and returns the response with
// the request's correlation ids copied in. It never panics.
func (h *Host) Dispatch(ctx context.Context, msg messaging.Message) (resp messaging.Message) {
	action := msg.String("action")
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Host] Panic while handling %q: %v", action, r)
			resp = messaging.Message{"success": false, "error": fmt.Sprintf("internal error: %v", r)}
		}
		copyCorrelation(msg, resp)
	}()

	handler, ok := h.handlers[action]
	if !ok {
		log.Warnf("[Host] Unknown action %q", action)
		return messaging.Message{"error": "Unknown action"}
	}

	log.Debugf("[Host] Handling %s", action)
	out, err := handler(ctx, msg)
	if err != nil {
		log.WithError(err).Warnf("[Host] Action %s failed", action)
		return messaging.Message{"success": false, "error": err.Error()}
	}
	if out == nil {
		out = messaging.Message{}
	}
	return out
}

func copyCorrelation(req, resp messaging.Message) {
	if resp == nil {
		return
	}
	for _, key := range correlationKeys {
		if v, ok := req[key]; ok {
			resp[key] = v
		}
	}
}
