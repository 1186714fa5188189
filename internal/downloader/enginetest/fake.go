// Package enginetest provides a scripted downloader.Engine for tests.
package enginetest

import (
	"context"
	"errors"
	"sync"

	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/models"
)

// ErrNoMetadata is returned by Info when nothing was scripted for a URL.
var ErrNoMetadata = errors.New("no scripted metadata")

// Script describes how one Download call behaves.
type Script struct {
	Events []models.ProgressEvent
	Result downloader.Result
	Err    error
	// Hold keeps Download running after the events until ctx is cancelled
	// or Release is called for the URL.
	Hold  bool
	Panic bool
}

// Fake is a downloader.Engine driven by per-URL scripts.
type Fake struct {
	mu        sync.Mutex
	scripts   map[string]Script
	gates     map[string]chan struct{}
	meta      map[string]models.Metadata
	playlists map[string][]downloader.PlaylistEntry
	requests  []downloader.Request
	infoCalls int

	Default   Script
	InfoErr   error
	InfoHold  bool
	Stream    models.StreamInfo
	StreamErr error

	// Started receives every request as Download begins; sends never block.
	Started chan downloader.Request
}

// New returns an empty Fake whose default script succeeds immediately.
func New() *Fake {
	return &Fake{
		scripts:   make(map[string]Script),
		gates:     make(map[string]chan struct{}),
		meta:      make(map[string]models.Metadata),
		playlists: make(map[string][]downloader.PlaylistEntry),
		Started:   make(chan downloader.Request, 64),
	}
}

// Script sets the behaviour of Download for url.
func (f *Fake) Script(url string, s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = s
}

// SetMetadata sets what Info returns for url.
func (f *Fake) SetMetadata(url string, meta models.Metadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[url] = meta
}

// SetPlaylist sets what Entries returns for url.
func (f *Fake) SetPlaylist(url string, entries []downloader.PlaylistEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[url] = entries
}

// Release lets a held Download for url return its scripted outcome.
func (f *Fake) Release(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := f.gateLocked(url)
	select {
	case <-gate:
	default:
		close(gate)
	}
}

// Requests returns every Download request seen so far.
func (f *Fake) Requests() []downloader.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]downloader.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// InfoCalls returns how many times Info was called.
func (f *Fake) InfoCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.infoCalls
}

func (f *Fake) gateLocked(url string) chan struct{} {
	gate, ok := f.gates[url]
	if !ok {
		gate = make(chan struct{})
		f.gates[url] = gate
	}
	return gate
}

// Download implements downloader.Engine.
func (f *Fake) Download(ctx context.Context, req downloader.Request, events chan<- models.ProgressEvent) (downloader.Result, error) {
	f.mu.Lock()
	s, ok := f.scripts[req.URL]
	if !ok {
		s = f.Default
	}
	f.requests = append(f.requests, req)
	gate := f.gateLocked(req.URL)
	f.mu.Unlock()

	select {
	case f.Started <- req:
	default:
	}

	if s.Panic {
		panic("scripted engine panic")
	}

	for _, ev := range s.Events {
		if ctx.Err() != nil {
			return downloader.Result{}, ctx.Err()
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return downloader.Result{}, ctx.Err()
		}
	}

	if s.Hold {
		select {
		case <-gate:
		case <-ctx.Done():
			return downloader.Result{}, ctx.Err()
		}
	}
	return s.Result, s.Err
}

// Info implements downloader.Engine.
func (f *Fake) Info(ctx context.Context, url string) (models.Metadata, error) {
	f.mu.Lock()
	f.infoCalls++
	meta, ok := f.meta[url]
	hold := f.InfoHold
	infoErr := f.InfoErr
	f.mu.Unlock()

	if hold {
		<-ctx.Done()
		return models.Metadata{}, ctx.Err()
	}
	if infoErr != nil {
		return models.Metadata{}, infoErr
	}
	if !ok {
		return models.Metadata{}, ErrNoMetadata
	}
	return meta, nil
}

// ResolveURL implements downloader.Engine.
func (f *Fake) ResolveURL(ctx context.Context, url string, kind models.Kind, quality string) (models.StreamInfo, error) {
	if f.StreamErr != nil {
		return models.StreamInfo{}, f.StreamErr
	}
	return f.Stream, nil
}

// Entries implements downloader.PlaylistExpander.
func (f *Fake) Entries(ctx context.Context, url string) ([]downloader.PlaylistEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, ok := f.playlists[url]
	if !ok {
		return nil, &downloader.EngineError{Kind: downloader.ErrExtraction, Message: "ERROR: The playlist does not exist."}
	}
	return entries, nil
}

var (
	_ downloader.Engine           = (*Fake)(nil)
	_ downloader.PlaylistExpander = (*Fake)(nil)
)
