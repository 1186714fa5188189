// Package metadata resolves best-effort titles and durations for a URL.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-ytdl-host/internal/api"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultFastTimeout = 3 * time.Second
	DefaultSlowTimeout = 5 * time.Second

	PlaceholderTitle = "Untitled (download can still be attempted)"
	UntitledTitle    = "Untitled"
	UnknownChannel   = "Unknown"
)

// ErrMetadataUnavailable means neither lookup produced metadata.
var ErrMetadataUnavailable = errors.New("metadata unavailable")

// OEmbedFetcher is the fast lookup.
type OEmbedFetcher interface {
	GetOEmbed(ctx context.Context, videoID string) (api.OEmbed, error)
}

// InfoSource is the slow lookup, normally the download engine.
type InfoSource interface {
	Info(ctx context.Context, url string) (models.Metadata, error)
}

// Resolver tries the oEmbed endpoint first and falls back to the engine.
type Resolver struct {
	fast        OEmbedFetcher
	slow        InfoSource
	fastTimeout time.Duration
	slowTimeout time.Duration
}

// NewResolver builds a Resolver. Either source may be nil; non-positive
// timeouts use the defaults.
func NewResolver(fast OEmbedFetcher, slow InfoSource, fastTimeout, slowTimeout time.Duration) *Resolver {
	if fastTimeout <= 0 {
		fastTimeout = DefaultFastTimeout
	}
	if slowTimeout <= 0 {
		slowTimeout = DefaultSlowTimeout
	}
	return &Resolver{fast: fast, slow: slow, fastTimeout: fastTimeout, slowTimeout: slowTimeout}
}

// Lookup always returns usable metadata. When both lookups fail it returns
// placeholder metadata together with an error wrapping ErrMetadataUnavailable, which
// callers may log but must not treat as fatal.
func (r *Resolver) Lookup(ctx context.Context, url string) (models.Metadata, error) {
	meta, fastErr := r.lookupFast(ctx, url)
	if fastErr == nil {
		return meta, nil
	}
	log.WithError(fastErr).Debugf("[Metadata] Fast lookup failed for %s, trying engine", url)

	meta, slowErr := r.lookupSlow(ctx, url)
	if slowErr == nil {
		return meta, nil
	}
	log.WithError(slowErr).Debugf("[Metadata] Engine lookup failed for %s", url)

	return Placeholder(), fmt.Errorf("%w: %v; %v", ErrMetadataUnavailable, fastErr, slowErr)
}

// Placeholder is the metadata shown when nothing could be resolved.
func Placeholder() models.Metadata {
	return models.Metadata{Title: PlaceholderTitle, Channel: UnknownChannel}
}

func (r *Resolver) lookupFast(ctx context.Context, url string) (models.Metadata, error) {
	if r.fast == nil {
		return models.Metadata{}, errors.New("no oEmbed source")
	}
	videoID := helpers.ExtractVideoID(url)
	if videoID == "" {
		return models.Metadata{}, fmt.Errorf("no video id in %s", url)
	}

	ctx, cancel := context.WithTimeout(ctx, r.fastTimeout)
	defer cancel()

	o, err := r.fast.GetOEmbed(ctx, videoID)
	if err != nil {
		return models.Metadata{}, err
	}
	meta := models.Metadata{
		Title:     o.Title,
		Channel:   o.AuthorName,
		Thumbnail: o.ThumbnailURL,
	}
	fillDefaults(&meta)
	return meta, nil
}

func (r *Resolver) lookupSlow(ctx context.Context, url string) (models.Metadata, error) {
	if r.slow == nil {
		return models.Metadata{}, errors.New("no engine source")
	}
	ctx, cancel := context.WithTimeout(ctx, r.slowTimeout)
	defer cancel()

	meta, err := r.slow.Info(ctx, url)
	if err != nil {
		return models.Metadata{}, err
	}
	fillDefaults(&meta)
	return meta, nil
}

func fillDefaults(meta *models.Metadata) {
	if meta.Title == "" {
		meta.Title = UntitledTitle
	}
	if meta.Channel == "" {
		meta.Channel = UnknownChannel
	}
}
