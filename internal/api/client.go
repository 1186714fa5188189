package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrRateLimited  = errors.New("oEmbed rate limit exceeded")
	ErrUnauthorized = errors.New("oEmbed request refused (embedding disabled or private)")
	ErrNotFound     = errors.New("oEmbed resource not found")
	ErrServerError  = errors.New("oEmbed server error")
)

const (
	DefaultOEmbedBaseURL = "https://www.youtube.com/oembed"
	WatchURLPrefix       = "https://www.youtube.com/watch?v="
	// Some oEmbed endpoints reject requests without a browser-like agent.
	UserAgent = "Mozilla/5.0"
)

// OEmbed is the subset of an oEmbed response we use.
type OEmbed struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	ProviderName string `json:"provider_name"`
}

// Client fetches oEmbed metadata, the fast path of the metadata lookup.
type Client struct {
	BaseURL    string
	HttpClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// NewClient creates a new oEmbed client. Request deadlines come from the
// caller's context, the http.Client timeout is only a backstop.
func NewClient(httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	log.Debugf("[oEmbed] NewClient (retries=%d, delay=%dms)", maxRetries, cfg.InitialRetryDelayMs)

	return &Client{
		BaseURL:    DefaultOEmbedBaseURL,
		HttpClient: httpClient,
		MaxRetries: maxRetries,
		RetryDelay: time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
	}
}

// OEmbedURL builds the request URL for videoID against base.
func OEmbedURL(base, videoID string) string {
	values := url.Values{}
	values.Set("url", WatchURLPrefix+videoID)
	values.Set("format", "json")
	return base + "?" + values.Encode()
}

// GetOEmbed fetches oEmbed metadata for videoID. Rate limits and 5xx
// responses are retried with a linear backoff while ctx allows.
func (c *Client) GetOEmbed(ctx context.Context, videoID string) (OEmbed, error) {
	if videoID == "" {
		return OEmbed{}, fmt.Errorf("%w: empty video id", ErrNotFound)
	}
	reqURL := OEmbedURL(c.BaseURL, videoID)

	var lastErr error
	for attempt := 0; attempt < c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.RetryDelay
			log.WithError(lastErr).Debugf("[oEmbed] Retrying %s (%d/%d) after %s", videoID, attempt+1, c.MaxRetries, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return OEmbed{}, fmt.Errorf("oEmbed request for %s: %w", videoID, ctx.Err())
			}
		}

		result, retry, err := c.fetch(ctx, reqURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return OEmbed{}, lastErr
}

// fetch performs one request and reports whether a failure is worth retrying.
func (c *Client) fetch(ctx context.Context, reqURL string) (OEmbed, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return OEmbed{}, false, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HttpClient.Do(req) // Transport will log if enabled
	if err != nil {
		return OEmbed{}, true, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return OEmbed{}, true, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return OEmbed{}, false, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return OEmbed{}, false, ErrNotFound
	case resp.StatusCode >= 500:
		drain(resp.Body)
		return OEmbed{}, true, fmt.Errorf("%w (status code %d)", ErrServerError, resp.StatusCode)
	default:
		return OEmbed{}, false, fmt.Errorf("oEmbed request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return OEmbed{}, true, fmt.Errorf("error reading response body: %w", err)
	}

	var out OEmbed
	if err := json.Unmarshal(body, &out); err != nil {
		log.Debugf("[oEmbed] Response body causing unmarshal error: %s", string(body))
		return OEmbed{}, false, fmt.Errorf("error unmarshalling oEmbed JSON: %w", err)
	}
	return out, false, nil
}

// drain lets the connection be reused for a retry.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
