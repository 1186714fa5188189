// Package index keeps a full-text index of finished jobs.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-ytdl-host/internal/models"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	log "github.com/sirupsen/logrus"
)

// DefaultSearchLimit caps search results when no limit is given.
const DefaultSearchLimit = 50

// Item is the indexed form of a job.
type Item struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Channel    string    `json:"channel"`
	URL        string    `json:"url"`
	Kind       string    `json:"kind"`
	Quality    string    `json:"quality"`
	Status     string    `json:"status"`
	FilePath   string    `json:"filePath"`
	Error      string    `json:"error"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Hit is one search result.
type Hit struct {
	ID    string
	Score float64
	Title string
}

// ItemFromJob converts a job into its index document.
func ItemFromJob(job models.Job) Item {
	return Item{
		ID:         job.ID,
		Type:       "job",
		Title:      job.Title,
		Channel:    job.Channel,
		URL:        job.URL,
		Kind:       string(job.Kind),
		Quality:    job.Quality,
		Status:     string(job.Status),
		FilePath:   job.FilePath,
		Error:      job.Error,
		FinishedAt: job.FinishedAt,
	}
}

func buildMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()
	text := bleve.NewTextFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("channel", text)
	doc.AddFieldMappingsAt("error", text)
	doc.AddFieldMappingsAt("url", keyword)
	doc.AddFieldMappingsAt("kind", keyword)
	doc.AddFieldMappingsAt("quality", keyword)
	doc.AddFieldMappingsAt("status", keyword)
	doc.AddFieldMappingsAt("filePath", keyword)
	doc.AddFieldMappingsAt("finishedAt", bleve.NewDateTimeFieldMapping())

	m := bleve.NewIndexMapping()
	m.TypeField = "type"
	m.AddDocumentMapping("job", doc)
	return m
}

// OpenOrCreateIndex opens the index at path, creating it when missing.
func OpenOrCreateIndex(path string) (bleve.Index, error) {
	if path == "" {
		return nil, fmt.Errorf("index path is empty")
	}
	idx, err := bleve.Open(path)
	if err == nil {
		log.Debugf("[Index] Opened %s", path)
		return idx, nil
	}
	if !errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		return nil, fmt.Errorf("opening index %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating index parent directory: %w", err)
	}
	idx, err = bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("creating index %s: %w", path, err)
	}
	log.Infof("[Index] Created %s", path)
	return idx, nil
}

// IndexJob adds or replaces job in idx.
func IndexJob(idx bleve.Index, job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("cannot index a job without id")
	}
	if err := idx.Index(job.ID, ItemFromJob(job)); err != nil {
		return fmt.Errorf("indexing job %s: %w", job.ID, err)
	}
	return nil
}

// DeleteJob removes a job document. Unknown ids are not an error.
func DeleteJob(idx bleve.Index, jobID string) error {
	if err := idx.Delete(jobID); err != nil {
		return fmt.Errorf("removing job %s from index: %w", jobID, err)
	}
	return nil
}

// Search runs a query-string search. An empty query matches every job.
func Search(idx bleve.Index, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query = strings.TrimSpace(query)

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), limit, 0, false)
	if query != "" {
		req = bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	}
	req.Fields = []string{"title"}

	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching index for %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		title, _ := h.Fields["title"].(string)
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Title: title})
	}
	return hits, nil
}
