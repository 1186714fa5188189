package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"text/tabwriter"
	"time"

	"go-ytdl-host/internal/api"
	"go-ytdl-host/internal/config"
	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/history"
	"go-ytdl-host/internal/metadata"
	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/orchestrator"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Download flag values shared by every command that accepts them.
var (
	downloadKindFlag        string
	downloadQualityFlag     string
	downloadSubfolderFlag   string
	downloadMergeFormatFlag string
	downloadRetriesFlag     int
	downloadAutoStartFlag   bool
	downloadHashFlag        bool
)

var queueCmd = &cobra.Command{
	Use:   "queue URL...",
	Short: "Download one or more URLs with a live progress table",
	Long: `Adds every URL to the download queue and transfers them one at a time.
Press Ctrl+C once to cancel the running download (the queue moves on to the
next one), twice to cancel everything.`,
	Example: `  ytdl-host queue https://youtu.be/dQw4w9WgXcQ
  ytdl-host queue --kind audio -q mp3_192 https://www.youtube.com/watch?v=dQw4w9WgXcQ`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	addDownloadFlags(queueCmd)
}

func addDownloadFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&downloadKindFlag, "kind", "", "Media kind: video or audio (overrides config)")
	cmd.Flags().StringVarP(&downloadQualityFlag, "quality", "q", "", "Quality preset, e.g. 1080, 720, best, mp3_320, m4a, wav (overrides config)")
	cmd.Flags().StringVar(&downloadSubfolderFlag, "subfolder", "", "Subfolder pattern using {kind}, {quality}, {channel}, {date} (overrides config)")
	cmd.Flags().StringVar(&downloadMergeFormatFlag, "merge-format", "", "Container for merged video streams (overrides config)")
	cmd.Flags().IntVar(&downloadRetriesFlag, "retries", 0, "Engine retries per transfer (overrides config)")
	cmd.Flags().BoolVar(&downloadAutoStartFlag, "auto-start", true, "Start downloads as soon as metadata is known (overrides config)")
	cmd.Flags().BoolVar(&downloadHashFlag, "hash", true, "Record a BLAKE3 hash of finished files (overrides config)")
}

// downloadFlags returns the download overrides set on cmd, nil when none were.
func downloadFlags(cmd *cobra.Command) *config.CliDownloadFlags {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	var d config.CliDownloadFlags
	set := false
	if changed("kind") {
		d.Kind, set = &downloadKindFlag, true
	}
	if changed("quality") {
		d.Quality, set = &downloadQualityFlag, true
	}
	if changed("subfolder") {
		d.SubfolderPattern, set = &downloadSubfolderFlag, true
	}
	if changed("merge-format") {
		d.MergeFormat, set = &downloadMergeFormatFlag, true
	}
	if changed("retries") {
		d.Retries, set = &downloadRetriesFlag, true
	}
	if changed("auto-start") {
		d.AutoStart, set = &downloadAutoStartFlag, true
	}
	if changed("hash") {
		d.HashFiles, set = &downloadHashFlag, true
	}
	if !set {
		return nil
	}
	return &d
}

func runQueue(cmd *cobra.Command, args []string) error {
	cfg := globalConfig

	outputDir := config.OutputPath(cfg.SettingsPath, cfg.SavePath)
	if f := cmd.Flags().Lookup("save-path"); f != nil && f.Changed {
		outputDir = cfg.SavePath
		config.SaveOutputPath(cfg.SettingsPath, outputDir)
	}
	if !helpers.CheckAndMakeDir(outputDir) {
		return fmt.Errorf("output directory %s is not usable", outputDir)
	}

	engine := downloader.NewYTDLPEngine(cfg.Download, time.Duration(cfg.EngineInfoTimeoutSec)*time.Second)
	client := api.NewClient(&http.Client{Transport: globalHttpTransport, Timeout: 30 * time.Second}, cfg)
	resolver := metadata.NewResolver(client, engine,
		time.Duration(cfg.MetadataTimeoutSec)*time.Second,
		time.Duration(cfg.EngineInfoTimeoutSec)*time.Second)

	// Opened per record so a running host can record into the same store.
	recorder := history.NewSharedRecorder(cfg.DatabasePath, cfg.BleveIndexPath)

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	table := &queueTable{out: writer}
	var q *orchestrator.Queue
	q = orchestrator.New(engine, resolver, orchestrator.Options{
		OutputDir:        outputDir,
		SubfolderPattern: cfg.Download.SubfolderPattern,
		DefaultKind:      models.ParseKind(cfg.Download.Kind),
		DefaultQuality:   cfg.Download.Quality,
		AutoStart:        cfg.Download.AutoStart,
		AdvanceDelay:     time.Duration(cfg.Download.AdvanceDelayMs) * time.Millisecond,
		HashFiles:        cfg.Download.HashFiles,
	}, orchestrator.Callbacks{
		OnUpdate: func(job models.Job) {
			table.update(job)
		},
		OnProgress: func(jobID string, info models.ProgressInfo) {
			table.progress(jobID, info)
		},
		OnComplete: func(jobID string, success bool, message string) {
			job, err := q.Get(jobID)
			if err != nil {
				return
			}
			table.update(job)
			if err := recorder.Record(job); err != nil {
				log.WithError(err).Warnf("Could not record %s in history", jobID)
			}
		},
	})
	defer q.Close()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	if _, err := enqueueAll(ctx, q, args, models.ParseKind(cfg.Download.Kind), cfg.Download.Quality, cfg.Download.AutoStart, table.update); err != nil {
		return err
	}
	go handleQueueInterrupts(ctx, q)

	if err := q.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	table.render()
	writer.Flush()

	return printQueueSummary(os.Stdout, q.Jobs())
}

// enqueueAll adds every URL to q, expanding playlist URLs into one job per
// video, and starts the queue when jobs do not start on their own.
func enqueueAll(ctx context.Context, q *orchestrator.Queue, urls []string, kind models.Kind, quality string, autoStart bool, onAdded func(models.Job)) (int, error) {
	added := 0
	for _, url := range urls {
		if helpers.IsPlaylistURL(url) {
			jobs, err := q.AddPlaylist(ctx, url, kind, quality)
			if err != nil {
				log.WithError(err).Warnf("Skipping playlist %s", url)
			}
			for _, job := range jobs {
				onAdded(job)
			}
			added += len(jobs)
			continue
		}
		job, err := q.Add(url, kind, quality)
		if err != nil {
			log.WithError(err).Warnf("Skipping %s", url)
			continue
		}
		onAdded(job)
		added++
	}
	if added == 0 {
		return 0, errors.New("no valid URLs to download")
	}
	if !autoStart {
		if err := q.StartAll(); err != nil && !errors.Is(err, orchestrator.ErrNothingQueued) {
			return added, err
		}
	}
	return added, nil
}

// handleQueueInterrupts cancels the active download on the first Ctrl+C and
// every remaining job on the second.
func handleQueueInterrupts(ctx context.Context, q *orchestrator.Queue) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	interrupts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			interrupts++
			if interrupts == 1 {
				log.Warn("Interrupted, cancelling the current download (Ctrl+C again to cancel all)")
				q.CancelActive()
				continue
			}
			log.Warn("Interrupted again, cancelling all downloads")
			for _, job := range q.Jobs() {
				if !job.Status.IsTerminal() {
					_ = q.Cancel(job.ID)
				}
			}
			return
		}
	}
}

// queueTable keeps the latest state of every job and redraws the live table.
type queueTable struct {
	mu    sync.Mutex
	out   io.Writer
	order []string
	jobs  map[string]models.Job
	info  map[string]models.ProgressInfo
}

func (t *queueTable) update(job models.Job) {
	t.mu.Lock()
	if t.jobs == nil {
		t.jobs = make(map[string]models.Job)
		t.info = make(map[string]models.ProgressInfo)
	}
	if _, ok := t.jobs[job.ID]; !ok {
		t.order = append(t.order, job.ID)
	}
	t.jobs[job.ID] = job
	t.mu.Unlock()
	t.render()
}

func (t *queueTable) progress(jobID string, info models.ProgressInfo) {
	t.mu.Lock()
	if t.info == nil {
		t.info = make(map[string]models.ProgressInfo)
	}
	t.info[jobID] = info
	t.mu.Unlock()
	t.render()
}

func (t *queueTable) render() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Title\tLength\tStatus\tProgress\tSpeed\tETA")
	for _, id := range t.order {
		job := t.jobs[id]
		speed, eta := job.Speed, job.ETA
		if info, ok := t.info[id]; ok && job.Status.IsActive() {
			speed, eta = info.Speed, info.ETA
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%3d%%\t%s\t%s\n",
			truncateString(displayTitle(job), 40),
			helpers.FormatDuration(int(job.Duration)),
			job.Status,
			job.Percent,
			speed,
			eta,
		)
	}
	tw.Flush()
	_, _ = t.out.Write(buf.Bytes())
}

func displayTitle(job models.Job) string {
	if job.Title != "" {
		return job.Title
	}
	return job.URL
}

func printQueueSummary(w io.Writer, jobs []models.Job) error {
	counts := make(map[models.JobStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	fmt.Fprintf(w, "\n%d completed, %d failed, %d cancelled\n",
		counts[models.JobCompleted], counts[models.JobFailed], counts[models.JobCancelled])
	for _, job := range jobs {
		switch job.Status {
		case models.JobCompleted:
			if job.FilePath != "" {
				fmt.Fprintf(w, "  saved: %s\n", job.FilePath)
			}
		case models.JobFailed:
			fmt.Fprintf(w, "  failed: %s: %s\n", displayTitle(job), job.Error)
		}
	}
	if counts[models.JobFailed] > 0 {
		return fmt.Errorf("%d download(s) failed", counts[models.JobFailed])
	}
	return nil
}
