package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"go-ytdl-host/internal/database"
	"go-ytdl-host/internal/history"
	"go-ytdl-host/internal/index"
	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Package-level variables for jobs flags
var (
	jobsStatusFilter []string
	jobsJSON         bool
	jobsSearchLimit  int
	jobsRemoveSearch string
	jobsDeleteFiles  bool
	jobsForce        bool
	jobsDryRun       bool
	jobsClearStatus  []string
)

// jobsCmd represents the base command for download history operations
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage the download history",
	Long:  `List, search, verify or remove finished downloads recorded in the history database.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded downloads, newest first",
	RunE:  runJobsList,
}

var jobsSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Full-text search over recorded downloads",
	Long: `Searches titles, channels and error messages. Field queries such as
kind:audio or status:failed are supported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJobsSearch,
}

var jobsRemoveCmd = &cobra.Command{
	Use:   "remove [JOB_ID...]",
	Short: "Remove downloads from the history",
	Long: `Remove history records by job id, or search and interactively select entries.

Examples:
  # Remove one record, keep the file
  ytdl-host jobs remove job_0190a1b2-...

  # Search and pick entries, deleting their files too
  ytdl-host jobs remove --search "live" --delete-files`,
	RunE: runJobsRemove,
}

var jobsVerifyCmd = &cobra.Command{
	Use:   "verify [JOB_ID...]",
	Short: "Re-hash downloaded files and compare with the recorded BLAKE3 hash",
	RunE:  runJobsVerify,
}

var jobsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove finished records by status",
	RunE:  runJobsClear,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsSearchCmd, jobsRemoveCmd, jobsVerifyCmd, jobsClearCmd)

	jobsListCmd.Flags().StringSliceVar(&jobsStatusFilter, "status", nil, "Only show these statuses (completed, failed, cancelled)")
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "Print records as JSON")
	jobsSearchCmd.Flags().IntVarP(&jobsSearchLimit, "limit", "l", index.DefaultSearchLimit, "Maximum number of results")
	jobsSearchCmd.Flags().BoolVar(&jobsJSON, "json", false, "Print records as JSON")

	jobsRemoveCmd.Flags().StringVarP(&jobsRemoveSearch, "search", "s", "", "Search and select entries to remove")
	jobsRemoveCmd.Flags().BoolVar(&jobsDeleteFiles, "delete-files", false, "Also delete the downloaded files")
	jobsRemoveCmd.Flags().BoolVarP(&jobsForce, "force", "f", false, "Skip confirmation prompt")
	jobsRemoveCmd.Flags().BoolVarP(&jobsDryRun, "dry-run", "n", false, "Show what would be removed without removing")

	jobsClearCmd.Flags().StringSliceVar(&jobsClearStatus, "status", []string{string(models.JobCompleted)}, "Statuses to clear (completed, failed, cancelled)")
}

// openHistory opens the history database. The caller closes the returned DB.
func openHistory() (*database.DB, *history.Recorder, error) {
	cfg := globalConfig
	if cfg.DatabasePath == "" {
		return nil, nil, errors.New("database path is not set in the configuration")
	}
	// A host may be recording a finished download right now.
	db, err := database.OpenRetry(context.Background(), cfg.DatabasePath, history.DefaultLockAttempts, history.DefaultLockDelay)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database at %s: %w", cfg.DatabasePath, err)
	}
	return db, history.NewRecorder(db, cfg.BleveIndexPath), nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	db, rec, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := rec.List()
	if err != nil {
		return err
	}
	jobs = filterByStatus(jobs, jobsStatusFilter)
	return printJobs(os.Stdout, jobs, jobsJSON)
}

func runJobsSearch(cmd *cobra.Command, args []string) error {
	db, rec, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := rec.Search(strings.Join(args, " "), jobsSearchLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 && !jobsJSON {
		log.Info("No matching downloads found.")
		return nil
	}
	return printJobs(os.Stdout, jobs, jobsJSON)
}

func runJobsRemove(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && jobsRemoveSearch == "" {
		_ = cmd.Usage()
		return errors.New("give at least one job id or --search")
	}

	db, rec, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	var selected []models.Job
	for _, id := range args {
		job, err := rec.Get(id)
		if err != nil {
			log.WithError(err).Warnf("Skipping %s", id)
			continue
		}
		selected = append(selected, job)
	}

	if jobsRemoveSearch != "" {
		found, err := rec.Search(jobsRemoveSearch, index.DefaultSearchLimit)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			log.Info("No entries found matching the search.")
		} else {
			selected = append(selected, interactiveSelectJobs(found, os.Stdin, os.Stdout)...)
		}
	}

	if len(selected) == 0 {
		log.Info("Nothing selected for removal.")
		return nil
	}

	fmt.Printf("\nEntries to be removed (%d total):\n\n", len(selected))
	_ = printJobs(os.Stdout, selected, false)

	if !confirmRemoval(len(selected), jobsForce, jobsDryRun, os.Stdin) {
		log.Info("Removal canceled.")
		return nil
	}
	if jobsDryRun {
		log.Info("Dry run complete. No changes were made.")
		return nil
	}

	removed := 0
	var errs []error
	for _, job := range selected {
		if err := rec.Remove(job.ID, jobsDeleteFiles); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", job.ID, err))
			continue
		}
		removed++
	}
	for _, e := range errs {
		log.Error(e)
	}
	summary := fmt.Sprintf("Removal complete: %d removed", removed)
	if len(errs) > 0 {
		summary += fmt.Sprintf(", %d errors", len(errs))
	}
	log.Info(summary)
	return nil
}

func runJobsVerify(cmd *cobra.Command, args []string) error {
	db, rec, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	var results []history.VerifyResult
	if len(args) == 0 {
		if results, err = rec.VerifyAll(); err != nil {
			return err
		}
	} else {
		for _, id := range args {
			results = append(results, rec.Verify(id))
		}
	}

	bad := 0
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Result\tJob ID\tFile")
	for _, r := range results {
		state := "OK"
		switch {
		case r.Err != nil:
			state = "ERROR"
			bad++
			log.WithError(r.Err).Debugf("Verify failed for %s", r.Job.ID)
		case r.Missing:
			state = "MISSING"
			bad++
		case !r.Match:
			state = "CHANGED"
			bad++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", state, r.Job.ID, r.Job.FilePath)
	}
	tw.Flush()

	if bad > 0 {
		return fmt.Errorf("%d of %d files failed verification", bad, len(results))
	}
	log.Infof("All %d files verified", len(results))
	return nil
}

func runJobsClear(cmd *cobra.Command, args []string) error {
	statuses, err := parseStatuses(jobsClearStatus)
	if err != nil {
		return err
	}
	db, rec, err := openHistory()
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := rec.ClearFinished(statuses...)
	if err != nil {
		return err
	}
	log.Infof("Cleared %d record(s)", n)
	return nil
}

func parseStatuses(values []string) ([]models.JobStatus, error) {
	out := make([]models.JobStatus, 0, len(values))
	for _, v := range values {
		s := models.JobStatus(strings.ToLower(strings.TrimSpace(v)))
		if !s.IsTerminal() {
			return nil, fmt.Errorf("%q is not a finished status (completed, failed, cancelled)", v)
		}
		out = append(out, s)
	}
	return out, nil
}

func filterByStatus(jobs []models.Job, statuses []string) []models.Job {
	if len(statuses) == 0 {
		return jobs
	}
	want := make(map[models.JobStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[models.JobStatus(strings.ToLower(strings.TrimSpace(s)))] = struct{}{}
	}
	out := jobs[:0:0]
	for _, job := range jobs {
		if _, ok := want[job.Status]; ok {
			out = append(out, job)
		}
	}
	return out
}

func printJobs(w io.Writer, jobs []models.Job, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if jobs == nil {
			jobs = []models.Job{}
		}
		return enc.Encode(jobs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Job ID\tStatus\tKind\tQuality\tTitle\tChannel\tFinished")
	fmt.Fprintln(tw, "------\t------\t----\t-------\t-----\t-------\t--------")
	for _, job := range jobs {
		finished := ""
		if !job.FinishedAt.IsZero() {
			finished = job.FinishedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.Status,
			job.Kind,
			job.Quality,
			truncateString(displayTitle(job), 40),
			truncateString(job.Channel, 20),
			finished,
		)
	}
	return tw.Flush()
}

// interactiveSelectJobs displays numbered entries and lets the user pick some.
func interactiveSelectJobs(jobs []models.Job, in io.Reader, out io.Writer) []models.Job {
	fmt.Fprintf(out, "\nFound %d entries:\n\n", len(jobs))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tTitle\tStatus\tKind\tJob ID")
	fmt.Fprintln(tw, "  -\t-----\t------\t----\t------")
	for i, job := range jobs {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\n", i+1, truncateString(displayTitle(job), 40), job.Status, job.Kind, job.ID)
	}
	tw.Flush()

	fmt.Fprint(out, "\nEnter numbers to remove (e.g., 1,3,5 or 1-3 or 'all', or 'q' to cancel): ")
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		log.WithError(err).Error("Error reading input")
		return nil
	}
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "q" || input == "quit" || input == "cancel" || input == "" {
		return nil
	}

	indices := parseSelection(input, len(jobs))
	if len(indices) == 0 {
		fmt.Fprintln(out, "No valid selection made.")
		return nil
	}
	selected := make([]models.Job, 0, len(indices))
	for _, idx := range indices {
		selected = append(selected, jobs[idx])
	}
	return selected
}

// parseSelection parses user input like "1,3,5" or "1-3" or "all" into indices
func parseSelection(input string, max int) []int {
	if input == "all" {
		indices := make([]int, max)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	indexSet := make(map[int]struct{})
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Check for range (e.g., "1-3")
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				continue
			}
			start, err1 := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
			end, err2 := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
			if err1 == nil && err2 == nil && start >= 1 && end <= max && start <= end {
				for i := start; i <= end; i++ {
					indexSet[i-1] = struct{}{}
				}
			}
			continue
		}

		num, err := strconv.Atoi(part)
		if err == nil && num >= 1 && num <= max {
			indexSet[num-1] = struct{}{}
		}
	}

	indices := make([]int, 0, len(indexSet))
	for idx := range indexSet {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices
}

const confirmYes = "yes"

// confirmRemoval prompts the user to confirm removal
func confirmRemoval(count int, force, dryRun bool, in io.Reader) bool {
	if dryRun {
		fmt.Println("\n[DRY RUN] The above entries would be removed. No changes will be made.")
		return true
	}
	if force {
		log.Info("Skipping confirmation due to --force flag.")
		return true
	}

	fmt.Printf("\nRemove %d entries? This cannot be undone. (y/N): ", count)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		log.WithError(err).Error("Error reading input")
		return false
	}
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "y" || input == confirmYes
}

// truncateString truncates a string to maxLen characters, adding "..." if truncated
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
