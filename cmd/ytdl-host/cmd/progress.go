package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/progress"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var progressPruneAge time.Duration

var progressCmd = &cobra.Command{
	Use:   "progress [JOB_ID]",
	Short: "Show the progress snapshot of a detached download",
	Long: `Prints the snapshot a host download wrote for JOB_ID, or the most recent
snapshot of any download when no id is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProgress,
}

var progressPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots of finished downloads",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openProgressStore()
		if err != nil {
			return err
		}
		n, err := store.Prune(progressPruneAge)
		if err != nil {
			return err
		}
		log.Infof("Removed %d snapshot(s)", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(progressCmd)
	progressCmd.AddCommand(progressPruneCmd)
	progressPruneCmd.Flags().DurationVar(&progressPruneAge, "older-than", 24*time.Hour, "Only remove snapshots last updated before this age")
}

func openProgressStore() (*progress.Store, error) {
	return progress.NewStore(globalConfig.ProgressDir, 0)
}

func runProgress(cmd *cobra.Command, args []string) error {
	store, err := openProgressStore()
	if err != nil {
		return err
	}

	var snap models.ProgressSnapshot
	if len(args) == 1 {
		snap, err = store.Read(args[0])
	} else {
		snap, err = store.Latest()
	}
	if errors.Is(err, progress.ErrNoSnapshot) {
		fmt.Println(`{"status": "waiting"}`)
		return nil
	}
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
