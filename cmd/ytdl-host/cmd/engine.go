package cmd

import (
	"context"
	"fmt"
	"time"

	"go-ytdl-host/internal/downloader"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var engineInstallTimeout time.Duration

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Manage the download engine (yt-dlp)",
}

var engineInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Locate yt-dlp, downloading it into the cache when missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), engineInstallTimeout)
		defer cancel()

		log.Info("Resolving yt-dlp...")
		exe, version, err := downloader.InstallEngine(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("yt-dlp %s: %s\n", version, exe)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(engineCmd)
	engineCmd.AddCommand(engineInstallCmd)
	engineInstallCmd.Flags().DurationVar(&engineInstallTimeout, "timeout", 5*time.Minute, "Give up after this long")
}
