package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-ytdl-host/internal/downloader"
	"go-ytdl-host/internal/history"
	"go-ytdl-host/internal/host"
	"go-ytdl-host/internal/progress"
	"go-ytdl-host/internal/worker"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var hostShutdownTimeout time.Duration

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the native messaging host on stdin/stdout",
	Long: `Reads length-prefixed JSON requests from stdin and writes one response per
request to stdout. Downloads started by the "download" action keep running after
stdin closes; the process exits once they finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(hostCmd)
	hostCmd.Flags().DurationVar(&hostShutdownTimeout, "shutdown-timeout", 0, "Stop waiting for running downloads after this long once stdin closes (0 waits forever)")
}

func runHost(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := globalConfig
	log.Infof("[Host] Starting native messaging host v%s (pid %d)", host.Version, os.Getpid())

	store, err := progress.NewStore(cfg.ProgressDir, time.Duration(cfg.Download.ProgressIntervalMs)*time.Millisecond)
	if err != nil {
		return err
	}
	if n, err := store.Prune(7 * 24 * time.Hour); err == nil && n > 0 {
		log.Debugf("[Host] Pruned %d old progress snapshots", n)
	}

	engine := downloader.NewYTDLPEngine(cfg.Download, time.Duration(cfg.EngineInfoTimeoutSec)*time.Second)
	registry := worker.NewRegistry()

	// A terminating signal cancels running downloads so each one still
	// writes its final snapshot.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if sig, ok := <-sigCh; ok {
			log.Warnf("[Host] Received %s, cancelling downloads", sig)
			registry.CancelAll()
			_ = os.Stdin.Close()
		}
	}()

	h := host.New(host.Options{
		Engine:           engine,
		Store:            store,
		Registry:         registry,
		Selector:         host.ExecSelector{},
		Recorder:         history.NewSharedRecorder(cfg.DatabasePath, cfg.BleveIndexPath),
		DefaultPath:      cfg.SavePath,
		SettingsPath:     cfg.SettingsPath,
		SubfolderPattern: cfg.Download.SubfolderPattern,
		ShutdownTimeout:  hostShutdownTimeout,
	})

	err = h.Serve(ctx, os.Stdin, os.Stdout)
	log.Info("[Host] Exiting")
	return err
}
