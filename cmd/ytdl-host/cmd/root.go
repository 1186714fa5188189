package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-ytdl-host/internal/config"
	"go-ytdl-host/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Persistent flag values. Only flags the user actually set are passed on
// to config.Initialize.
var (
	cfgFile        string
	envFile        string
	logLevel       string
	logFormat      string
	logFile        string
	logApiFlag     bool
	savePathFlag   string
	statePathFlag  string
	maxRetriesFlag int
)

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// logOutput is the open log file while running as a messaging host.
var logOutput io.Closer

// rootCmd represents the base command when called without any subcommands.
// Browsers start native messaging hosts with the caller's origin as the
// first argument, in which case the host loop runs directly.
var rootCmd = &cobra.Command{
	Use:   "ytdl-host",
	Short: "Background media downloader and native messaging host",
	Long: `ytdl-host downloads media in the background, either as a native messaging
host driven by a browser extension over stdin/stdout, or from the command line
with a live progress queue.`,
	Args:         cobra.ArbitraryArgs,
	SilenceUsage: true,
	// Chrome on Windows appends --parent-window=<handle>.
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		if isBrowserLaunch(args) {
			return runHost(cmd.Context())
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if logOutput != nil {
		_ = logOutput.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Assigned here rather than in the literal: loadGlobalConfig refers to
	// rootCmd, which would otherwise be an initialization cycle.
	rootCmd.PersistentPreRunE = loadGlobalConfig

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	pf.StringVar(&envFile, "env-file", "", "Environment file loaded before reading config (default is ./.env)")
	pf.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Logging level (trace, debug, info, warn, error, fatal, panic)")
	pf.StringVar(&logFormat, "log-format", config.DefaultLogFormat, "Logging format (text, json)")
	pf.StringVar(&logFile, "log-file", "", "Log file used in host mode (default is <state-path>/host.log)")
	pf.BoolVar(&logApiFlag, "log-api", false, "Log metadata HTTP requests/responses to api.log (overrides config)")
	pf.StringVar(&savePathFlag, "save-path", "", "Default download directory (overrides config)")
	pf.StringVar(&statePathFlag, "state-path", "", "Directory for history, progress and logs (overrides config)")
	pf.IntVar(&maxRetriesFlag, "max-retries", config.DefaultMaxRetries, "Retries for metadata requests (overrides config)")
}

// isBrowserLaunch reports whether args look like a native messaging launch:
// Chrome passes the caller origin, Firefox the manifest path and extension id.
func isBrowserLaunch(args []string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, "chrome-extension://") || strings.HasPrefix(a, "moz-extension://") {
			return true
		}
	}
	return len(args) == 2 && strings.EqualFold(filepath.Ext(args[0]), ".json")
}

// cliFlags collects the persistent flags the user set explicitly.
func cliFlags(cmd *cobra.Command) config.CliFlags {
	var flags config.CliFlags
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("config") {
		flags.ConfigFilePath = &cfgFile
	}
	if changed("env-file") {
		flags.EnvFilePath = &envFile
	}
	if changed("log-level") {
		flags.LogLevel = &logLevel
	}
	if changed("log-format") {
		flags.LogFormat = &logFormat
	}
	if changed("log-file") {
		flags.LogFile = &logFile
	}
	if changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if changed("save-path") {
		flags.SavePath = &savePathFlag
	}
	if changed("state-path") {
		flags.StatePath = &statePathFlag
	}
	if changed("max-retries") {
		flags.MaxRetries = &maxRetriesFlag
	}
	flags.Download = downloadFlags(cmd)
	return flags
}

// loadGlobalConfig loads the configuration and sets up logging. When the
// process is a messaging host, stdout carries frames, so logs go to a file.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	log.SetOutput(os.Stderr)

	cfg, transport, err := config.Initialize(cliFlags(cmd))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	globalConfig = cfg
	globalHttpTransport = transport

	hosting := cmd.Name() == hostCmd.Name() || (cmd == rootCmd && isBrowserLaunch(args))
	return setupLogging(cfg, hosting)
}

func setupLogging(cfg models.Config, toFile bool) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Invalid log level %q, using info", cfg.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: toFile})
	}

	if !toFile {
		log.SetOutput(os.Stderr)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0750); err != nil {
		// stderr is still safe, only stdout belongs to the protocol
		log.WithError(err).Warn("Could not create log directory, logging to stderr")
		return nil
	}
	// #nosec G304
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		log.WithError(err).Warnf("Could not open log file %s, logging to stderr", cfg.LogFile)
		return nil
	}
	log.SetOutput(f)
	logOutput = f
	return nil
}
