package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-ytdl-host/internal/api"
	"go-ytdl-host/internal/helpers"
	"go-ytdl-host/internal/models"
	"go-ytdl-host/internal/paths"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	AppName                     = "ytdl-host"
	EnvPrefix                   = "YTDL_HOST"
	DefaultConfigFilePath       = "config.toml"
	DefaultEnvFilePath          = ".env"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogApiRequests       = false
	DefaultMetadataTimeoutSec   = 3
	DefaultEngineInfoTimeoutSec = 5
	DefaultMaxRetries           = 3
	DefaultInitialRetryDelayMs  = 500

	// File names inside StatePath
	DefaultDatabaseName   = "history.db"
	DefaultIndexName      = "history.bleve"
	DefaultProgressName   = "progress"
	DefaultSettingsName   = "settings.json"
	DefaultLogFileName    = "host.log"
	DefaultApiLogFileName = "api.log"

	// Download specific defaults
	DefaultConfigDownloadKind               = "video"
	DefaultConfigDownloadQuality            = "best"
	DefaultConfigDownloadAudioFormat        = "mp3_320"
	DefaultConfigDownloadSubfolderPattern   = ""
	DefaultConfigDownloadMergeFormat        = "mp4"
	DefaultConfigDownloadRetries            = 10
	DefaultConfigDownloadFragmentRetries    = 10
	DefaultConfigDownloadExtractorRetries   = 3
	DefaultConfigDownloadAdvanceDelayMs     = 500
	DefaultConfigDownloadProgressIntervalMs = 500
	DefaultConfigDownloadAutoStart          = true
	DefaultConfigDownloadHashFiles          = true
)

// setViperDefaults configures Viper with the application's default values.
// Path defaults are left empty and derived from StatePath after unmarshalling.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("savepath", DefaultSavePath())
	v.SetDefault("statepath", DefaultStatePath())
	v.SetDefault("databasepath", "")
	v.SetDefault("bleveindexpath", "")
	v.SetDefault("progressdir", "")
	v.SetDefault("settingspath", "")
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logfile", "")
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("metadatatimeoutsec", DefaultMetadataTimeoutSec)
	v.SetDefault("engineinfotimeoutsec", DefaultEngineInfoTimeoutSec)
	v.SetDefault("maxretries", DefaultMaxRetries)
	v.SetDefault("initialretrydelayms", DefaultInitialRetryDelayMs)

	// Download defaults
	v.SetDefault("download.kind", DefaultConfigDownloadKind)
	v.SetDefault("download.quality", DefaultConfigDownloadQuality)
	v.SetDefault("download.audioformat", DefaultConfigDownloadAudioFormat)
	v.SetDefault("download.subfolderpattern", DefaultConfigDownloadSubfolderPattern)
	v.SetDefault("download.mergeformat", DefaultConfigDownloadMergeFormat)
	v.SetDefault("download.retries", DefaultConfigDownloadRetries)
	v.SetDefault("download.fragmentretries", DefaultConfigDownloadFragmentRetries)
	v.SetDefault("download.extractorretries", DefaultConfigDownloadExtractorRetries)
	v.SetDefault("download.advancedelayms", DefaultConfigDownloadAdvanceDelayMs)
	v.SetDefault("download.progressintervalms", DefaultConfigDownloadProgressIntervalMs)
	v.SetDefault("download.autostart", DefaultConfigDownloadAutoStart)
	v.SetDefault("download.hashfiles", DefaultConfigDownloadHashFiles)
}

// DefaultSavePath is ~/Downloads, or "downloads" when the home directory is unknown.
func DefaultSavePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads")
}

// DefaultStatePath is the per-user directory holding history, progress and logs.
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "." + AppName
	}
	return filepath.Join(dir, AppName)
}

// CliFlags holds pointers to flag values; nil means the flag was not set.
type CliFlags struct {
	ConfigFilePath *string
	EnvFilePath    *string
	SavePath       *string
	StatePath      *string
	LogLevel       *string
	LogFormat      *string
	LogFile        *string
	LogApiRequests *bool
	MaxRetries     *int

	Download *CliDownloadFlags
}

type CliDownloadFlags struct {
	Kind             *string // --kind
	Quality          *string // -q
	SubfolderPattern *string // --subfolder
	MergeFormat      *string // --merge-format
	Retries          *int    // --retries
	AutoStart        *bool   // --auto-start
	HashFiles        *bool   // --hash
}

// Initialize loads configuration based on defaults, .env, config file,
// environment and flags.
// Precedence: Flags > Env > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	envFile := DefaultEnvFilePath
	if flags.EnvFilePath != nil {
		envFile = *flags.EnvFilePath
	}
	if err := loadEnvFile(envFile); err != nil {
		log.WithError(err).Warnf("[Config] Could not load env file %s", envFile)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)

	// Determine config file path
	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil && *flags.ConfigFilePath != "" {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("[Config] Using config file path from CLI flag: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			log.Debugf("[Config] Config file '%s' not found. Using defaults, environment and CLI flags.", actualConfigFilePath)
		} else {
			log.Warnf("[Config] Error reading config file '%s': %v. Using defaults, environment and CLI flags.", actualConfigFilePath, err)
		}
	} else {
		log.Debugf("[Config] Read config file: %s", v.ConfigFileUsed())
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	applyFlags(&cfg, flags)
	derivePaths(&cfg)

	if err := validate(&cfg); err != nil {
		return models.Config{}, nil, err
	}

	transport := buildTransport(cfg)
	log.Debugf("[Config] Configuration initialized: save=%s state=%s", cfg.SavePath, cfg.StatePath)
	return cfg, transport, nil
}

// loadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.SavePath != nil {
		cfg.SavePath = *flags.SavePath
	}
	if flags.StatePath != nil {
		cfg.StatePath = *flags.StatePath
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.LogFile != nil {
		cfg.LogFile = *flags.LogFile
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.MaxRetries != nil {
		cfg.MaxRetries = *flags.MaxRetries
	}

	if flags.Download == nil {
		return
	}
	d := flags.Download
	if d.Kind != nil {
		cfg.Download.Kind = *d.Kind
	}
	if d.Quality != nil {
		cfg.Download.Quality = *d.Quality
	}
	if d.SubfolderPattern != nil {
		cfg.Download.SubfolderPattern = *d.SubfolderPattern
	}
	if d.MergeFormat != nil {
		cfg.Download.MergeFormat = *d.MergeFormat
	}
	if d.Retries != nil {
		cfg.Download.Retries = *d.Retries
	}
	if d.AutoStart != nil {
		cfg.Download.AutoStart = *d.AutoStart
	}
	if d.HashFiles != nil {
		cfg.Download.HashFiles = *d.HashFiles
	}
}

// derivePaths fills empty state file paths from StatePath.
func derivePaths(cfg *models.Config) {
	cfg.SavePath = helpers.ExpandHome(cfg.SavePath)
	cfg.StatePath = helpers.ExpandHome(cfg.StatePath)

	derive := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(cfg.StatePath, name)
		} else {
			*p = helpers.ExpandHome(*p)
		}
	}
	derive(&cfg.DatabasePath, DefaultDatabaseName)
	derive(&cfg.BleveIndexPath, DefaultIndexName)
	derive(&cfg.ProgressDir, DefaultProgressName)
	derive(&cfg.SettingsPath, DefaultSettingsName)
	derive(&cfg.LogFile, DefaultLogFileName)
}

func validate(cfg *models.Config) error {
	if cfg.SavePath == "" {
		return fmt.Errorf("SavePath cannot be empty (set via --save-path flag or SavePath in config)")
	}
	if cfg.StatePath == "" {
		return fmt.Errorf("StatePath cannot be empty")
	}
	switch cfg.Download.Kind {
	case string(models.KindVideo), string(models.KindAudio):
	default:
		log.Warnf("[Config] Unknown Download.Kind %q, using %s", cfg.Download.Kind, DefaultConfigDownloadKind)
		cfg.Download.Kind = DefaultConfigDownloadKind
	}
	if cfg.Download.SubfolderPattern != "" {
		if _, err := paths.GeneratePath(cfg.Download.SubfolderPattern, paths.TagData("video", "best", "channel", time.Time{})); err != nil {
			return fmt.Errorf("invalid Download.SubfolderPattern: %w", err)
		}
	}
	if cfg.MetadataTimeoutSec <= 0 {
		cfg.MetadataTimeoutSec = DefaultMetadataTimeoutSec
	}
	if cfg.EngineInfoTimeoutSec <= 0 {
		cfg.EngineInfoTimeoutSec = DefaultEngineInfoTimeoutSec
	}
	return nil
}

// buildTransport returns the HTTP transport for outbound metadata requests,
// wrapped in a LoggingTransport when LogApiRequests is set.
func buildTransport(cfg models.Config) http.RoundTripper {
	baseTransport := http.DefaultTransport
	if !cfg.LogApiRequests {
		return baseTransport
	}

	logFilePath := filepath.Join(cfg.StatePath, DefaultApiLogFileName)
	if !helpers.CheckAndMakeDir(cfg.StatePath) {
		logFilePath = DefaultApiLogFileName
		log.Warnf("[Config] StatePath '%s' not usable, saving %s to current directory.", cfg.StatePath, logFilePath)
	}
	log.Infof("[Config] API logging to file: %s", logFilePath)

	loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
	if err != nil {
		log.WithError(err).Error("[Config] Failed to initialize API logging transport, logging disabled.")
		return baseTransport
	}
	return loggingTransport
}
