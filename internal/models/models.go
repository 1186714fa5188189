package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Seconds is a duration in whole seconds that can unmarshal from a JSON
// number (integer or float), a numeric string, or null. Engine metadata
// reports durations in any of these shapes depending on the extractor.
type Seconds int

// UnmarshalJSON implements json.Unmarshaler for Seconds
func (s *Seconds) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*s = 0
		return nil
	}

	// Try a plain number first (covers both 125 and 125.7)
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*s = Seconds(int(f))
		return nil
	}

	// Fall back to a quoted number
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = 0
		return nil
	}
	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return err
	}
	*s = Seconds(int(f))
	return nil
}

type (
	// Config holds the application's configuration settings.
	Config struct {
		SavePath             string         `toml:"SavePath" json:"SavePath"`
		StatePath            string         `toml:"StatePath" json:"StatePath"`
		DatabasePath         string         `toml:"DatabasePath" json:"DatabasePath"`
		BleveIndexPath       string         `toml:"BleveIndexPath" json:"BleveIndexPath"`
		ProgressDir          string         `toml:"ProgressDir" json:"ProgressDir"`
		SettingsPath         string         `toml:"SettingsPath" json:"SettingsPath"`
		LogLevel             string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat            string         `toml:"LogFormat" json:"LogFormat"`
		LogFile              string         `toml:"LogFile" json:"LogFile"`
		Download             DownloadConfig `toml:"Download" json:"Download"`
		MetadataTimeoutSec   int            `toml:"MetadataTimeoutSec" json:"MetadataTimeoutSec"`
		EngineInfoTimeoutSec int            `toml:"EngineInfoTimeoutSec" json:"EngineInfoTimeoutSec"`
		MaxRetries           int            `toml:"MaxRetries" json:"MaxRetries"`
		InitialRetryDelayMs  int            `toml:"InitialRetryDelayMs" json:"InitialRetryDelayMs"`
		LogApiRequests       bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// DownloadConfig holds settings for how jobs are handed to the engine.
	DownloadConfig struct {
		Kind             string `toml:"Kind" json:"Kind"`
		Quality          string `toml:"Quality" json:"Quality"`
		AudioFormat      string `toml:"AudioFormat" json:"AudioFormat"`
		SubfolderPattern string `toml:"SubfolderPattern" json:"SubfolderPattern"`
		MergeFormat      string `toml:"MergeFormat" json:"MergeFormat"`
		// Engine retry budget
		Retries          int `toml:"Retries" json:"Retries"`
		FragmentRetries  int `toml:"FragmentRetries" json:"FragmentRetries"`
		ExtractorRetries int `toml:"ExtractorRetries" json:"ExtractorRetries"`
		// Queue behaviour
		AdvanceDelayMs     int  `toml:"AdvanceDelayMs" json:"AdvanceDelayMs"`
		ProgressIntervalMs int  `toml:"ProgressIntervalMs" json:"ProgressIntervalMs"`
		AutoStart          bool `toml:"AutoStart" json:"AutoStart"`
		HashFiles          bool `toml:"HashFiles" json:"HashFiles"`
	}

	// Settings is the small user-editable state persisted between runs.
	Settings struct {
		OutputPath     string  `json:"output_path"`
		LastPromoClick float64 `json:"last_promo_click"`
	}

	// Metadata is the best-effort description of a source resource.
	Metadata struct {
		Title     string  `json:"title"`
		Duration  Seconds `json:"duration"`
		Channel   string  `json:"channel"`
		Thumbnail string  `json:"thumbnail"`
	}

	// StreamInfo is a resolved, short-lived direct media URL.
	StreamInfo struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		Ext   string `json:"ext"`
	}

	// ProgressInfo is handed to in-process progress listeners.
	ProgressInfo struct {
		Status     string `json:"status"` // downloading | finished
		Percent    int    `json:"percent"`
		Speed      string `json:"speed"`
		ETA        string `json:"eta"`
		Filename   string `json:"filename"`
		Downloaded int64  `json:"downloaded"`
		Total      int64  `json:"total"`
	}
)
