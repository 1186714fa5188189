package downloader

import (
	"fmt"
	"strings"

	"go-ytdl-host/internal/models"
)

const (
	DefaultVideoQuality = "best"
	DefaultAudioQuality = "mp3_320"
)

// Selection is the engine format expression for one kind/quality pair.
type Selection struct {
	Key          string
	Format       string
	ExtractAudio bool
	AudioCodec   string
	AudioQuality string
	Merge        bool
}

var videoHeights = []string{"2160", "1440", "1080", "720", "480", "360"}

var audioPresets = map[string]Selection{
	"mp3_320": {Key: "mp3_320", Format: "bestaudio/best", ExtractAudio: true, AudioCodec: "mp3", AudioQuality: "320"},
	"mp3_256": {Key: "mp3_256", Format: "bestaudio/best", ExtractAudio: true, AudioCodec: "mp3", AudioQuality: "256"},
	"mp3_192": {Key: "mp3_192", Format: "bestaudio/best", ExtractAudio: true, AudioCodec: "mp3", AudioQuality: "192"},
	"mp3_128": {Key: "mp3_128", Format: "bestaudio/best", ExtractAudio: true, AudioCodec: "mp3", AudioQuality: "128"},
	"m4a":     {Key: "m4a", Format: "bestaudio[ext=m4a]/bestaudio/best"},
	"wav":     {Key: "wav", Format: "bestaudio/best", ExtractAudio: true, AudioCodec: "wav"},
}

// VideoQualities lists the accepted video preset keys, best first.
func VideoQualities() []string {
	return append([]string{DefaultVideoQuality}, videoHeights...)
}

// AudioQualities lists the accepted audio preset keys.
func AudioQualities() []string {
	return []string{"mp3_320", "mp3_256", "mp3_192", "mp3_128", "m4a", "wav"}
}

// NormalizeQuality maps the loose quality values clients send ("720p",
// "4k", "320", "mp3") onto a preset key for kind. Unknown values fall back
// to the kind's default preset.
func NormalizeQuality(kind models.Kind, quality string) string {
	q := strings.ToLower(strings.TrimSpace(quality))

	if kind == models.KindAudio {
		if _, ok := audioPresets[q]; ok {
			return q
		}
		switch q {
		case "320", "256", "192", "128":
			return "mp3_" + q
		case "mp3":
			return DefaultAudioQuality
		}
		return DefaultAudioQuality
	}

	q = strings.TrimSuffix(q, "p")
	if q == "4k" {
		q = "2160"
	}
	for _, h := range videoHeights {
		if q == h {
			return h
		}
	}
	return DefaultVideoQuality
}

// SelectFormat returns the engine format selection for kind and quality.
func SelectFormat(kind models.Kind, quality string) Selection {
	key := NormalizeQuality(kind, quality)

	if kind == models.KindAudio {
		return audioPresets[key]
	}
	if key == DefaultVideoQuality {
		return Selection{Key: key, Format: "bestvideo+bestaudio/best", Merge: true}
	}
	return Selection{
		Key:    key,
		Format: fmt.Sprintf("bestvideo[height<=%[1]s]+bestaudio/best[height<=%[1]s]/best", key),
		Merge:  true,
	}
}

// Percent converts a byte count into a whole percentage, 0 when total is unknown.
func Percent(downloaded, total int64) int {
	if total <= 0 || downloaded <= 0 {
		return 0
	}
	p := int(float64(downloaded) / float64(total) * 100)
	if p > 100 {
		p = 100
	}
	return p
}
