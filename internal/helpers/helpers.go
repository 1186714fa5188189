package helpers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// ErrHashMismatch is returned by CheckHash when the file content does not
// match the recorded hash.
var ErrHashMismatch = errors.New("file hash mismatch")

// Accepted source URL forms. Scheme and www. are optional.
var validURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/playlist\?list=[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtu\.be/[\w-]+`),
	regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/shorts/[\w-]+`),
}

var playlistURLPattern = regexp.MustCompile(`^(https?://)?(www\.)?youtube\.com/playlist\?`)

var videoIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/v/|youtu\.be/|/embed/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`shorts/([a-zA-Z0-9_-]{11})`),
}

// IsValidURL reports whether rawURL is one of the supported source URL forms.
func IsValidURL(rawURL string) bool {
	for _, re := range validURLPatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// IsPlaylistURL reports whether rawURL names a whole playlist rather than
// one video. Watch links that carry a list parameter are videos.
func IsPlaylistURL(rawURL string) bool {
	return playlistURLPattern.MatchString(strings.TrimSpace(rawURL))
}

// NormalizeURL trims whitespace and rewrites shorts links to the regular
// watch form so duplicate detection sees one URL per resource.
func NormalizeURL(rawURL string) string {
	u := strings.TrimSpace(rawURL)
	if strings.Contains(u, "/shorts/") {
		u = strings.Replace(u, "/shorts/", "/watch?v=", 1)
	}
	return u
}

// ExtractVideoID returns the 11 character video id embedded in rawURL, or ""
func ExtractVideoID(rawURL string) string {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(rawURL); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// FormatDuration renders seconds as MM:SS, or H:MM:SS once hours are involved.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "00:00"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

// FormatETA renders a remaining duration the same way as FormatDuration.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return FormatDuration(int(d.Round(time.Second).Seconds()))
}

// FormatSpeed renders a transfer rate in MB/s.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1fMB/s", bytesPerSecond/1024/1024)
}

// BytesToSize converts a byte count into a human readable size.
func BytesToSize(bytes uint64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// ConvertToSlug lowercases a string and strips it down to a filesystem-safe form.
func ConvertToSlug(str string) string {
	str = strings.ToLower(str)
	str = strings.ReplaceAll(str, ":", "-")
	str = regexp.MustCompile(`\s+`).ReplaceAllString(str, "_")
	str = regexp.MustCompile(`[^a-z0-9_.\-]+`).ReplaceAllString(str, "")
	str = regexp.MustCompile(`_-|-_`).ReplaceAllString(str, "-")
	str = regexp.MustCompile(`_+`).ReplaceAllString(str, "_")
	return strings.Trim(str, "_-")
}

// SanitizePath cleans a relative path and drops any leading separators or
// parent references so the result can never escape its base directory.
func SanitizePath(path string) string {
	cleaned := filepath.Clean("/" + filepath.ToSlash(path))
	cleaned = strings.TrimLeft(cleaned, "/")
	return filepath.FromSlash(cleaned)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			log.WithError(err).Warn("[Helpers] Could not resolve home directory")
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// CheckAndMakeDir makes sure dir exists, creating it (and parents) if needed.
func CheckAndMakeDir(dir string) bool {
	if dir == "" {
		return false
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		log.WithError(err).Errorf("[Helpers] Failed to create directory %s", dir)
		return false
	}
	return true
}

// HashFile returns the hex encoded BLAKE3 hash of the file at path.
func HashFile(path string) (string, error) {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// CheckHash compares the BLAKE3 hash of path against expected.
func CheckHash(path, expected string) error {
	actual, err := HashFile(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrHashMismatch, path, expected, actual)
	}
	return nil
}

// StringSliceContains checks case-insensitively whether item is in slice.
func StringSliceContains(slice []string, item string) bool {
	for _, s := range slice {
		if strings.EqualFold(s, item) {
			return true
		}
	}
	return false
}
