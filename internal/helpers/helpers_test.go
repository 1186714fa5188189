package helpers

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "watch with scheme", input: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", expected: true},
		{name: "watch without www", input: "https://youtube.com/watch?v=dQw4w9WgXcQ", expected: true},
		{name: "watch without scheme", input: "youtube.com/watch?v=dQw4w9WgXcQ", expected: true},
		{name: "playlist", input: "https://www.youtube.com/playlist?list=PL1234567890", expected: true},
		{name: "short link", input: "https://youtu.be/abc12345678", expected: true},
		{name: "shorts", input: "https://www.youtube.com/shorts/abc12345678", expected: true},
		{name: "http scheme", input: "http://youtu.be/abc12345678", expected: true},
		{name: "other host", input: "https://vimeo.com/12345", expected: false},
		{name: "channel page", input: "https://www.youtube.com/@someone", expected: false},
		{name: "empty", input: "", expected: false},
		{name: "lookalike host", input: "https://evil.com/youtube.com/watch?v=abc", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidURL(tt.input)
			if got != tt.expected {
				t.Errorf("IsValidURL(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsPlaylistURL(t *testing.T) {
	assert.True(t, IsPlaylistURL("https://www.youtube.com/playlist?list=PL1234567890"))
	assert.True(t, IsPlaylistURL(" youtube.com/playlist?list=PL1234567890"))
	assert.False(t, IsPlaylistURL("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1234567890"), "a watch link inside a playlist is one video")
	assert.False(t, IsPlaylistURL("https://youtu.be/abc12345678"))
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://www.youtube.com/watch?v=abc12345678", NormalizeURL("  https://www.youtube.com/shorts/abc12345678 "))
	assert.Equal(t, "https://youtu.be/abc12345678", NormalizeURL("https://youtu.be/abc12345678"))
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?feature=share&v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/abc12345678", "abc12345678"},
		{"https://www.youtube.com/embed/abc-_123456", "abc-_123456"},
		{"https://www.youtube.com/shorts/abc12345678", "abc12345678"},
		{"https://www.youtube.com/playlist?list=PL1234567890", ""},
		{"https://youtu.be/short", ""},
	}
	for _, tt := range tests {
		if got := ExtractVideoID(tt.input); got != tt.expected {
			t.Errorf("ExtractVideoID(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds  int
		expected string
	}{
		{0, "00:00"},
		{-5, "00:00"},
		{5, "00:05"},
		{125, "02:05"},
		{599, "09:59"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{36000, "10:00:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.expected {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.expected)
		}
	}
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "", FormatETA(0))
	assert.Equal(t, "01:30", FormatETA(90*time.Second))
	assert.Equal(t, "00:02", FormatETA(1600*time.Millisecond))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "", FormatSpeed(0))
	assert.Equal(t, "1.5MB/s", FormatSpeed(1.5*1024*1024))
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		bytes    uint64
	}{
		{name: "zero bytes", bytes: 0, expected: "0 B"},
		{name: "one byte", bytes: 1, expected: "1.0 B"},
		{name: "kilobytes", bytes: 1024, expected: "1.0 KB"},
		{name: "fractional megabytes", bytes: 1536 * 1024, expected: "1.5 MB"},
		{name: "gigabytes", bytes: 1024 * 1024 * 1024, expected: "1.0 GB"},
		{name: "terabytes cap", bytes: 2048 * 1024 * 1024 * 1024 * 1024, expected: "2048.0 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesToSize(tt.bytes)
			if got != tt.expected {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
			}
		})
	}
}

func TestConvertToSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple string", input: "Hello World", expected: "hello_world"},
		{name: "with colons", input: "Live: Part 2", expected: "live-part_2"},
		{name: "special characters removed", input: "Mix@Tape#2024", expected: "mixtape2024"},
		{name: "leading/trailing separators removed", input: "__audio__", expected: "audio"},
		{name: "empty string", input: "", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConvertToSlug(tt.input)
			if got != tt.expected {
				t.Errorf("ConvertToSlug(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple path", input: "folder/file.txt", expected: filepath.FromSlash("folder/file.txt")},
		{name: "path traversal attempt", input: "../../etc/passwd", expected: filepath.FromSlash("etc/passwd")},
		{name: "absolute path", input: "/absolute/path", expected: filepath.FromSlash("absolute/path")},
		{name: "complex traversal", input: "a/b/../c/../d", expected: filepath.FromSlash("a/d")},
		{name: "empty", input: "", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePath(tt.input)
			if got != tt.expected {
				t.Errorf("SanitizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	assert.Equal(t, filepath.Join(home, "Videos"), ExpandHome("~/Videos"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}

func TestCheckAndMakeDir(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "a", "b", "c")

	assert.True(t, CheckAndMakeDir(nested))
	info, err := os.Stat(nested)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Existing directory is fine
	assert.True(t, CheckAndMakeDir(nested))
	assert.False(t, CheckAndMakeDir(""))
}

func TestHashFileAndCheckHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0600))

	hash, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, hash, 64, "BLAKE3-256 hex digest should be 64 characters")

	assert.NoError(t, CheckHash(path, hash))

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0600))
	err = CheckHash(path, hash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHashMismatch))
}

func TestHashFile_Missing(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestStringSliceContains(t *testing.T) {
	assert.True(t, StringSliceContains([]string{"Text", "JSON"}, "json"))
	assert.False(t, StringSliceContains([]string{"text"}, "yaml"))
	assert.False(t, StringSliceContains(nil, "text"))
}
