package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestGeneratePath_BasicSubstitution(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		data     map[string]string
		expected string
		wantErr  bool
	}{
		{
			name:     "single placeholder",
			pattern:  "{channel}",
			data:     map[string]string{"channel": "Some Channel"},
			expected: "some_channel",
		},
		{
			name:     "multiple placeholders",
			pattern:  "{kind}/{quality}",
			data:     map[string]string{"kind": "audio", "quality": "mp3_320"},
			expected: filepath.FromSlash("audio/mp3_320"),
		},
		{
			name:     "static prefix",
			pattern:  "music/{channel}",
			data:     map[string]string{"channel": "Artist"},
			expected: filepath.FromSlash("music/artist"),
		},
		{
			name:    "unknown tag",
			pattern: "{modelName}",
			data:    map[string]string{"modelName": "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GeneratePath(tt.pattern, tt.data)
			if (err != nil) != tt.wantErr {
				t.Errorf("GeneratePath() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("GeneratePath() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGeneratePath_EmptyValues(t *testing.T) {
	got, err := GeneratePath("{channel}", map[string]string{})
	if err != nil {
		t.Fatalf("GeneratePath() unexpected error: %v", err)
	}
	if got != "unknown_channel" {
		t.Errorf("GeneratePath() = %q, want %q", got, "unknown_channel")
	}
}

func TestGeneratePath_PathTraversal(t *testing.T) {
	got, err := GeneratePath("{channel}", map[string]string{"channel": "../../../etc/passwd"})
	if err != nil {
		// Rejecting is acceptable
		return
	}
	if strings.Contains(got, "..") {
		t.Errorf("GeneratePath() result contains path traversal: %v", got)
	}
}

func TestOutputTemplate(t *testing.T) {
	base := filepath.Join("home", "user", "Videos")

	got, err := OutputTemplate(base, "", nil)
	if err != nil {
		t.Fatalf("OutputTemplate() unexpected error: %v", err)
	}
	if want := filepath.Join(base, "%(title)s.%(ext)s"); got != want {
		t.Errorf("OutputTemplate() = %q, want %q", got, want)
	}

	got, err = OutputTemplate(base, "{kind}", map[string]string{"kind": "audio"})
	if err != nil {
		t.Fatalf("OutputTemplate() unexpected error: %v", err)
	}
	if want := filepath.Join(base, "audio", "%(title)s.%(ext)s"); got != want {
		t.Errorf("OutputTemplate() = %q, want %q", got, want)
	}

	if _, err := OutputTemplate("", "", nil); err == nil {
		t.Error("OutputTemplate() expected error for empty base directory")
	}
}
