package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusConstants(t *testing.T) {
	// The status strings end up in the history database, keep them stable
	if JobQueued != "queued" {
		t.Errorf("JobQueued = %q, want %q", JobQueued, "queued")
	}
	if JobCompleted != "completed" {
		t.Errorf("JobCompleted = %q, want %q", JobCompleted, "completed")
	}
	if JobCancelled != "cancelled" {
		t.Errorf("JobCancelled = %q, want %q", JobCancelled, "cancelled")
	}
}

func TestSeconds_UnmarshalNumber(t *testing.T) {
	var s Seconds
	if err := json.Unmarshal([]byte(`125`), &s); err != nil {
		t.Fatalf("Unmarshal int failed: %v", err)
	}
	if s != 125 {
		t.Errorf("Expected 125, got %d", s)
	}
}

func TestSeconds_UnmarshalFloat(t *testing.T) {
	var s Seconds
	if err := json.Unmarshal([]byte(`212.9`), &s); err != nil {
		t.Fatalf("Unmarshal float failed: %v", err)
	}
	if s != 212 {
		t.Errorf("Expected 212, got %d", s)
	}
}

func TestSeconds_UnmarshalString(t *testing.T) {
	var s Seconds
	if err := json.Unmarshal([]byte(`"60"`), &s); err != nil {
		t.Fatalf("Unmarshal string failed: %v", err)
	}
	if s != 60 {
		t.Errorf("Expected 60, got %d", s)
	}
}

func TestSeconds_UnmarshalNull(t *testing.T) {
	s := Seconds(10)
	if err := json.Unmarshal([]byte(`null`), &s); err != nil {
		t.Fatalf("Unmarshal null failed: %v", err)
	}
	if s != 0 {
		t.Errorf("Expected 0, got %d", s)
	}
}

func TestSeconds_UnmarshalGarbage(t *testing.T) {
	var s Seconds
	err := json.Unmarshal([]byte(`"soon"`), &s)
	if err == nil {
		t.Error("Expected error for non-numeric string")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"video", KindVideo},
		{"audio", KindAudio},
		{"mp3", KindAudio},
		{"m4a", KindAudio},
		{"", KindVideo},
		{"whatever", KindVideo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseKind(tt.in), "ParseKind(%q)", tt.in)
	}
}

func TestJobStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobQueued, JobFetchingInfo, true},
		{JobQueued, JobDownloading, true},
		{JobFetchingInfo, JobReady, true},
		{JobReady, JobDownloading, true},
		{JobDownloading, JobPostprocessing, true},
		{JobDownloading, JobCompleted, true},
		{JobPostprocessing, JobCompleted, true},
		{JobPostprocessing, JobFailed, true},
		{JobReady, JobCancelled, true},
		{JobDownloading, JobReady, false},
		{JobPostprocessing, JobDownloading, false},
		{JobCompleted, JobDownloading, false},
		{JobCompleted, JobCancelled, false},
		{JobFailed, JobQueued, false},
		{JobCancelled, JobCancelled, false},
		{JobFetchingInfo, JobDownloading, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobStatus_Predicates(t *testing.T) {
	assert.True(t, JobCompleted.IsTerminal())
	assert.True(t, JobFailed.IsTerminal())
	assert.True(t, JobCancelled.IsTerminal())
	assert.False(t, JobDownloading.IsTerminal())

	assert.True(t, JobDownloading.IsActive())
	assert.True(t, JobPostprocessing.IsActive())
	assert.False(t, JobReady.IsActive())

	assert.True(t, JobQueued.IsPending())
	assert.True(t, JobReady.IsPending())
	assert.False(t, JobFetchingInfo.IsPending())
}

func TestNewJob(t *testing.T) {
	j := NewJob("https://www.youtube.com/watch?v=abc12345678", KindAudio, "mp3_320", "/tmp/out")

	assert.True(t, strings.HasPrefix(j.ID, "job_"), "job id should carry the job_ prefix")
	assert.Equal(t, JobQueued, j.Status)
	assert.Equal(t, KindAudio, j.Kind)
	assert.Equal(t, 0, j.Percent)
	assert.False(t, j.CreatedAt.IsZero())

	other := NewJob(j.URL, KindAudio, "mp3_320", "/tmp/out")
	assert.NotEqual(t, j.ID, other.ID, "job ids must be unique")
}

func TestJob_TransitionRejectsInvalidEdge(t *testing.T) {
	j := NewJob("u", KindVideo, "best", "")
	err := j.Transition(JobCompleted)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, JobQueued, j.Status, "status must not change on rejected transition")
}

func TestJob_CompletedPinsPercent(t *testing.T) {
	j := NewJob("u", KindVideo, "best", "")
	require.NoError(t, j.Transition(JobDownloading))
	j.SetPercent(42)
	j.Speed = "1.0MB/s"
	require.NoError(t, j.Transition(JobCompleted))

	assert.Equal(t, 100, j.Percent)
	assert.Empty(t, j.Speed)
	assert.False(t, j.FinishedAt.IsZero())
}

func TestJob_FailedHoldsPercent(t *testing.T) {
	j := NewJob("u", KindVideo, "best", "")
	require.NoError(t, j.Transition(JobDownloading))
	j.SetPercent(37)
	require.NoError(t, j.Transition(JobFailed))
	assert.Equal(t, 37, j.Percent)
}

func TestJob_SetPercentMonotonic(t *testing.T) {
	j := NewJob("u", KindVideo, "best", "")
	j.SetPercent(30)
	j.SetPercent(10)
	assert.Equal(t, 30, j.Percent)
	j.SetPercent(250)
	assert.Equal(t, 100, j.Percent)
}

func TestJob_ResetForRetry(t *testing.T) {
	j := NewJob("u", KindVideo, "best", "")
	require.NoError(t, j.Transition(JobDownloading))
	j.SetPercent(80)
	j.Error = "boom"
	require.NoError(t, j.Transition(JobFailed))

	require.NoError(t, j.ResetForRetry())
	assert.Equal(t, JobQueued, j.Status)
	assert.Equal(t, 0, j.Percent)
	assert.Empty(t, j.Error)
	assert.True(t, j.FinishedAt.IsZero())
}

func TestJob_ResetForRetryRejectsActive(t *testing.T) {
	j := NewJob("u", KindVideo, "best", "")
	require.NoError(t, j.Transition(JobDownloading))
	err := j.ResetForRetry()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestProgressSnapshot_JSON(t *testing.T) {
	snap := ProgressSnapshot{Status: SnapshotDownloading, Percent: 25, Title: "Test", Path: "/videos"}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	// The polling client reads these five keys, the error key must be present even when empty
	for _, key := range []string{"status", "percent", "title", "error", "path"} {
		_, ok := raw[key]
		assert.True(t, ok, "snapshot JSON should contain %q", key)
	}
	assert.Equal(t, "downloading", raw["status"])
	assert.EqualValues(t, 25, raw["percent"])
}

func TestSnapshotStatus_IsTerminal(t *testing.T) {
	assert.True(t, SnapshotComplete.IsTerminal())
	assert.True(t, SnapshotError.IsTerminal())
	assert.False(t, SnapshotMerging.IsTerminal())
	assert.False(t, SnapshotStarting.IsTerminal())
}

func TestSettings_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Settings{OutputPath: "/home/u/Videos", LastPromoClick: 12.5})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"output_path":"/home/u/Videos"`)
}

func TestMetadata_DurationFromFloat(t *testing.T) {
	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(`{"title":"Clip","duration":125.4,"channel":"Chan"}`), &m))
	assert.Equal(t, "Clip", m.Title)
	assert.Equal(t, Seconds(125), m.Duration)
}
