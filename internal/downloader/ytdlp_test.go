package downloader

import (
	"errors"
	"testing"
	"time"

	"go-ytdl-host/internal/models"

	"github.com/lrstanley/go-ytdlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNewYTDLPEngine_Defaults(t *testing.T) {
	e := NewYTDLPEngine(models.DownloadConfig{}, 0)
	assert.Equal(t, DefaultRetries, e.Retries)
	assert.Equal(t, DefaultFragmentRetries, e.FragmentRetries)
	assert.Equal(t, DefaultExtractorRetries, e.ExtractorRetries)
	assert.Equal(t, DefaultMergeFormat, e.MergeFormat)
	assert.Equal(t, DefaultProgressInterval, e.ProgressInterval)
	assert.Equal(t, DefaultInfoTimeout, e.InfoTimeout)

	e = NewYTDLPEngine(models.DownloadConfig{Retries: 2, MergeFormat: "mkv", ProgressIntervalMs: 250}, 2*time.Second)
	assert.Equal(t, 2, e.Retries)
	assert.Equal(t, "mkv", e.MergeFormat)
	assert.Equal(t, 250*time.Millisecond, e.ProgressInterval)
	assert.Equal(t, 2*time.Second, e.InfoTimeout)
}

func TestTranslateUpdate_Downloading(t *testing.T) {
	u := ytdlp.ProgressUpdate{
		Status:          ytdlp.ProgressStatusDownloading,
		DownloadedBytes: 50,
		TotalBytes:      200,
		Started:         time.Now().Add(-time.Second),
		Info: &ytdlp.ExtractedInfo{
			Title:    strPtr("Test"),
			Filename: strPtr("/videos/Test.f137.mp4"),
		},
	}

	ev, ok := translateUpdate(u)
	require.True(t, ok)
	assert.Equal(t, models.EventDownloading, ev.Kind)
	assert.Equal(t, 25, ev.Percent)
	assert.Equal(t, int64(50), ev.Downloaded)
	assert.Equal(t, int64(200), ev.Total)
	assert.Equal(t, "Test", ev.Title)
	assert.Equal(t, "Test.f137.mp4", ev.Filename)
	assert.Greater(t, ev.Speed, 0.0)
}

func TestTranslateUpdate_FinishedMeansPostprocessing(t *testing.T) {
	for _, status := range []ytdlp.ProgressStatus{ytdlp.ProgressStatusFinished, ytdlp.ProgressStatusPostProcessing} {
		ev, ok := translateUpdate(ytdlp.ProgressUpdate{Status: status, DownloadedBytes: 200, TotalBytes: 200})
		require.True(t, ok)
		assert.Equal(t, models.EventPostprocessing, ev.Kind)
		assert.Equal(t, 99, ev.Percent)
	}
}

func TestTranslateUpdate_IgnoresOtherStatuses(t *testing.T) {
	_, ok := translateUpdate(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusError})
	assert.False(t, ok)
}

func TestFinalPath(t *testing.T) {
	assert.Equal(t, "/v/Song.mp3", finalPath("/v/Song.webm", SelectFormat(models.KindAudio, "mp3_320"), "mp4"))
	assert.Equal(t, "/v/Clip.mp4", finalPath("/v/Clip.webm", SelectFormat(models.KindVideo, "best"), "mp4"))
	assert.Equal(t, "/v/Song.m4a", finalPath("/v/Song.m4a", SelectFormat(models.KindAudio, "m4a"), "mp4"))
}

func TestEngineFailure_PrefersErrorLine(t *testing.T) {
	exitErr := errors.New("exit status 1")

	res := &ytdlp.Result{Stderr: "[youtube] abc: Downloading webpage\nERROR: [youtube] abc: Video unavailable\n"}
	assert.Equal(t, "ERROR: [youtube] abc: Video unavailable", engineFailure(res, exitErr).Error())

	assert.Equal(t, exitErr, engineFailure(&ytdlp.Result{Stderr: "nothing useful"}, exitErr))
	assert.Equal(t, exitErr, engineFailure(nil, exitErr))
}

func TestParseInfoJSON(t *testing.T) {
	stdout := "WARNING: something\n" +
		`{"title":"Test","duration":125.0,"uploader":"Someone","thumbnail":"https://i.ytimg.com/t.jpg","ext":"mp4","url":"https://cdn.example/v"}` + "\n"

	info, err := parseInfoJSON(stdout)
	require.NoError(t, err)
	assert.Equal(t, "Test", info.Title)
	assert.Equal(t, models.Seconds(125), info.Duration)
	assert.Equal(t, "Someone", info.Uploader)
	assert.Equal(t, "https://cdn.example/v", info.URL)

	_, err = parseInfoJSON("")
	assert.ErrorIs(t, err, ErrExtraction)

	_, err = parseInfoJSON("{broken")
	assert.Error(t, err)
}

func TestStreamFromInfo(t *testing.T) {
	info, err := parseInfoJSON(`{"title":"Clip","ext":"webm","requested_formats":[{"url":"https://v","vcodec":"vp9","acodec":"none"},{"url":"https://a","vcodec":"none","acodec":"opus"}]}`)
	require.NoError(t, err)

	video := streamFromInfo(info, models.KindVideo)
	assert.Equal(t, models.StreamInfo{URL: "https://v", Title: "Clip", Ext: "webm"}, video)

	audio := streamFromInfo(info, models.KindAudio)
	assert.Equal(t, "https://a", audio.URL)

	empty := streamFromInfo(rawInfo{URL: "https://direct"}, models.KindVideo)
	assert.Equal(t, models.StreamInfo{URL: "https://direct", Title: "video", Ext: "mp4"}, empty)
}

func TestParsePlaylistJSON(t *testing.T) {
	stdout := `{"_type":"playlist","title":"Mix","entries":[` +
		`{"id":"aaaaaaaaaaa","url":"https://www.youtube.com/watch?v=aaaaaaaaaaa","title":"First"},` +
		`{"id":"bbbbbbbbbbb","url":"bbbbbbbbbbb","title":"Second"},` +
		`{"title":"[Private video]"},` +
		`{"id":"ccccccccccc","webpage_url":"https://www.youtube.com/watch?v=ccccccccccc"}]}`

	entries, err := parsePlaylistJSON(stdout)
	require.NoError(t, err)
	assert.Equal(t, []PlaylistEntry{
		{URL: "https://www.youtube.com/watch?v=aaaaaaaaaaa", Title: "First"},
		{URL: "https://www.youtube.com/watch?v=bbbbbbbbbbb", Title: "Second"},
		{URL: "https://www.youtube.com/watch?v=ccccccccccc"},
	}, entries)

	_, err = parsePlaylistJSON("")
	assert.ErrorIs(t, err, ErrExtraction)
	_, err = parsePlaylistJSON("{broken")
	assert.Error(t, err)
}

var _ PlaylistExpander = (*YTDLPEngine)(nil)
