package downloader

import (
	"testing"

	"go-ytdl-host/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuality(t *testing.T) {
	tests := []struct {
		kind    models.Kind
		quality string
		want    string
	}{
		{models.KindVideo, "", "best"},
		{models.KindVideo, "best", "best"},
		{models.KindVideo, "720p", "720"},
		{models.KindVideo, "1080", "1080"},
		{models.KindVideo, "4K", "2160"},
		{models.KindVideo, "999", "best"},
		{models.KindAudio, "", "mp3_320"},
		{models.KindAudio, "320", "mp3_320"},
		{models.KindAudio, "128", "mp3_128"},
		{models.KindAudio, "mp3", "mp3_320"},
		{models.KindAudio, "M4A", "m4a"},
		{models.KindAudio, "wav", "wav"},
		{models.KindAudio, "flac", "mp3_320"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.quality, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeQuality(tt.kind, tt.quality))
		})
	}
}

func TestSelectFormat_Video(t *testing.T) {
	best := SelectFormat(models.KindVideo, "best")
	assert.Equal(t, "bestvideo+bestaudio/best", best.Format)
	assert.True(t, best.Merge)
	assert.False(t, best.ExtractAudio)

	hd := SelectFormat(models.KindVideo, "720p")
	assert.Equal(t, "720", hd.Key)
	assert.Equal(t, "bestvideo[height<=720]+bestaudio/best[height<=720]/best", hd.Format)
	assert.True(t, hd.Merge)
}

func TestSelectFormat_Audio(t *testing.T) {
	mp3 := SelectFormat(models.KindAudio, "192")
	assert.Equal(t, "bestaudio/best", mp3.Format)
	assert.True(t, mp3.ExtractAudio)
	assert.Equal(t, "mp3", mp3.AudioCodec)
	assert.Equal(t, "192", mp3.AudioQuality)
	assert.False(t, mp3.Merge)

	m4a := SelectFormat(models.KindAudio, "m4a")
	assert.False(t, m4a.ExtractAudio, "m4a is taken as-is without re-encoding")
	assert.Equal(t, "bestaudio[ext=m4a]/bestaudio/best", m4a.Format)
}

func TestQualityLists(t *testing.T) {
	assert.Equal(t, "best", VideoQualities()[0])
	for _, q := range AudioQualities() {
		assert.Equal(t, q, NormalizeQuality(models.KindAudio, q), "every listed audio preset must be selectable")
	}
	for _, q := range VideoQualities() {
		assert.Equal(t, q, NormalizeQuality(models.KindVideo, q))
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 25, Percent(50, 200))
	assert.Equal(t, 0, Percent(50, 0))
	assert.Equal(t, 0, Percent(0, 200))
	assert.Equal(t, 100, Percent(300, 200))
	assert.Equal(t, 33, Percent(1, 3))
}
