package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/live/dQw4w9WgXcQ?feature=share", "dQw4w9WgXcQ"},
		{"  https://www.youtube.com/watch?v=dQw4w9WgXcQ  ", "dQw4w9WgXcQ"},
		{"https://vimeo.com/watch?v=dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/watch?v=short", ""},
		{"not a url", ""},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractVideoID(tc.url))
		})
	}
}

func TestParseCaptionsXML(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="utf-8" ?><transcript>` +
		`<text start="0" dur="1.5">Hello &amp;amp; welcome</text>` +
		`<text start="1.5" dur="2">  </text>` +
		`<text start="3.5" dur="2">to the lecture</text></transcript>`)

	text, err := parseCaptionsXML(data)
	require.NoError(t, err)
	assert.Equal(t, "Hello & welcome to the lecture", text)

	_, err = parseCaptionsXML([]byte(`<transcript></transcript>`))
	assert.Error(t, err)
}

func TestExtractCaptionURL(t *testing.T) {
	page := `var ytInitialPlayerResponse = {"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":[{"baseUrl":"https://www.youtube.com/api/timedtext?v=abc&lang=en","name":{"simpleText":"English"}}],"audioTracks":[]}}};`

	u, err := extractCaptionURL(page)
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/api/timedtext?v=abc&lang=en", u)

	_, err = extractCaptionURL("<html>no captions</html>")
	assert.Error(t, err)
}

func TestParseWatchPage(t *testing.T) {
	page := []byte(`<html><head>
<title>Intro to Cells - YouTube</title>
<meta property="og:title" content="Intro to Cells">
<meta name="description" content="A short lecture.">
<meta property="og:image" content="https://i.ytimg.com/vi/abc/hq.jpg">
<meta itemprop="duration" content="PT12M30S">
</head><body><span itemprop="author"><link itemprop="name" content="Bio Channel"></span></body></html>`)

	meta, err := parseWatchPage("abcdefghijk", page)
	require.NoError(t, err)
	assert.Equal(t, "Intro to Cells", meta.Title)
	assert.Equal(t, "A short lecture.", meta.Description)
	assert.Equal(t, "https://i.ytimg.com/vi/abc/hq.jpg", meta.ThumbnailURL)
	assert.Equal(t, "Bio Channel", meta.Author)
	assert.Equal(t, 750, meta.DurationSeconds)
}

func TestParseWatchPage_TitleFallback(t *testing.T) {
	meta, err := parseWatchPage("abcdefghijk", []byte(`<html><head><title>Only Title - YouTube</title></head><body>"lengthSeconds":"61"</body></html>`))
	require.NoError(t, err)
	assert.Equal(t, "Only Title", meta.Title)
	assert.Equal(t, 61, meta.DurationSeconds)
	assert.Equal(t, defaultThumbnail("abcdefghijk"), meta.ThumbnailURL)
}

func TestParseISODuration(t *testing.T) {
	assert.Equal(t, 3723, parseISODuration("PT1H2M3S"))
	assert.Equal(t, 45, parseISODuration("PT45S"))
	assert.Equal(t, 0, parseISODuration("garbage"))
}
