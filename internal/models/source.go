package models

import "strings"

type SourceKind string

const (
	SourceNone    SourceKind = ""
	SourcePDF     SourceKind = "pdf"
	SourceText    SourceKind = "text"
	SourceYouTube SourceKind = "youtube"
	SourceTopic   SourceKind = "topic"
)

// SourceRequest carries whatever the client supplied. Only one input is used.
type SourceRequest struct {
	FileName   string `json:"file_name,omitempty"`
	FileData   []byte `json:"-"`
	YouTubeURL string `json:"youtube_url,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

// Kind applies the input precedence: file, then YouTube URL, then topic.
func (r SourceRequest) Kind() SourceKind {
	switch {
	case len(r.FileData) > 0:
		if strings.HasSuffix(strings.ToLower(r.FileName), ".txt") {
			return SourceText
		}
		return SourcePDF
	case strings.TrimSpace(r.YouTubeURL) != "":
		return SourceYouTube
	case strings.TrimSpace(r.Topic) != "":
		return SourceTopic
	}
	return SourceNone
}

type SourceDocument struct {
	Kind      SourceKind `json:"kind"`
	Title     string     `json:"title"`
	Text      string     `json:"text"`
	Reference string     `json:"reference"`
}

// Subject is the quiz title derived from the source.
func (d *SourceDocument) Subject() string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	if d.Kind == SourceTopic && strings.TrimSpace(d.Reference) != "" {
		return strings.TrimSpace(d.Reference)
	}
	return "Session"
}

type VideoMetadata struct {
	VideoID         string `json:"video_id"`
	Title           string `json:"title"`
	Author          string `json:"author,omitempty"`
	Description     string `json:"description,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

type ValidateYouTubeRequest struct {
	URL string `json:"url"`
}
