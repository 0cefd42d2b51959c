package cache

import "time"

// Item represents one downloaded unit of content: the primary video file
// plus its optional audio/metadata/caption siblings, all sharing the same
// base identifier inside the media directory.
type Item struct {
	ID           string
	VideoPath    string
	AudioPath    string
	MetadataPath string
	CaptionPath  string

	// Caption is loaded from the caption sidecar; an absent sidecar
	// degrades this to the empty string rather than an error.
	Caption string

	// Author and Kind come from the metadata sidecar; an absent sidecar
	// degrades Author to "unknown".
	Author string
	Kind   string

	// CreatedAt is the platform-provided post date when the metadata
	// sidecar has one, otherwise the video file's modification time.
	CreatedAt time.Time
}

// SidecarMetadata is the JSON document persisted alongside the video so
// that cache-hit reads can be served without re-fetching the post.
type SidecarMetadata struct {
	ID        string    `json:"id"`
	Shortcode string    `json:"shortcode,omitempty"`
	Author    string    `json:"author"`
	Date      time.Time `json:"date"`
	Caption   string    `json:"caption"`
	Kind      string    `json:"kind,omitempty"`
}
