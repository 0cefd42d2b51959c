package fetcher

import "errors"

// Sentinel errors surfaced by the fetchers and the download
// orchestration. The API layer maps these to distinct wire error codes
// and HTTP statuses with errors.Is.
var (
	// ErrInvalidURL covers malformed URLs and URLs that do not point at a
	// supported Instagram/TikTok post resource.
	ErrInvalidURL = errors.New("url is not a supported Instagram or TikTok post link")

	// ErrPrivatePost indicates the platform refused access: the account is
	// private or a login/session is required.
	ErrPrivatePost = errors.New("post is private or requires authentication")

	// ErrPostNotFound indicates the post does not exist or was deleted.
	ErrPostNotFound = errors.New("post not found")

	// ErrTimeout indicates the fetch exceeded the configured deadline.
	ErrTimeout = errors.New("timed out fetching post")

	// ErrDownloadFailed is the generic extraction/download failure.
	ErrDownloadFailed = errors.New("failed to download post media")
)
