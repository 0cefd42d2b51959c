package fetcher

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTiktok    Platform = "tiktok"
)

// PostKind distinguishes the polymorphic shapes an Instagram post can
// take. TikTok posts are always KindVideo.
type PostKind int

const (
	KindVideo PostKind = iota
	KindImage
	KindCarousel
)

func (kind PostKind) String() string {
	return []string{"video", "image", "carousel"}[kind]
}

type (
	// VideoSource provides the raw media bytes for a resolved post. The
	// Instagram backend streams from a direct CDN URL; the TikTok backend
	// hands back a file already fetched by its external tool.
	VideoSource interface {
		Open(ctx context.Context) (io.ReadCloser, error)
	}

	// Post is the normalized result of resolving a platform URL. Exactly
	// one of Video (KindVideo) or ImageURLs (KindImage/KindCarousel) is
	// populated.
	Post struct {
		ID        string
		Platform  Platform
		Shortcode string
		Author    string
		Caption   string
		PostedAt  time.Time
		Kind      PostKind

		Video     VideoSource
		ImageURLs []string
	}

	// Fetcher wraps one platform's extraction backend.
	Fetcher interface {
		Platform() Platform

		// Healthy reports whether the backend initialised correctly and is
		// ready to serve fetches; surfaced by the health endpoint.
		Healthy() bool

		// DeriveID returns the stable cache identifier for a validated post
		// URL, without touching the network.
		DeriveID(url string) string

		// ResolvePost fetches post metadata and media sources. Failures are
		// reported via the package sentinel errors.
		ResolvePost(ctx context.Context, url string) (*Post, error)
	}
)

// urlNamespace seeds the UUIDv5 fallback used when no platform-native
// identifier can be parsed from a URL.
var urlNamespace = uuid.MustParse("9a201d6a-6e91-4a08-9b65-8d7ad24517c3")

// FallbackID derives a deterministic identifier by hashing the URL.
func FallbackID(url string) string {
	return uuid.NewSHA1(urlNamespace, []byte(url)).String()
}
