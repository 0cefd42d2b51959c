package fetcher

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Supported post URL shapes. Profile pages, bare domains and anything
// off-platform are rejected outright.
var (
	instagramPostPattern = regexp.MustCompile(`(?i)^https?://(www\.)?instagram\.com/(p|reel|tv)/[A-Za-z0-9_-]+/?(\?.*)?$`)

	tiktokVideoPattern = regexp.MustCompile(`(?i)^https?://(www\.)?tiktok\.com/@[A-Za-z0-9_.-]+/video/\d+/?(\?.*)?$`)
	tiktokShortPattern = regexp.MustCompile(`(?i)^https?://(vm|vt)\.tiktok\.com/[A-Za-z0-9_-]+/?(\?.*)?$`)
	tiktokMobilePattern = regexp.MustCompile(`(?i)^https?://m\.tiktok\.com/v/\d+/?(\?.*)?$`)
)

// DetectPlatform validates the shape of a raw URL and reports which
// platform it belongs to. All rejections wrap ErrInvalidURL.
func DetectPlatform(raw string) (Platform, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is empty", ErrInvalidURL)
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidURL)
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("%w: malformed url", ErrInvalidURL)
	}

	if instagramPostPattern.MatchString(raw) {
		return PlatformInstagram, nil
	}

	if tiktokVideoPattern.MatchString(raw) || tiktokShortPattern.MatchString(raw) || tiktokMobilePattern.MatchString(raw) {
		return PlatformTiktok, nil
	}

	return "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
}
