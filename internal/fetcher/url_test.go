package fetcher_test

import (
	"errors"
	"testing"

	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/stretchr/testify/assert"
)

func Test_DetectPlatform_AcceptsSupportedPostURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		platform fetcher.Platform
	}{
		{"instagram post", "https://www.instagram.com/p/Cxyz123abcd/", fetcher.PlatformInstagram},
		{"instagram reel", "https://www.instagram.com/reel/Cxyz123abcd/", fetcher.PlatformInstagram},
		{"instagram tv", "https://instagram.com/tv/Cxyz123abcd", fetcher.PlatformInstagram},
		{"instagram with query", "https://www.instagram.com/p/Cxyz123abcd/?igshid=foo", fetcher.PlatformInstagram},
		{"tiktok canonical", "https://www.tiktok.com/@someuser/video/7291234567812345678", fetcher.PlatformTiktok},
		{"tiktok vm short link", "https://vm.tiktok.com/ZMabcdefg/", fetcher.PlatformTiktok},
		{"tiktok vt short link", "https://vt.tiktok.com/ZSabcdefg/", fetcher.PlatformTiktok},
		{"tiktok mobile", "https://m.tiktok.com/v/7291234567812345678", fetcher.PlatformTiktok},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			platform, err := fetcher.DetectPlatform(test.url)
			assert.Nil(t, err)
			assert.Equal(t, test.platform, platform)
		})
	}
}

func Test_DetectPlatform_RejectsUnsupportedURLs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"not a url", "certainly not a url"},
		{"missing scheme", "www.instagram.com/p/Cxyz123abcd/"},
		{"youtube", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"instagram profile", "https://www.instagram.com/someuser/"},
		{"instagram explore", "https://www.instagram.com/explore/tags/cats/"},
		{"tiktok profile", "https://www.tiktok.com/@someuser"},
		{"plain text", "instagram"},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := fetcher.DetectPlatform(test.url)
			assert.NotNil(t, err)
			assert.True(t, errors.Is(err, fetcher.ErrInvalidURL), "expected ErrInvalidURL, got %v", err)
		})
	}
}
