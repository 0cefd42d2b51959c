package instagram_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/hbomb79/Iris/internal/fetcher/instagram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postPayload(mediaType int, extra map[string]any) string {
	item := map[string]any{
		"pk":         "123456789",
		"code":       "Cxyz123abcd",
		"media_type": mediaType,
		"taken_at":   1714564800,
		"user":       map[string]any{"username": "someuser"},
		"caption":    map[string]any{"text": "a caption"},
	}
	for key, value := range extra {
		item[key] = value
	}

	payload, _ := json.Marshal(map[string]any{"items": []any{item}})
	return string(payload)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *instagram.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return instagram.New(instagram.Config{BaseURL: server.URL})
}

func Test_DeriveID_ExtractsShortcode(t *testing.T) {
	t.Parallel()
	client := instagram.New(instagram.Config{})

	assert.Equal(t, "Cxyz123abcd", client.DeriveID("https://www.instagram.com/p/Cxyz123abcd/"))
	assert.Equal(t, "Cxyz123abcd", client.DeriveID("https://www.instagram.com/reel/Cxyz123abcd"))
	assert.Equal(t, "Cxyz123abcd", client.DeriveID("https://instagram.com/tv/Cxyz123abcd/?igshid=foo"))

	// Unparseable URLs still produce a stable identifier.
	first := client.DeriveID("https://www.instagram.com/")
	second := client.DeriveID("https://www.instagram.com/")
	assert.NotEmpty(t, first)
	assert.Equal(t, first, second)
}

func Test_ResolvePost_NormalisesVideoPost(t *testing.T) {
	t.Parallel()
	videoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "video bytes")
	}))
	t.Cleanup(videoServer.Close)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/p/Cxyz123abcd/", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("__a"))
		fmt.Fprint(w, postPayload(2, map[string]any{
			"video_versions": []map[string]any{{"url": videoServer.URL, "width": 1080, "height": 1920}},
		}))
	})

	post, err := client.ResolvePost(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.Equal(t, "Cxyz123abcd", post.ID)
	assert.Equal(t, "someuser", post.Author)
	assert.Equal(t, "a caption", post.Caption)
	assert.Equal(t, fetcher.KindVideo, post.Kind)
	require.NotNil(t, post.Video)

	source, err := post.Video.Open(context.Background())
	require.Nil(t, err)
	defer source.Close()
	content, err := io.ReadAll(source)
	require.Nil(t, err)
	assert.Equal(t, "video bytes", string(content))
}

func Test_ResolvePost_MissingTakenAtLeavesPostDateZero(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, postPayload(1, map[string]any{
			"taken_at":        0,
			"image_versions2": map[string]any{"candidates": []map[string]any{{"url": "http://cdn.test/image.jpg"}}},
		}))
	})

	post, err := client.ResolvePost(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.True(t, post.PostedAt.IsZero(), "absent taken_at must not become the unix epoch")
}

func Test_ResolvePost_NormalisesImageAndCarouselPosts(t *testing.T) {
	t.Parallel()

	imageClient := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, postPayload(1, map[string]any{
			"image_versions2": map[string]any{"candidates": []map[string]any{{"url": "http://cdn.test/image.jpg"}}},
		}))
	})
	post, err := imageClient.ResolvePost(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.Equal(t, fetcher.KindImage, post.Kind)
	assert.Equal(t, []string{"http://cdn.test/image.jpg"}, post.ImageURLs)

	carouselClient := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, postPayload(8, map[string]any{
			"carousel_media": []map[string]any{
				{"media_type": 1, "image_versions2": map[string]any{"candidates": []map[string]any{{"url": "http://cdn.test/slide1.jpg"}}}},
				{"media_type": 1, "image_versions2": map[string]any{"candidates": []map[string]any{{"url": "http://cdn.test/slide2.jpg"}}}},
			},
		}))
	})
	post, err = carouselClient.ResolvePost(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.Equal(t, fetcher.KindCarousel, post.Kind)
	assert.Equal(t, []string{"http://cdn.test/slide1.jpg", "http://cdn.test/slide2.jpg"}, post.ImageURLs)
}

func Test_ResolvePost_MapsHTTPStatusToSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, fetcher.ErrPrivatePost},
		{"forbidden", http.StatusForbidden, fetcher.ErrPrivatePost},
		{"not found", http.StatusNotFound, fetcher.ErrPostNotFound},
		{"rate limited", http.StatusTooManyRequests, fetcher.ErrPostNotFound},
		{"server error", http.StatusInternalServerError, fetcher.ErrDownloadFailed},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(test.status)
			})

			_, err := client.ResolvePost(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
			assert.True(t, errors.Is(err, test.sentinel), "status %d should map to %v, got %v", test.status, test.sentinel, err)
		})
	}
}

func Test_ResolvePost_EmptyItemsMeansLoginGated(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items": []}`)
	})

	_, err := client.ResolvePost(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	assert.True(t, errors.Is(err, fetcher.ErrPrivatePost))
}

func Test_New_SessionLoadingDegradesGracefully(t *testing.T) {
	t.Parallel()

	// Missing file: unauthenticated but healthy.
	client := instagram.New(instagram.Config{Username: "someuser", SessionFilePath: "/does/not/exist.json"})
	assert.True(t, client.Healthy())
	assert.False(t, client.Authenticated())

	// Malformed file: same degradation.
	badPath := filepath.Join(t.TempDir(), "session.json")
	require.Nil(t, os.WriteFile(badPath, []byte("not json"), 0o644))
	client = instagram.New(instagram.Config{Username: "someuser", SessionFilePath: badPath})
	assert.True(t, client.Healthy())
	assert.False(t, client.Authenticated())

	// Valid cookie map: authenticated.
	goodPath := filepath.Join(t.TempDir(), "session.json")
	require.Nil(t, os.WriteFile(goodPath, []byte(`{"sessionid": "abc123", "csrftoken": "tok"}`), 0o644))
	client = instagram.New(instagram.Config{Username: "someuser", SessionFilePath: goodPath})
	assert.True(t, client.Healthy())
	assert.True(t, client.Authenticated())
}
