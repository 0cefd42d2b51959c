package fetcher_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hbomb79/Iris/internal/cache"
	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{ payload string }

func (source *stubSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(source.payload)), nil
}

// stubFetcher is an Instagram-shaped backend returning a canned post,
// counting how often the network-touching resolution is invoked.
type stubFetcher struct {
	platform     fetcher.Platform
	post         *fetcher.Post
	resolveErr   error
	resolveCalls int
}

func (stub *stubFetcher) Platform() fetcher.Platform { return stub.platform }
func (stub *stubFetcher) Healthy() bool              { return true }
func (stub *stubFetcher) DeriveID(url string) string { return "stub-id" }

func (stub *stubFetcher) ResolvePost(ctx context.Context, url string) (*fetcher.Post, error) {
	stub.resolveCalls++
	if stub.resolveErr != nil {
		return nil, stub.resolveErr
	}
	return stub.post, nil
}

// noopConverter satisfies the converter dependency without requiring an
// ffmpeg binary on the test host.
type noopConverter struct {
	extractOk bool
}

func (converter *noopConverter) Extract(ctx context.Context, videoPath string, audioPath string) (bool, string) {
	if !converter.extractOk {
		return false, "extraction disabled in test"
	}
	if err := os.WriteFile(audioPath, []byte("mp3"), 0o644); err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (converter *noopConverter) StillClip(ctx context.Context, imagePath string, outPath string) error {
	return os.WriteFile(outPath, []byte("clip"), 0o644)
}

func (converter *noopConverter) Slideshow(ctx context.Context, imagePaths []string, outPath string) error {
	return os.WriteFile(outPath, []byte("slideshow"), 0o644)
}

func (converter *noopConverter) SilentAudio(ctx context.Context, outPath string) error {
	return os.WriteFile(outPath, []byte("silence"), 0o644)
}

func videoPost(author string, caption string) *fetcher.Post {
	return &fetcher.Post{
		ID:       "stub-id",
		Platform: fetcher.PlatformInstagram,
		Author:   author,
		Caption:  caption,
		PostedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Kind:     fetcher.KindVideo,
		Video:    &stubSource{payload: "video bytes"},
	}
}

func newService(t *testing.T, backend fetcher.Fetcher, converter *noopConverter) (*fetcher.Service, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	require.Nil(t, err)

	service := fetcher.NewService(fetcher.ServiceConfig{
		BaseURL:         "http://localhost:8994",
		MaxVideoFiles:   10,
		MaxAudioFiles:   10,
		DownloadTimeout: time.Second * 5,
	}, store, converter, backend)

	return service, store
}

func Test_Download_CachesAndServesRepeatRequestsWithoutRefetch(t *testing.T) {
	t.Parallel()
	backend := &stubFetcher{platform: fetcher.PlatformInstagram, post: videoPost("someuser", "a caption")}
	service, store := newService(t, backend, &noopConverter{extractOk: true})

	url := "https://www.instagram.com/p/Cxyz123abcd/"
	first, err := service.Download(context.Background(), url)
	require.Nil(t, err)
	assert.Equal(t, "someuser", first.Author)
	assert.Equal(t, "a caption", first.Description)
	assert.Equal(t, "http://localhost:8994/static/stub-id.mp4", first.VideoURL)
	assert.Equal(t, "http://localhost:8994/static/stub-id.mp3", first.AudioURL)
	assert.True(t, store.Exists("stub-id"))

	second, err := service.Download(context.Background(), url)
	require.Nil(t, err)
	assert.Equal(t, first.VideoURL, second.VideoURL)
	assert.Equal(t, first.Author, second.Author)
	assert.Equal(t, 1, backend.resolveCalls, "repeat request must be served from cache")
}

func Test_Download_OmitsAudioURLWhenExtractionFails(t *testing.T) {
	t.Parallel()
	backend := &stubFetcher{platform: fetcher.PlatformInstagram, post: videoPost("someuser", "caption")}
	service, store := newService(t, backend, &noopConverter{extractOk: false})

	result, err := service.Download(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.NotEmpty(t, result.VideoURL)
	assert.Empty(t, result.AudioURL, "failed extraction must suppress the audio URL, not the response")
	assert.True(t, store.Exists("stub-id"))
}

// imageServer serves canned JPEG-ish bytes for slide downloads.
func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "image bytes")
	}))
	t.Cleanup(server.Close)

	return server
}

func Test_Download_SynthesizesClipForImagePost(t *testing.T) {
	t.Parallel()
	server := imageServer(t)
	backend := &stubFetcher{platform: fetcher.PlatformInstagram, post: &fetcher.Post{
		ID:        "stub-id",
		Platform:  fetcher.PlatformInstagram,
		Author:    "someuser",
		Caption:   "just a photo",
		PostedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Kind:      fetcher.KindImage,
		ImageURLs: []string{server.URL + "/image.jpg"},
	}}
	service, store := newService(t, backend, &noopConverter{})

	result, err := service.Download(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.Equal(t, "http://localhost:8994/static/stub-id.mp4", result.VideoURL)
	assert.Equal(t, "http://localhost:8994/static/stub-id.mp3", result.AudioURL,
		"image posts carry a silent audio placeholder")
	require.True(t, store.Exists("stub-id"))

	cached, err := os.ReadFile(store.VideoPath("stub-id"))
	require.Nil(t, err)
	assert.Equal(t, "clip", string(cached), "single images render through the still-clip path")

	placeholder, err := os.ReadFile(store.AudioPath("stub-id"))
	require.Nil(t, err)
	assert.Equal(t, "silence", string(placeholder))
}

func Test_Download_SynthesizesSlideshowForCarouselPost(t *testing.T) {
	t.Parallel()
	server := imageServer(t)
	backend := &stubFetcher{platform: fetcher.PlatformInstagram, post: &fetcher.Post{
		ID:       "stub-id",
		Platform: fetcher.PlatformInstagram,
		Author:   "someuser",
		Kind:     fetcher.KindCarousel,
		ImageURLs: []string{
			server.URL + "/slide1.jpg",
			server.URL + "/slide2.jpg",
			server.URL + "/slide3.jpg",
		},
	}}
	service, store := newService(t, backend, &noopConverter{})

	result, err := service.Download(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	require.Nil(t, err)
	assert.Equal(t, "http://localhost:8994/static/stub-id.mp4", result.VideoURL)
	assert.Equal(t, "http://localhost:8994/static/stub-id.mp3", result.AudioURL)

	cached, err := os.ReadFile(store.VideoPath("stub-id"))
	require.Nil(t, err)
	assert.Equal(t, "slideshow", string(cached), "multi-image posts render through the slideshow path")
}

func Test_Download_ImagePostWithNoSlidesFails(t *testing.T) {
	t.Parallel()
	backend := &stubFetcher{platform: fetcher.PlatformInstagram, post: &fetcher.Post{
		ID:       "stub-id",
		Platform: fetcher.PlatformInstagram,
		Author:   "someuser",
		Kind:     fetcher.KindImage,
	}}
	service, store := newService(t, backend, &noopConverter{})

	_, err := service.Download(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
	assert.True(t, errors.Is(err, fetcher.ErrDownloadFailed))
	assert.False(t, store.Exists("stub-id"))
}

func Test_Download_RejectsUnsupportedURLWithoutTouchingBackend(t *testing.T) {
	t.Parallel()
	backend := &stubFetcher{platform: fetcher.PlatformInstagram, post: videoPost("someuser", "caption")}
	service, store := newService(t, backend, &noopConverter{})

	_, err := service.Download(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, fetcher.ErrInvalidURL))
	assert.Equal(t, 0, backend.resolveCalls)
	assert.False(t, store.Exists("stub-id"))
}

func Test_Download_PropagatesBackendSentinels(t *testing.T) {
	t.Parallel()

	for _, sentinel := range []error{fetcher.ErrPrivatePost, fetcher.ErrPostNotFound, fetcher.ErrDownloadFailed} {
		backend := &stubFetcher{platform: fetcher.PlatformInstagram, resolveErr: sentinel}
		service, _ := newService(t, backend, &noopConverter{})

		_, err := service.Download(context.Background(), "https://www.instagram.com/p/Cxyz123abcd/")
		assert.True(t, errors.Is(err, sentinel), "expected %v to survive orchestration, got %v", sentinel, err)
	}
}

func Test_Download_EnforcesVideoRetentionLimit(t *testing.T) {
	t.Parallel()
	store, err := cache.NewStore(t.TempDir())
	require.Nil(t, err)

	service := fetcher.NewService(fetcher.ServiceConfig{
		BaseURL:         "http://localhost:8994",
		MaxVideoFiles:   2,
		MaxAudioFiles:   2,
		DownloadTimeout: time.Second * 5,
	}, store, &noopConverter{}, &sequencedFetcher{})

	for _, shortcode := range []string{"Caaaaaaaaaa", "Cbbbbbbbbbb", "Cccccccccccc"} {
		_, err := service.Download(context.Background(), "https://www.instagram.com/p/"+shortcode+"/")
		require.Nil(t, err)
		// Spread modification times so eviction order is deterministic.
		time.Sleep(time.Millisecond * 20)
	}

	assert.False(t, store.Exists("Caaaaaaaaaa"), "oldest cached video must be evicted")
	assert.True(t, store.Exists("Cbbbbbbbbbb"))
	assert.True(t, store.Exists("Cccccccccccc"))
}

// sequencedFetcher derives a distinct ID per URL, unlike stubFetcher.
type sequencedFetcher struct{}

func (stub *sequencedFetcher) Platform() fetcher.Platform { return fetcher.PlatformInstagram }
func (stub *sequencedFetcher) Healthy() bool              { return true }

func (stub *sequencedFetcher) DeriveID(url string) string {
	trimmed := strings.TrimRight(url, "/")
	return trimmed[strings.LastIndex(trimmed, "/")+1:]
}

func (stub *sequencedFetcher) ResolvePost(ctx context.Context, url string) (*fetcher.Post, error) {
	return &fetcher.Post{
		ID:       stub.DeriveID(url),
		Platform: fetcher.PlatformInstagram,
		Author:   "someuser",
		Kind:     fetcher.KindVideo,
		Video:    &stubSource{payload: "video bytes"},
	}, nil
}
