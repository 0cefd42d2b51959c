package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hbomb79/Iris/internal/cache"
	"github.com/hbomb79/Iris/pkg/logger"
	"golang.org/x/sync/singleflight"
)

var log = logger.Get("Fetcher")

type (
	// mediaStore is the slice of the cache store this service relies on.
	mediaStore interface {
		Exists(id string) bool
		WriteVideo(id string, source io.Reader) (string, error)
		WriteSidecars(id string, meta cache.SidecarMetadata, caption string)
		Read(id string) (*cache.Item, error)
		Trim(maxFiles int) []string
		TrimAudio(maxFiles int) []string
		VideoPath(id string) string
		AudioPath(id string) string
	}

	// mediaConverter is the slice of the ffmpeg adapter this service
	// relies on. Extract never fails a request: a false result simply
	// means the response carries no audio URL.
	mediaConverter interface {
		Extract(ctx context.Context, videoPath string, audioPath string) (bool, string)
		StillClip(ctx context.Context, imagePath string, outPath string) error
		Slideshow(ctx context.Context, imagePaths []string, outPath string) error
		SilentAudio(ctx context.Context, outPath string) error
	}

	ServiceConfig struct {
		BaseURL         string
		MaxVideoFiles   int
		MaxAudioFiles   int
		AutoTrimAudio   bool
		DownloadTimeout time.Duration
	}

	// Result is the normalized download outcome handed to the API layer.
	Result struct {
		Author      string
		Description string
		CreatedAt   time.Time
		VideoURL    string
		AudioURL    string
	}

	// Service validates incoming URLs, dispatches to the platform backend,
	// and orchestrates the cache/convert/trim pipeline. Concurrent
	// requests for the same unseen ID are collapsed into one in-flight
	// fetch via single-flight; late callers receive the first result.
	Service struct {
		config    ServiceConfig
		store     mediaStore
		converter mediaConverter
		fetchers  map[Platform]Fetcher
		client    *http.Client
		flight    singleflight.Group
	}
)

func NewService(config ServiceConfig, store mediaStore, converter mediaConverter, fetchers ...Fetcher) *Service {
	byPlatform := make(map[Platform]Fetcher, len(fetchers))
	for _, f := range fetchers {
		byPlatform[f.Platform()] = f
	}

	return &Service{
		config:    config,
		store:     store,
		converter: converter,
		fetchers:  byPlatform,
		client:    &http.Client{Timeout: config.DownloadTimeout},
	}
}

// Fetchers exposes the registered backends for health reporting.
func (service *Service) Fetchers() []Fetcher {
	out := make([]Fetcher, 0, len(service.fetchers))
	for _, f := range service.fetchers {
		out = append(out, f)
	}

	return out
}

// Download resolves a post URL end-to-end: validation, platform
// dispatch, cache fast path, streamed download, sidecar persistence,
// best-effort audio extraction and retention trimming.
func (service *Service) Download(ctx context.Context, rawURL string) (*Result, error) {
	platform, err := DetectPlatform(rawURL)
	if err != nil {
		return nil, err
	}

	backend, ok := service.fetchers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no backend registered for %s", ErrDownloadFailed, platform)
	}

	id := backend.DeriveID(rawURL)
	ctx, cancel := context.WithTimeout(ctx, service.config.DownloadTimeout)
	defer cancel()

	result, err, shared := service.flight.Do(id, func() (interface{}, error) {
		return service.download(ctx, backend, id, rawURL)
	})
	if err != nil {
		return nil, classify(err)
	}

	if shared {
		log.Emit(logger.DEBUG, "Request for %s joined an in-flight download\n", id)
	}

	return result.(*Result), nil
}

func (service *Service) download(ctx context.Context, backend Fetcher, id string, rawURL string) (*Result, error) {
	if service.store.Exists(id) {
		log.Emit(logger.INFO, "Cache hit for %s, skipping network fetch\n", id)
		return service.cachedResult(id)
	}

	post, err := backend.ResolvePost(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if err := service.produceVideo(ctx, id, post); err != nil {
		return nil, err
	}

	service.store.WriteSidecars(id, cache.SidecarMetadata{
		ID:        id,
		Shortcode: post.Shortcode,
		Author:    post.Author,
		Date:      post.PostedAt,
		Caption:   post.Caption,
		Kind:      post.Kind.String(),
	}, post.Caption)

	service.produceAudio(ctx, id, post.Kind)
	service.store.Trim(service.config.MaxVideoFiles)

	createdAt := post.PostedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &Result{
		Author:      post.Author,
		Description: post.Caption,
		CreatedAt:   createdAt,
		VideoURL:    service.publicURL(id + ".mp4"),
		AudioURL:    service.audioURLIfPresent(id),
	}, nil
}

// produceVideo normalizes the post into the cached <id>.mp4, dispatching
// on the post kind: direct stream for videos, a synthesized slideshow
// for carousels, a short static clip for single images. The synthesized
// variants exist so the response contract (always a video URL) holds
// regardless of source post type.
func (service *Service) produceVideo(ctx context.Context, id string, post *Post) error {
	switch post.Kind {
	case KindVideo:
		if post.Video == nil {
			return fmt.Errorf("%w: post has no resolvable video source", ErrDownloadFailed)
		}

		source, err := post.Video.Open(ctx)
		if err != nil {
			return err
		}
		defer source.Close()

		if _, err := service.store.WriteVideo(id, source); err != nil {
			return err
		}
		return nil

	case KindImage, KindCarousel:
		return service.synthesizeVideo(ctx, id, post)

	default:
		return fmt.Errorf("%w: unknown post kind %d", ErrDownloadFailed, post.Kind)
	}
}

func (service *Service) synthesizeVideo(ctx context.Context, id string, post *Post) error {
	if len(post.ImageURLs) == 0 {
		return fmt.Errorf("%w: image post has no image sources", ErrDownloadFailed)
	}

	workDir, err := os.MkdirTemp("", "iris-frames-")
	if err != nil {
		return fmt.Errorf("%w: cannot create scratch directory: %v", ErrDownloadFailed, err)
	}
	defer os.RemoveAll(workDir)

	imagePaths := make([]string, 0, len(post.ImageURLs))
	for i, imageURL := range post.ImageURLs {
		path := filepath.Join(workDir, fmt.Sprintf("frame-%03d.jpg", i))
		if err := service.downloadFile(ctx, imageURL, path); err != nil {
			return fmt.Errorf("%w: slide %d: %v", ErrDownloadFailed, i, err)
		}
		imagePaths = append(imagePaths, path)
	}

	synthPath := filepath.Join(workDir, "synth.mp4")
	if post.Kind == KindCarousel {
		err = service.converter.Slideshow(ctx, imagePaths, synthPath)
	} else {
		err = service.converter.StillClip(ctx, imagePaths[0], synthPath)
	}
	if err != nil {
		return fmt.Errorf("%w: video synthesis failed: %v", ErrDownloadFailed, err)
	}

	synth, err := os.Open(synthPath)
	if err != nil {
		return fmt.Errorf("%w: synthesized video unreadable: %v", ErrDownloadFailed, err)
	}
	defer synth.Close()

	if _, err := service.store.WriteVideo(id, synth); err != nil {
		return err
	}
	return nil
}

// produceAudio derives the <id>.mp3 sidecar. For real videos this is a
// best-effort extraction whose failure only suppresses the audio URL;
// for synthesized image posts a silent placeholder keeps the response
// shape consistent.
func (service *Service) produceAudio(ctx context.Context, id string, kind PostKind) {
	audioPath := service.store.AudioPath(id)

	if kind == KindVideo {
		ok, reason := service.converter.Extract(ctx, service.store.VideoPath(id), audioPath)
		if !ok {
			log.Emit(logger.WARNING, "Audio extraction unavailable for %s: %s\n", id, reason)
			return
		}
	} else {
		if err := service.converter.SilentAudio(ctx, audioPath); err != nil {
			log.Emit(logger.WARNING, "Silent audio synthesis failed for %s: %v\n", id, err)
			return
		}
	}

	if service.config.AutoTrimAudio {
		service.store.TrimAudio(service.config.MaxAudioFiles)
	}
}

// cachedResult serves the idempotent fast path from sidecar files alone.
func (service *Service) cachedResult(id string) (*Result, error) {
	item, err := service.store.Read(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	audioURL := ""
	if item.AudioPath != "" {
		audioURL = service.publicURL(id + ".mp3")
	}

	return &Result{
		Author:      item.Author,
		Description: item.Caption,
		CreatedAt:   item.CreatedAt,
		VideoURL:    service.publicURL(id + ".mp4"),
		AudioURL:    audioURL,
	}, nil
}

func (service *Service) audioURLIfPresent(id string) string {
	if _, err := os.Stat(service.store.AudioPath(id)); err != nil {
		return ""
	}

	return service.publicURL(id + ".mp3")
}

func (service *Service) publicURL(filename string) string {
	return strings.TrimRight(service.config.BaseURL, "/") + "/static/" + filename
}

func (service *Service) downloadFile(ctx context.Context, url string, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := service.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, resp.Body)
	return err
}

// classify folds context deadline failures into the sentinel taxonomy so
// the API layer can report them as timeouts rather than generic errors.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
