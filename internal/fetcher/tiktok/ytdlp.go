package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("TikTok")

var videoIDPattern = regexp.MustCompile(`/video/(\d+)`)

type (
	Config struct {
		BinPath string
		Timeout time.Duration
	}

	// Client resolves and downloads TikTok videos by shelling out to
	// yt-dlp, which handles the platform's authentication dance and
	// format selection.
	Client struct {
		config  Config
		binPath string
	}

	videoInfo struct {
		ID          string `json:"id"`
		Uploader    string `json:"uploader"`
		Title       string `json:"title"`
		Description string `json:"description"`
		UploadDate  string `json:"upload_date"`
		WebpageURL  string `json:"webpage_url"`
	}
)

func New(config Config) *Client {
	if config.BinPath == "" {
		config.BinPath = "yt-dlp"
	}
	if config.Timeout == 0 {
		config.Timeout = time.Second * 60
	}

	client := &Client{config: config}
	if path, err := exec.LookPath(config.BinPath); err == nil {
		client.binPath = path
		log.Emit(logger.SUCCESS, "yt-dlp resolved at %s\n", path)
	} else {
		log.Emit(logger.WARNING, "yt-dlp binary '%s' not found; TikTok downloads are unavailable\n", config.BinPath)
	}

	return client
}

func (client *Client) Platform() fetcher.Platform { return fetcher.PlatformTiktok }

func (client *Client) Healthy() bool { return client.binPath != "" }

// DeriveID uses the numeric video ID embedded in canonical TikTok URLs.
// Short-link forms (vm/vt) carry no video ID, so they fall back to the
// URL-hash identifier.
func (client *Client) DeriveID(url string) string {
	if matches := videoIDPattern.FindStringSubmatch(url); len(matches) > 1 {
		return matches[1]
	}

	return fetcher.FallbackID(url)
}

func (client *Client) ResolvePost(ctx context.Context, url string) (*fetcher.Post, error) {
	if client.binPath == "" {
		return nil, fmt.Errorf("%w: yt-dlp is not installed", fetcher.ErrDownloadFailed)
	}

	cmd := exec.CommandContext(ctx, client.binPath, "--no-warnings", "--dump-json", url)
	output, err := cmd.Output()
	if err != nil {
		return nil, classifyExecError(err)
	}

	var info videoInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("%w: yt-dlp produced malformed metadata: %v", fetcher.ErrDownloadFailed, err)
	}

	caption := info.Description
	if caption == "" {
		caption = info.Title
	}

	author := info.Uploader
	if author == "" {
		author = "unknown"
	}

	postedAt := time.Now()
	if info.UploadDate != "" {
		if parsed, err := time.Parse("20060102", info.UploadDate); err == nil {
			postedAt = parsed
		}
	}

	return &fetcher.Post{
		ID:       client.DeriveID(url),
		Platform: fetcher.PlatformTiktok,
		Author:   author,
		Caption:  caption,
		PostedAt: postedAt,
		Kind:     fetcher.KindVideo,
		Video:    &ytdlpSource{binPath: client.binPath, url: url},
	}, nil
}

// classifyExecError sniffs yt-dlp's stderr for the well-known failure
// lines and maps them onto the fetcher taxonomy.
func classifyExecError(err error) error {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return fmt.Errorf("%w: yt-dlp failed: %v", fetcher.ErrDownloadFailed, err)
	}

	stderr := string(exitErr.Stderr)
	lowered := strings.ToLower(stderr)
	switch {
	case strings.Contains(lowered, "private"), strings.Contains(lowered, "login required"):
		return fmt.Errorf("%w: %s", fetcher.ErrPrivatePost, firstLine(stderr))
	case strings.Contains(lowered, "unavailable"), strings.Contains(lowered, "404"), strings.Contains(lowered, "not found"):
		return fmt.Errorf("%w: %s", fetcher.ErrPostNotFound, firstLine(stderr))
	case strings.Contains(lowered, "429"), strings.Contains(lowered, "rate"):
		return fmt.Errorf("%w: rate limited: %s", fetcher.ErrPostNotFound, firstLine(stderr))
	default:
		return fmt.Errorf("%w: yt-dlp failed: %s", fetcher.ErrDownloadFailed, firstLine(stderr))
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

// ytdlpSource downloads the video into a scratch file via yt-dlp and
// hands back a reader over it; the scratch directory is removed when the
// reader closes. This keeps the cache store's atomic write protocol as
// the single path by which bytes reach the media directory.
type ytdlpSource struct {
	binPath string
	url     string
}

func (source *ytdlpSource) Open(ctx context.Context) (io.ReadCloser, error) {
	scratchDir, err := os.MkdirTemp("", "iris-ytdlp-")
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create scratch directory: %v", fetcher.ErrDownloadFailed, err)
	}

	outPath := filepath.Join(scratchDir, "video.mp4")
	cmd := exec.CommandContext(ctx, source.binPath,
		"--no-warnings",
		"--format", "best[ext=mp4]/best",
		"-o", outPath,
		source.url,
	)

	if _, err := cmd.Output(); err != nil {
		os.RemoveAll(scratchDir)
		return nil, classifyExecError(err)
	}

	file, err := os.Open(outPath)
	if err != nil {
		os.RemoveAll(scratchDir)
		return nil, fmt.Errorf("%w: yt-dlp reported success but produced no file: %v", fetcher.ErrDownloadFailed, err)
	}

	return &scratchReader{File: file, scratchDir: scratchDir}, nil
}

type scratchReader struct {
	*os.File
	scratchDir string
}

func (reader *scratchReader) Close() error {
	err := reader.File.Close()
	os.RemoveAll(reader.scratchDir)
	return err
}

var _ fetcher.Fetcher = (*Client)(nil)
