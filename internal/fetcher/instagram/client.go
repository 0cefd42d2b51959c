package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("Instagram")

const (
	defaultBaseURL   = "https://www.instagram.com"
	postInfoTemplate = "%s/p/%s/?__a=1&__d=dis"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	mediaTypeImage    = 1
	mediaTypeVideo    = 2
	mediaTypeCarousel = 8
)

type (
	Config struct {
		Username        string
		SessionFilePath string
		Timeout         time.Duration

		// BaseURL overrides the Instagram web endpoint; used by tests.
		BaseURL string
	}

	// Client resolves Instagram posts through the web JSON API. When a
	// session file is present for the configured username its cookies are
	// attached to every request; otherwise the client operates
	// unauthenticated and private content fails with an authorization
	// error downstream.
	Client struct {
		config  Config
		httpC   *http.Client
		cookies []*http.Cookie
		ready   bool
	}

	postInfoResponse struct {
		Items []postItem `json:"items"`
	}

	postItem struct {
		Pk        json.Number `json:"pk"`
		Code      string      `json:"code"`
		MediaType int         `json:"media_type"`
		TakenAt   int64       `json:"taken_at"`
		User      struct {
			Username string `json:"username"`
		} `json:"user"`
		Caption *struct {
			Text string `json:"text"`
		} `json:"caption"`
		VideoVersions []mediaVersion `json:"video_versions"`
		ImageVersions struct {
			Candidates []mediaVersion `json:"candidates"`
		} `json:"image_versions2"`
		CarouselMedia []postItem `json:"carousel_media"`
	}

	mediaVersion struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}
)

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = time.Second * 60
	}

	client := &Client{
		config: config,
		httpC:  &http.Client{Timeout: config.Timeout},
	}

	client.loadSession()
	client.ready = true

	return client
}

// loadSession attaches cookies from the pre-established session file, if
// one exists for the configured username. All failure modes degrade to
// unauthenticated access rather than aborting construction.
func (client *Client) loadSession() {
	if client.config.Username == "" {
		if client.config.SessionFilePath != "" {
			log.Emit(logger.WARNING, "Session file configured but no username set; proceeding unauthenticated\n")
		} else {
			log.Emit(logger.INFO, "No Instagram username configured, working unauthenticated\n")
		}
		return
	}

	if client.config.SessionFilePath == "" {
		log.Emit(logger.INFO, "No session file configured for %s, working unauthenticated\n", client.config.Username)
		return
	}

	raw, err := os.ReadFile(client.config.SessionFilePath)
	if err != nil {
		log.Emit(logger.WARNING, "Cannot read session file %s (%v), proceeding unauthenticated\n", client.config.SessionFilePath, err)
		return
	}

	var cookieJar map[string]string
	if err := json.Unmarshal(raw, &cookieJar); err != nil {
		log.Emit(logger.WARNING, "Session file %s is malformed (%v), proceeding unauthenticated\n", client.config.SessionFilePath, err)
		return
	}

	for name, value := range cookieJar {
		client.cookies = append(client.cookies, &http.Cookie{Name: name, Value: value})
	}

	log.Emit(logger.SUCCESS, "Loaded Instagram session for %s (%d cookies)\n", client.config.Username, len(client.cookies))
}

func (client *Client) Platform() fetcher.Platform { return fetcher.PlatformInstagram }

func (client *Client) Healthy() bool { return client.ready }

// Authenticated reports whether session cookies are attached.
func (client *Client) Authenticated() bool { return len(client.cookies) > 0 }

// DeriveID extracts the post shortcode, which is stable across requests
// for the same post. Unparseable URLs fall back to a URL-hash ID.
func (client *Client) DeriveID(url string) string {
	if code := shortcodeFromURL(url); code != "" {
		return code
	}

	return fetcher.FallbackID(url)
}

func shortcodeFromURL(url string) string {
	parts := strings.Split(strings.Trim(url, "/"), "/")
	for i, part := range parts {
		if (part == "p" || part == "reel" || part == "tv") && i+1 < len(parts) {
			return strings.SplitN(parts[i+1], "?", 2)[0]
		}
	}

	return ""
}

// ResolvePost fetches the post JSON and normalizes it into the uniform
// Post shape, mapping HTTP-level failures to the fetcher taxonomy.
func (client *Client) ResolvePost(ctx context.Context, url string) (*fetcher.Post, error) {
	shortcode := shortcodeFromURL(url)
	if shortcode == "" {
		return nil, fmt.Errorf("%w: could not extract shortcode from %s", fetcher.ErrInvalidURL, url)
	}

	endpoint := fmt.Sprintf(postInfoTemplate, client.config.BaseURL, shortcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrDownloadFailed, err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	for _, cookie := range client.cookies {
		req.AddCookie(cookie)
	}

	resp, err := client.httpC.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: instagram returned %d for %s", fetcher.ErrPrivatePost, resp.StatusCode, shortcode)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: instagram returned 404 for %s", fetcher.ErrPostNotFound, shortcode)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: instagram rate limited the request for %s", fetcher.ErrPostNotFound, shortcode)
	default:
		return nil, fmt.Errorf("%w: instagram returned unexpected status %d", fetcher.ErrDownloadFailed, resp.StatusCode)
	}

	var info postInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: malformed post payload: %v", fetcher.ErrDownloadFailed, err)
	}
	if len(info.Items) == 0 {
		// A 200 with an empty items list is how the endpoint reports
		// login-gated content to anonymous clients.
		return nil, fmt.Errorf("%w: post payload for %s is empty", fetcher.ErrPrivatePost, shortcode)
	}

	return client.normalize(shortcode, &info.Items[0])
}

func (client *Client) normalize(shortcode string, item *postItem) (*fetcher.Post, error) {
	post := &fetcher.Post{
		ID:        shortcode,
		Platform:  fetcher.PlatformInstagram,
		Shortcode: shortcode,
		Author:    item.User.Username,
	}
	// An absent taken_at must stay zero so cached reads fall back to the
	// file's modification time rather than reporting the epoch.
	if item.TakenAt > 0 {
		post.PostedAt = time.Unix(item.TakenAt, 0)
	}
	if post.Author == "" {
		post.Author = "unknown"
	}
	if item.Caption != nil {
		post.Caption = item.Caption.Text
	}

	switch item.MediaType {
	case mediaTypeVideo:
		if len(item.VideoVersions) == 0 {
			return nil, fmt.Errorf("%w: video post carries no video versions", fetcher.ErrDownloadFailed)
		}
		post.Kind = fetcher.KindVideo
		post.Video = &httpSource{url: item.VideoVersions[0].URL, client: client.httpC}

	case mediaTypeImage:
		if len(item.ImageVersions.Candidates) == 0 {
			return nil, fmt.Errorf("%w: image post carries no image candidates", fetcher.ErrDownloadFailed)
		}
		post.Kind = fetcher.KindImage
		post.ImageURLs = []string{item.ImageVersions.Candidates[0].URL}

	case mediaTypeCarousel:
		post.Kind = fetcher.KindCarousel
		for _, slide := range item.CarouselMedia {
			// Video slides contribute their poster frame; the carousel is
			// normalized to a slideshow regardless of slide types.
			if len(slide.ImageVersions.Candidates) > 0 {
				post.ImageURLs = append(post.ImageURLs, slide.ImageVersions.Candidates[0].URL)
			}
		}
		if len(post.ImageURLs) == 0 {
			return nil, fmt.Errorf("%w: carousel post carries no renderable slides", fetcher.ErrDownloadFailed)
		}

	default:
		return nil, fmt.Errorf("%w: unrecognised media type %d", fetcher.ErrDownloadFailed, item.MediaType)
	}

	return post, nil
}

// httpSource streams post bytes straight from the CDN URL resolved in
// the post payload.
type httpSource struct {
	url    string
	client *http.Client
}

func (source *httpSource) Open(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := source.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrDownloadFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: media endpoint returned status %d", fetcher.ErrDownloadFailed, resp.StatusCode)
	}

	return resp.Body, nil
}

var _ fetcher.Fetcher = (*Client)(nil)
