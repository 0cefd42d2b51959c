package downloads

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/labstack/echo/v4"
)

type (
	DownloadRequest struct {
		URL string `json:"url"`
	}

	// DownloadDto is the response returned once a post has been fetched
	// and cached. AudioURL is omitted when no audio track could be
	// produced for the post.
	DownloadDto struct {
		Author      string `json:"author"`
		Description string `json:"description"`
		CreatedAt   string `json:"created_at"`
		VideoURL    string `json:"video_url"`
		AudioURL    string `json:"audio_url,omitempty"`
	}

	ErrorDto struct {
		Error     string `json:"error"`
		ErrorCode string `json:"error_code"`
		Details   string `json:"details,omitempty"`
	}

	Service interface {
		Download(ctx context.Context, url string) (*fetcher.Result, error)
	}

	Controller struct {
		service Service
	}
)

var controllerLogger = logger.Get("DownloadsController")

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.download)
}

// download accepts a post URL, delegates the fetch to the download
// service and returns the public URLs of the cached media.
func (controller *Controller) download(ec echo.Context) error {
	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return ec.JSON(http.StatusBadRequest, ErrorDto{
			Error:     "JSON body illegal",
			ErrorCode: "INVALID_URL",
			Details:   err.Error(),
		})
	}
	if request.URL == "" {
		return ec.JSON(http.StatusBadRequest, ErrorDto{
			Error:     "JSON body missing mandatory 'url' field",
			ErrorCode: "INVALID_URL",
		})
	}

	result, err := controller.service.Download(ec.Request().Context(), request.URL)
	if err != nil {
		status, dto := errorToDto(err)
		if status >= http.StatusInternalServerError {
			controllerLogger.Emit(logger.ERROR, "Download of %s failed: %v\n", request.URL, err)
		}

		return ec.JSON(status, dto)
	}

	return ec.JSON(http.StatusOK, DownloadDto{
		Author:      result.Author,
		Description: result.Description,
		CreatedAt:   result.CreatedAt.Format(time.RFC3339),
		VideoURL:    result.VideoURL,
		AudioURL:    result.AudioURL,
	})
}

// errorToDto maps the fetcher error taxonomy onto HTTP statuses and
// stable error codes clients can branch on.
func errorToDto(err error) (int, ErrorDto) {
	switch {
	case errors.Is(err, fetcher.ErrInvalidURL):
		return http.StatusBadRequest, ErrorDto{
			Error:     "URL is not a supported Instagram or TikTok post",
			ErrorCode: "INVALID_URL",
			Details:   err.Error(),
		}
	case errors.Is(err, fetcher.ErrPrivatePost):
		return http.StatusForbidden, ErrorDto{
			Error:     "post belongs to a private account",
			ErrorCode: "PRIVATE_ACCOUNT",
			Details:   err.Error(),
		}
	case errors.Is(err, fetcher.ErrPostNotFound):
		return http.StatusNotFound, ErrorDto{
			Error:     "post does not exist or has been removed",
			ErrorCode: "POST_NOT_FOUND",
			Details:   err.Error(),
		}
	case errors.Is(err, fetcher.ErrTimeout):
		return http.StatusRequestTimeout, ErrorDto{
			Error:     "download did not complete in time",
			ErrorCode: "TIMEOUT",
			Details:   err.Error(),
		}
	default:
		return http.StatusBadGateway, ErrorDto{
			Error:     "download failed",
			ErrorCode: "DOWNLOAD_ERROR",
			Details:   err.Error(),
		}
	}
}
