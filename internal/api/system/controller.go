package system

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type (
	// HealthDto reports the liveness of the service and the state of its
	// optional dependencies. A missing ffmpeg or an unhealthy backend
	// degrades the service but does not take it down.
	HealthDto struct {
		Status          string          `json:"status"`
		FfmpegAvailable bool            `json:"ffmpeg_available"`
		Backends        map[string]bool `json:"backends"`
		Cleanup         string          `json:"cleanup"`
	}

	HealthReporter interface {
		FfmpegAvailable() bool
		FetcherHealth() map[string]bool
		CleanupState() string
	}

	Controller struct {
		reporter HealthReporter
	}
)

func New(reporter HealthReporter) *Controller {
	return &Controller{reporter: reporter}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.health)
}

func (controller *Controller) health(ec echo.Context) error {
	backends := controller.reporter.FetcherHealth()
	ffmpegOk := controller.reporter.FfmpegAvailable()

	status := "ok"
	if !ffmpegOk {
		status = "degraded"
	}
	for _, healthy := range backends {
		if !healthy {
			status = "degraded"
		}
	}

	return ec.JSON(http.StatusOK, HealthDto{
		Status:          status,
		FfmpegAvailable: ffmpegOk,
		Backends:        backends,
		Cleanup:         controller.reporter.CleanupState(),
	})
}
