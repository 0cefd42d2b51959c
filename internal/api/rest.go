package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/hbomb79/Iris/internal/api/downloads"
	"github.com/hbomb79/Iris/internal/api/system"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr    string
		MediaDir    string
		CorsOrigins []string
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its
	// sole responsibility is to create the routes Iris exposes and serve
	// the cached media directory as static files.
	RestGateway struct {
		config              RestConfig
		ec                  *echo.Echo
		downloadsController controller
		systemController    controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all
// the routes defined by the various controllers.
func NewRestGateway(
	config RestConfig,
	downloadService downloads.Service,
	reporter system.HealthReporter,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	gateway := &RestGateway{
		config:              config,
		ec:                  ec,
		downloadsController: downloads.New(downloadService),
		systemController:    system.New(reporter),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	if len(config.CorsOrigins) > 0 {
		ec.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: config.CorsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		}))
	}
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "iris"})
	})

	ec.Static("/static", config.MediaDir)

	download := ec.Group("/api/download")
	gateway.downloadsController.SetRoutes(download)

	health := ec.Group("/api/health")
	gateway.systemController.SetRoutes(health)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Report the cancellation cause if any; parent context cancellation
	// is an orderly shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
