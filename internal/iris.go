package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hbomb79/Iris/internal/api"
	"github.com/hbomb79/Iris/internal/cache"
	"github.com/hbomb79/Iris/internal/cleanup"
	"github.com/hbomb79/Iris/internal/fetcher"
	"github.com/hbomb79/Iris/internal/fetcher/instagram"
	"github.com/hbomb79/Iris/internal/fetcher/tiktok"
	"github.com/hbomb79/Iris/internal/ffmpeg"
	"github.com/hbomb79/Iris/pkg/logger"
	pkgSync "github.com/hbomb79/Iris/pkg/sync"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	CleanupService interface {
		RunnableService
		State() cleanup.State
	}
)

// irisImpl represents the top-level object for the server, and is
// responsible for initialising the media store, platform fetchers, the
// audio extractor and the services which tie them together.
type irisImpl struct {
	config IrisConfig

	store     *cache.Store
	extractor *ffmpeg.Extractor

	downloadService *fetcher.Service
	cleanupService  CleanupService
	restGateway     RunnableService

	healthProbes pkgSync.TypedSyncMap[string, func() bool]
}

func New(config IrisConfig) *irisImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Iris services using config: %#v\n", config)
	iris := &irisImpl{config: config}

	store, err := cache.NewStore(config.MediaDirPath)
	if err != nil {
		panic(fmt.Sprintf("failed to construct media store due to error: %s", err.Error()))
	}
	iris.store = store

	iris.extractor = ffmpeg.NewExtractor(ffmpeg.Config{
		FfmpegBinPath:  config.Ffmpeg.FfmpegBinPath,
		FfprobeBinPath: config.Ffmpeg.FfprobeBinPath,
		Bitrate:        config.Audio.Bitrate,
		SampleRate:     config.Audio.SampleRate,
		Channels:       config.Audio.Channels,
		Workers:        config.Ffmpeg.ConversionWorkers,
	})

	timeout := time.Second * time.Duration(config.TimeoutSeconds)
	instagramClient := instagram.New(instagram.Config{
		Username:        config.Instagram.Username,
		SessionFilePath: config.Instagram.SessionFilePath,
		Timeout:         timeout,
	})
	tiktokClient := tiktok.New(tiktok.Config{
		BinPath: config.Tiktok.YtdlpBinPath,
		Timeout: timeout,
	})

	iris.downloadService = fetcher.NewService(fetcher.ServiceConfig{
		BaseURL:         config.BaseURL,
		MaxVideoFiles:   config.Retention.MaxVideoFiles,
		MaxAudioFiles:   config.Retention.MaxAudioFiles,
		AutoTrimAudio:   config.Retention.AutoCleanupAudio,
		DownloadTimeout: timeout,
	}, store, iris.extractor, instagramClient, tiktokClient)

	iris.cleanupService = cleanup.New(cleanup.Config{
		MediaDirPath:  config.MediaDirPath,
		Interval:      time.Second * time.Duration(config.Retention.CleanupIntervalSec),
		MaxVideoFiles: config.Retention.MaxVideoFiles,
		MaxAudioFiles: config.Retention.MaxAudioFiles,
		Enabled:       config.Retention.ScheduledCleanup,
	}, store)

	for _, f := range iris.downloadService.Fetchers() {
		iris.healthProbes.Store(string(f.Platform()), f.Healthy)
	}

	iris.restGateway = api.NewRestGateway(api.RestConfig{
		HostAddr:    config.ApiHostAddr,
		MediaDir:    config.MediaDirPath,
		CorsOrigins: config.CorsOriginList(),
	}, iris.downloadService, iris)

	return iris
}

// Run will start all of Iris by bringing up the REST gateway and the
// cleanup service. This function will not return until Iris is stopped.
// To stop Iris, the provided context must be cancelled. Errors from
// which Iris cannot recover will also cause it to stop.
func (iris *irisImpl) Run(parent context.Context) error {
	defer iris.extractor.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	wg := &sync.WaitGroup{}
	iris.spawnAsyncService(ctx, wg, iris.cleanupService, "cleanup-service", crashHandler)
	iris.spawnAsyncService(ctx, wg, iris.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Iris services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the Iris service waitgroup is updated correctly.
func (iris *irisImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

// The struct itself acts as the health reporter handed to the REST
// gateway's system controller.

func (iris *irisImpl) FfmpegAvailable() bool { return iris.extractor.Available() }

func (iris *irisImpl) FetcherHealth() map[string]bool {
	health := make(map[string]bool)
	iris.healthProbes.Range(func(platform string, probe func() bool) bool {
		health[platform] = probe()
		return true
	})

	return health
}

func (iris *irisImpl) CleanupState() string { return iris.cleanupService.State().String() }
