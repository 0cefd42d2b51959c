package cleanup

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("CleanupServ")

type (
	// trimmer is the slice of the media store this service drives. Trim
	// failures are logged inside the store, so the sweep only observes
	// the deleted paths.
	trimmer interface {
		Trim(max int) []string
		TrimAudio(max int) []string
	}

	Config struct {
		MediaDirPath  string
		Interval      time.Duration
		MaxVideoFiles int
		MaxAudioFiles int
		Enabled       bool
	}

	State int32

	// Service enforces the retention limits on the media directory. It
	// sweeps on a fixed interval and additionally whenever the file
	// system reports new files landing in the directory, so the cache
	// cannot drift far over its bounds between ticks.
	Service struct {
		config Config
		store  trimmer
		state  atomic.Int32
	}
)

const (
	Idle State = iota
	Waiting
	Running
	Stopped
)

// File system events within this window of the previous sweep are
// coalesced, so a burst of downloads does not trigger a sweep per file.
const sweepDebounce = time.Second * 5

func (state State) String() string {
	switch state {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

func New(config Config, store trimmer) *Service {
	return &Service{config: config, store: store}
}

// State reports what the service is currently doing, for health checks.
func (service *Service) State() State {
	return State(service.state.Load())
}

// Run is the main entry point of this service. It sweeps immediately,
// then on every tick of the configured interval and on file system
// change events under the media directory. To kill the service, the
// calling code should cancel the context provided.
func (service *Service) Run(ctx context.Context) error {
	defer service.state.Store(int32(Stopped))

	if !service.config.Enabled {
		log.Emit(logger.INFO, "Scheduled cleanup is disabled\n")
		<-ctx.Done()
		return nil
	}

	fsEvents := make(chan notify.EventInfo, 8)
	watchPath := filepath.Join(service.config.MediaDirPath, "...")
	if err := notify.Watch(watchPath, fsEvents, notify.Create, notify.Rename); err != nil {
		log.Emit(logger.WARNING, "Cannot watch media directory (%v); falling back to interval sweeps only\n", err)
	} else {
		defer notify.Stop(fsEvents)
	}

	ticker := time.NewTicker(service.config.Interval)
	defer ticker.Stop()

	service.sweep()

	lastSweep := time.Now()
	for {
		service.state.Store(int32(Waiting))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			service.sweep()
			lastSweep = time.Now()
		case <-fsEvents:
			if time.Since(lastSweep) < sweepDebounce {
				continue
			}
			service.sweep()
			lastSweep = time.Now()
		}
	}
}

func (service *Service) sweep() {
	service.state.Store(int32(Running))

	removedVideos := service.store.Trim(service.config.MaxVideoFiles)
	removedAudio := service.store.TrimAudio(service.config.MaxAudioFiles)
	if total := len(removedVideos) + len(removedAudio); total > 0 {
		log.Emit(logger.INFO, "Sweep removed %d video and %d audio file(s)\n", len(removedVideos), len(removedAudio))
	}
}
