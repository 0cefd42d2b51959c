package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/floostack/transcoder/ffmpeg"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/hbomb79/Iris/pkg/worker"
)

var log = logger.Get("FFmpeg")

type Config struct {
	FfmpegBinPath  string
	FfprobeBinPath string
	Bitrate        string
	SampleRate     int
	Channels       int
	Workers        int
}

// Extractor converts cached videos to MP3 audio tracks. All ffmpeg
// subprocesses are funnelled through a bounded worker pool so that a
// burst of requests cannot fork an unbounded number of encoders.
type Extractor struct {
	config Config
	pool   *worker.Pool
}

func NewExtractor(config Config) *Extractor {
	if config.FfmpegBinPath == "" {
		config.FfmpegBinPath = "ffmpeg"
	}
	if config.FfprobeBinPath == "" {
		config.FfprobeBinPath = "ffprobe"
	}
	if config.Workers < 1 {
		config.Workers = 1
	}

	return &Extractor{
		config: config,
		pool:   worker.NewPool("ffmpeg", config.Workers),
	}
}

// Available reports whether the configured ffmpeg binary can be found.
// Extraction is an optional enrichment, so an absent binary degrades the
// service rather than failing it.
func (extractor *Extractor) Available() bool {
	_, err := exec.LookPath(extractor.config.FfmpegBinPath)
	return err == nil
}

// Extract transcodes the audio track of videoPath into an MP3 at
// audioPath. It never returns an error: the boolean reports success and
// the string carries a human-readable reason when it failed. A request
// must complete even when its video has no usable audio.
func (extractor *Extractor) Extract(ctx context.Context, videoPath string, audioPath string) (bool, string) {
	info, err := os.Stat(videoPath)
	if err != nil {
		return false, fmt.Sprintf("video file is missing: %v", err)
	}
	if info.Size() == 0 {
		return false, "video file is empty"
	}

	var (
		ok     bool
		reason string
	)
	scheduleErr := extractor.pool.Schedule(ctx, func() {
		ok, reason = extractor.extract(ctx, videoPath, audioPath)
	})
	if scheduleErr != nil {
		return false, fmt.Sprintf("extraction not scheduled: %v", scheduleErr)
	}

	return ok, reason
}

func (extractor *Extractor) extract(ctx context.Context, videoPath string, audioPath string) (bool, string) {
	skipVideo := true
	overwrite := true
	codec := "libmp3lame"
	bitrate := extractor.config.Bitrate
	rate := extractor.config.SampleRate
	channels := extractor.config.Channels

	opts := &ffmpeg.Options{
		SkipVideo:     &skipVideo,
		Overwrite:     &overwrite,
		AudioCodec:    &codec,
		AudioBitrate:  &bitrate,
		AudioRate:     &rate,
		AudioChannels: &channels,
	}

	trans := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   extractor.config.FfmpegBinPath,
			FfprobeBinPath:  extractor.config.FfprobeBinPath,
		}).
		Input(videoPath).
		Output(audioPath).
		WithContext(&ctx)

	os.MkdirAll(filepath.Dir(audioPath), 0o755)

	progress, err := trans.Start(opts)
	if err != nil {
		os.Remove(audioPath)
		return false, classifyFfmpegError(parseFfmpegError(err))
	}

	// Drain the progress channel; the command has finished once it closes.
	for range progress {
	}

	if info, err := os.Stat(audioPath); err != nil || info.Size() == 0 {
		os.Remove(audioPath)
		return false, "encoder produced no output (likely no audio stream)"
	}

	log.Emit(logger.DEBUG, "Extracted audio %s from %s\n", audioPath, videoPath)
	return true, ""
}

// Close shuts down the worker pool, waiting for in-flight encodes.
func (extractor *Extractor) Close() {
	extractor.pool.Close()
}

func classifyFfmpegError(err error) string {
	message := err.Error()
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "does not contain any stream"),
		strings.Contains(lowered, "output file is empty"):
		return "video has no audio stream"
	case strings.Contains(lowered, "no such file"):
		return "video file is missing"
	default:
		return fmt.Sprintf("ffmpeg failed: %s", message)
	}
}

// parseFfmpegError picks the useful message out of ffmpeg's enormous
// failure output, which leads with pages of build configuration before
// the JSON encoded error we actually care about.
func parseFfmpegError(err error) error {
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if str, ok := exception["string"].(string); ok {
			return errors.New(str)
		}
	}

	return err
}
