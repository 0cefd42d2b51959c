package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Image posts are normalised into short MP4 clips so that every cached
// item is served the same way. The synthesis commands below are driven
// through ffmpeg directly as they compose filter graphs the transcoder
// wrapper cannot express.

const (
	slideDurationSeconds  = 3
	silentDurationSeconds = 3
	synthFrameSize        = "1080:1080"
)

// StillClip renders a single image into a short video with a silent
// audio track.
func (extractor *Extractor) StillClip(ctx context.Context, imagePath string, outPath string) error {
	args := []string{
		"-y",
		"-loop", "1",
		"-i", imagePath,
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", fmt.Sprint(slideDurationSeconds),
		"-vf", scalePadFilter(),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}

	return extractor.runSynth(ctx, args, outPath)
}

// Slideshow concatenates a carousel's images into one video, holding
// each frame for a few seconds.
func (extractor *Extractor) Slideshow(ctx context.Context, imagePaths []string, outPath string) error {
	listPath, err := writeConcatList(imagePaths)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-vf", scalePadFilter(),
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		outPath,
	}

	return extractor.runSynth(ctx, args, outPath)
}

// SilentAudio writes a short silent MP3 placeholder, used when a post
// has no real audio track to extract.
func (extractor *Extractor) SilentAudio(ctx context.Context, outPath string) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=channel_layout=stereo:sample_rate=44100",
		"-t", fmt.Sprint(silentDurationSeconds),
		"-c:a", "libmp3lame",
		"-b:a", extractor.config.Bitrate,
		outPath,
	}

	return extractor.runSynth(ctx, args, outPath)
}

func (extractor *Extractor) runSynth(ctx context.Context, args []string, outPath string) error {
	var runErr error
	scheduleErr := extractor.pool.Schedule(ctx, func() {
		cmd := exec.CommandContext(ctx, extractor.config.FfmpegBinPath, args...)
		if output, err := cmd.CombinedOutput(); err != nil {
			os.Remove(outPath)
			runErr = fmt.Errorf("ffmpeg synthesis failed: %v: %s", err, lastLine(output))
		}
	})
	if scheduleErr != nil {
		return scheduleErr
	}
	if runErr != nil {
		return runErr
	}

	if info, err := os.Stat(outPath); err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return fmt.Errorf("ffmpeg synthesis produced no output at %s", outPath)
	}

	return nil
}

// scalePadFilter fits arbitrary image dimensions into a square frame,
// letterboxing rather than cropping. Dimensions are forced even for
// libx264's benefit.
func scalePadFilter() string {
	return fmt.Sprintf(
		"scale=%s:force_original_aspect_ratio=decrease,pad=%s:(ow-iw)/2:(oh-ih)/2:color=black",
		synthFrameSize, synthFrameSize,
	)
}

func writeConcatList(imagePaths []string) (string, error) {
	file, err := os.CreateTemp("", "iris-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("cannot create concat list: %w", err)
	}
	defer file.Close()

	var builder strings.Builder
	for _, path := range imagePaths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		// The concat demuxer treats single quotes as delimiters.
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&builder, "file '%s'\nduration %d\n", escaped, slideDurationSeconds)
	}

	// The demuxer ignores the final duration directive unless the last
	// file is repeated.
	if len(imagePaths) > 0 {
		last, err := filepath.Abs(imagePaths[len(imagePaths)-1])
		if err != nil {
			last = imagePaths[len(imagePaths)-1]
		}
		fmt.Fprintf(&builder, "file '%s'\n", strings.ReplaceAll(last, "'", `'\''`))
	}

	if _, err := file.WriteString(builder.String()); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("cannot write concat list: %w", err)
	}

	return file.Name(), nil
}

func lastLine(output []byte) string {
	trimmed := strings.TrimSpace(string(output))
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		return strings.TrimSpace(trimmed[idx+1:])
	}
	return trimmed
}
