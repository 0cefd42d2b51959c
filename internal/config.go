package internal

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

// IrisConfig is the struct used to contain the various user config
// supplied by file and/or environment. It is loaded once at process
// entry and handed to iris.New; nothing re-reads the environment later.
type IrisConfig struct {
	ApiHostAddr    string `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0:8994"`
	BaseURL        string `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8994" validate:"url"`
	MediaDirPath   string `yaml:"media_dir" env:"MEDIA_DIR" env-default:"media"`
	CorsOrigins    string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"http://localhost,http://127.0.0.1"`
	TimeoutSeconds int    `yaml:"download_timeout_seconds" env:"DOWNLOAD_TIMEOUT_SECONDS" env-default:"60" validate:"min=1"`

	Retention RetentionConfig `yaml:"retention"`
	Audio     AudioConfig     `yaml:"audio"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ffmpeg    FfmpegConfig    `yaml:"ffmpeg"`
	Instagram InstagramConfig `yaml:"instagram"`
	Tiktok    TiktokConfig    `yaml:"tiktok"`
}

// RetentionConfig bounds the on-disk media cache. Trimming keeps the
// newest MaxVideoFiles/MaxAudioFiles by modification time.
type RetentionConfig struct {
	MaxVideoFiles      int  `yaml:"max_video_files" env:"MAX_VIDEO_FILES" env-default:"10" validate:"min=1"`
	MaxAudioFiles      int  `yaml:"max_audio_files" env:"MAX_AUDIO_FILES" env-default:"10" validate:"min=1"`
	CleanupIntervalSec int  `yaml:"cleanup_interval_seconds" env:"CLEANUP_INTERVAL_SECONDS" env-default:"3600" validate:"min=60"`
	AutoCleanupAudio   bool `yaml:"auto_cleanup_after_extraction" env:"AUTO_CLEANUP_AFTER_EXTRACTION" env-default:"true"`
	ScheduledCleanup   bool `yaml:"enable_scheduled_cleanup" env:"ENABLE_SCHEDULED_CLEANUP" env-default:"true"`
}

// AudioConfig holds the mp3 encoding parameters. They are validated once
// here, not per extraction call.
type AudioConfig struct {
	Bitrate    string `yaml:"bitrate" env:"AUDIO_BITRATE" env-default:"192k" validate:"required"`
	SampleRate int    `yaml:"sample_rate" env:"AUDIO_SAMPLE_RATE" env-default:"44100" validate:"oneof=22050 44100 48000"`
	Channels   int    `yaml:"channels" env:"AUDIO_CHANNELS" env-default:"2" validate:"oneof=1 2"`
}

type LoggingConfig struct {
	DirPath string `yaml:"log_dir" env:"LOG_DIR" env-default:"logs"`
	Level   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
	Console bool   `yaml:"console" env:"ENABLE_CONSOLE_LOGGING" env-default:"false"`
	File    bool   `yaml:"file" env:"ENABLE_FILE_LOGGING" env-default:"true"`
}

type FfmpegConfig struct {
	FfmpegBinPath     string `yaml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"ffmpeg"`
	FfprobeBinPath    string `yaml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"ffprobe"`
	ConversionWorkers int    `yaml:"conversion_workers" env:"CONVERSION_WORKERS" env-default:"2" validate:"min=1"`
}

// InstagramConfig carries the optional pre-established session used to
// access private/restricted content. Absence of a session degrades to
// unauthenticated access.
type InstagramConfig struct {
	Username        string `yaml:"username" env:"INSTAGRAM_USERNAME"`
	SessionFilePath string `yaml:"session_file" env:"SESSION_FILE"`
}

type TiktokConfig struct {
	YtdlpBinPath string `yaml:"ytdlp_bin" env:"YTDLP_BIN" env-default:"yt-dlp"`
}

// LoadFromFile populates the config from a YAML file, with environment
// variables taking precedence per cleanenv semantics.
func (config *IrisConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return config.finalise()
}

// LoadFromEnv populates the config purely from the process environment.
func (config *IrisConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config.finalise()
}

func (config *IrisConfig) finalise() error {
	for _, path := range []*string{&config.MediaDirPath, &config.Logging.DirPath, &config.Instagram.SessionFilePath} {
		if *path == "" {
			continue
		}
		expanded, err := homedir.Expand(*path)
		if err != nil {
			return fmt.Errorf("cannot expand configured path %s: %w", *path, err)
		}
		*path = expanded
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	return nil
}

// CorsOriginList splits the comma-separated CORS_ORIGINS value.
func (config *IrisConfig) CorsOriginList() []string {
	parts := strings.Split(config.CorsOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	return origins
}

// Summary renders a single-line overview of the loaded configuration,
// emitted at startup for debugging.
func (config *IrisConfig) Summary() string {
	return fmt.Sprintf(
		"host=%s base_url=%s media_dir=%s max_video=%d max_audio=%d cleanup_interval=%ds scheduled_cleanup=%t audio=%s/%dHz/%dch workers=%d",
		config.ApiHostAddr, config.BaseURL, config.MediaDirPath,
		config.Retention.MaxVideoFiles, config.Retention.MaxAudioFiles,
		config.Retention.CleanupIntervalSec, config.Retention.ScheduledCleanup,
		config.Audio.Bitrate, config.Audio.SampleRate, config.Audio.Channels,
		config.Ffmpeg.ConversionWorkers,
	)
}
