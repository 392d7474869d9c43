package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the configuration for the meeting bot.
type Config struct {
	// Meeting identity
	Platform     string
	MeetingID    string
	MeetingURL   string
	BotName      string
	ConnectionID string

	// Transcription backend
	TranscriptionURL string
	Token            string
	Language         string
	Task             string
	ReconnectDelay   time.Duration

	// Lifecycle timing
	JoinRetryInterval     time.Duration
	JoinBudget            time.Duration
	AdmissionPollInterval time.Duration
	AdmissionTimeout      time.Duration
	SpeakerSampleInterval time.Duration

	// Audio capture
	CaptureDevice string
	FrameSamples  int

	// Recording artifact
	RecordingDir   string
	UploadEndpoint string
	UploadToken    string

	// Redis control plane / chat log
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ChatLogEnabled bool

	// Observability
	MetricsAddr string
	LogLevel    string
}

// Load loads configuration from environment variables and flags.
func Load() (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.Platform = "google_meet"
	cfg.BotName = "Coralie Notetaker"
	cfg.Language = "en"
	cfg.Task = "transcribe"
	cfg.ReconnectDelay = 2 * time.Second
	cfg.JoinRetryInterval = 5 * time.Second
	cfg.JoinBudget = 2 * time.Minute
	cfg.AdmissionPollInterval = 3 * time.Second
	cfg.AdmissionTimeout = 5 * time.Minute
	cfg.SpeakerSampleInterval = time.Second
	cfg.CaptureDevice = "default"
	cfg.FrameSamples = 1600 // 100ms at 16kHz
	cfg.RecordingDir = "./recordings"
	cfg.LogLevel = "info"

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Load from environment
	cfg.Platform = getEnv("BOT_PLATFORM", cfg.Platform)
	cfg.MeetingID = getEnv("BOT_MEETING_ID", "")
	cfg.MeetingURL = getEnv("BOT_MEETING_URL", "")
	cfg.BotName = getEnv("BOT_NAME", cfg.BotName)
	cfg.ConnectionID = getEnv("BOT_CONNECTION_ID", "")
	cfg.TranscriptionURL = getEnv("TRANSCRIPTION_URL", "")
	cfg.Token = getEnv("TRANSCRIPTION_TOKEN", "")
	cfg.Language = getEnv("TRANSCRIPTION_LANGUAGE", cfg.Language)
	cfg.Task = getEnv("TRANSCRIPTION_TASK", cfg.Task)
	cfg.CaptureDevice = getEnv("BOT_CAPTURE_DEVICE", cfg.CaptureDevice)
	cfg.RecordingDir = getEnv("BOT_RECORDING_DIR", cfg.RecordingDir)
	cfg.UploadEndpoint = getEnv("BOT_UPLOAD_ENDPOINT", "")
	cfg.UploadToken = getEnv("BOT_UPLOAD_TOKEN", "")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.MetricsAddr = getEnv("BOT_METRICS_ADDR", "")
	cfg.LogLevel = getEnv("BOT_LOG_LEVEL", cfg.LogLevel)

	if dbStr := getEnv("REDIS_DB", ""); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil && n >= 0 {
			cfg.RedisDB = n
		}
	}
	if chatStr := getEnv("BOT_CHAT_LOG", ""); chatStr != "" {
		if b, err := strconv.ParseBool(chatStr); err == nil {
			cfg.ChatLogEnabled = b
		}
	}
	for env, dst := range map[string]*time.Duration{
		"BOT_RECONNECT_DELAY":     &cfg.ReconnectDelay,
		"BOT_JOIN_RETRY_INTERVAL": &cfg.JoinRetryInterval,
		"BOT_JOIN_BUDGET":         &cfg.JoinBudget,
		"BOT_ADMISSION_INTERVAL":  &cfg.AdmissionPollInterval,
		"BOT_ADMISSION_TIMEOUT":   &cfg.AdmissionTimeout,
		"BOT_SPEAKER_INTERVAL":    &cfg.SpeakerSampleInterval,
	} {
		if s := getEnv(env, ""); s != "" {
			if d, err := time.ParseDuration(s); err == nil {
				*dst = d
			}
		}
	}

	// Override with flags
	flag.StringVar(&cfg.Platform, "platform", cfg.Platform, "Meeting platform identifier")
	flag.StringVar(&cfg.MeetingID, "meeting-id", cfg.MeetingID, "Native meeting identifier")
	flag.StringVar(&cfg.MeetingURL, "meeting-url", cfg.MeetingURL, "Meeting join URL")
	flag.StringVar(&cfg.BotName, "bot-name", cfg.BotName, "Display name used when joining")
	flag.StringVar(&cfg.ConnectionID, "connection-id", cfg.ConnectionID, "Bot connection ID for the command channel")
	flag.StringVar(&cfg.TranscriptionURL, "transcription-url", cfg.TranscriptionURL, "Transcription backend websocket URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "Transcription auth token")
	flag.StringVar(&cfg.Language, "language", cfg.Language, "Transcription language")
	flag.StringVar(&cfg.Task, "task", cfg.Task, "Transcription task (transcribe or translate)")
	flag.StringVar(&cfg.CaptureDevice, "capture-device", cfg.CaptureDevice, "Audio mixer capture device")
	flag.StringVar(&cfg.RecordingDir, "recording-dir", cfg.RecordingDir, "Directory for recording artifacts")
	flag.StringVar(&cfg.UploadEndpoint, "upload-endpoint", cfg.UploadEndpoint, "Recording upload endpoint (optional)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for control commands and chat log (optional)")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (optional)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	flag.BoolVar(&cfg.ChatLogEnabled, "chat-log", cfg.ChatLogEnabled, "Mirror chat messages into the transcript log")
	flag.DurationVar(&cfg.JoinBudget, "join-budget", cfg.JoinBudget, "Wall-clock budget for join retries")
	flag.DurationVar(&cfg.AdmissionTimeout, "admission-timeout", cfg.AdmissionTimeout, "Maximum time to wait for admission")
	flag.Parse()

	// Validate required fields
	if cfg.MeetingURL == "" {
		return nil, fmt.Errorf("BOT_MEETING_URL is required")
	}
	if cfg.MeetingID == "" {
		return nil, fmt.Errorf("BOT_MEETING_ID is required")
	}
	if cfg.TranscriptionURL == "" {
		return nil, fmt.Errorf("TRANSCRIPTION_URL is required")
	}
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("frame size must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
