package config

import "time"

// DefaultIngestURL is the primary RTMP ingest base for YouTube Live.
const DefaultIngestURL = "rtmp://a.rtmp.youtube.com/live2"

// Settings is the process configuration shared by the server and the CLI.
type Settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL  string
	MediaDir     string
	VideoUploads bool

	FFmpegPath  string
	FFprobePath string
	IngestURL   string
	StopGrace   time.Duration

	ProvisionTimeout  time.Duration
	HeartbeatInterval time.Duration
	StatusEventLimit  int
	ScheduleDelay     time.Duration

	OAuth OAuthSettings
}

// OAuthSettings configures the OAuth client used to authorize channels.
// Client credentials are only ever read from the environment.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// Configured reports whether a client id and secret are present.
func (o OAuthSettings) Configured() bool {
	return o.ClientID != "" && o.ClientSecret != ""
}

// FromEnv reads Settings from the environment, applying defaults.
// Call Load first to pick up a .env file.
func FromEnv() Settings {
	return Settings{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		DatabaseURL:  GetEnv("DATABASE_URL", "streaming_logs.db"),
		MediaDir:     GetEnv("MEDIA_DIR", "."),
		VideoUploads: GetEnvBool("VIDEO_UPLOADS", true),

		FFmpegPath:  GetEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: GetEnv("FFPROBE_PATH", "ffprobe"),
		IngestURL:   GetEnv("INGEST_URL", DefaultIngestURL),
		StopGrace:   GetEnvDuration("ENCODER_STOP_GRACE", 5*time.Second),

		ProvisionTimeout:  GetEnvDuration("PROVISION_TIMEOUT", 30*time.Second),
		HeartbeatInterval: GetEnvDuration("HEARTBEAT_INTERVAL", time.Minute),
		StatusEventLimit:  GetEnvInt("STATUS_EVENT_LIMIT", 15),
		ScheduleDelay:     GetEnvDuration("SCHEDULE_DELAY", 10*time.Second),

		OAuth: OAuthSettings{
			ClientID:     GetEnv("YOUTUBE_CLIENT_ID", ""),
			ClientSecret: GetEnv("YOUTUBE_CLIENT_SECRET", ""),
			RedirectURL:  GetEnv("YOUTUBE_REDIRECT_URL", "http://localhost:8080/auth/callback"),
			AuthURL:      GetEnv("OAUTH_AUTH_URL", ""),
			TokenURL:     GetEnv("OAUTH_TOKEN_URL", ""),
		},
	}
}
