package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Venue scoring system (agent side)
	ScoringHost string // host:port of the FTC scoring system
	EventCode   string // event/session code for the stream subscription
	IngestURL   string // base URL of the cloud ingestion API

	// Ingestion API (cloud side)
	APIHost string
	APIPort int

	// Shared secrets
	AgentAPIKey string
	AdminAPIKey string

	// Discord
	DiscordToken     string
	DiscordServerID  int64
	DiscordChannelID int64

	// Storage
	SchedulePath  string
	DiagStorePath string

	// Queueing
	Lookahead     int
	TemplatesPath string

	// Rate limits
	RoleDeletePace time.Duration

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ScoringHost: envStr("SCORING_HOST", "localhost:80"),
		EventCode:   envStr("SCORING_EVENT_CODE", ""),
		IngestURL:   envStr("INGEST_URL", "http://localhost:8080"),

		APIHost: envStr("API_HOST", "0.0.0.0"),
		APIPort: envInt("API_PORT", 8080),

		AgentAPIKey: envStr("AGENT_API_KEY", ""),
		AdminAPIKey: envStr("ADMIN_API_KEY", ""),

		DiscordToken:     envStr("DISCORD_TOKEN", ""),
		DiscordServerID:  envInt64("DISCORD_SERVER_ID", 0),
		DiscordChannelID: envInt64("DISCORD_NOTIFICATION_CHANNEL_ID", 0),

		SchedulePath:  envStr("SCHEDULE_DB_PATH", "data/schedule.db"),
		DiagStorePath: envStr("DIAG_DB_PATH", "data/diag.db"),

		// Teams are pinged for the match after the one on deck plus the
		// two behind it, so pits have time to queue.
		Lookahead:     envInt("QUEUE_LOOKAHEAD", 3),
		TemplatesPath: envStr("TEMPLATES_PATH", ""),

		RoleDeletePace: time.Duration(envInt("ROLE_DELETE_PACE_MS", 500)) * time.Millisecond,

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
