// Package config reads service settings from the environment and detector
// tunables from an optional JSON file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vigil/internal/auth"
)

// Config holds the process settings.
type Config struct {
	HTTPAddr string
	LogLevel string
	DBPath   string // empty disables history

	SessionTTL   time.Duration
	SessionSweep time.Duration
	TargetFPS    int

	AnalyzerURL        string
	AnalyzerGRPC       string
	AnalyzerConfidence float64
	STUNURLs           []string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	TelegramBotToken string
	TelegramChatID   string
	TelegramCooldown time.Duration

	MaxUploadBytes  int64
	MaxVideoSeconds float64
	VideoTimeout    time.Duration
	VideoGrace      time.Duration
	VideoWorkers    int

	TuningFile string

	Auth auth.Config
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through lookup. Unset variables take
// their defaults; malformed ones are reported together.
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	e := env{lookup: lookup}
	cfg := &Config{
		HTTPAddr: e.str("VIGIL_HTTP_ADDR", ":8080"),
		LogLevel: e.str("VIGIL_LOG_LEVEL", "info"),
		DBPath:   e.optional("VIGIL_DB_PATH", "vigil.db"),

		SessionTTL:   e.duration("VIGIL_SESSION_TTL", 60*time.Second),
		SessionSweep: e.duration("VIGIL_SESSION_SWEEP", 15*time.Second),
		TargetFPS:    e.int("VIGIL_TARGET_FPS", 15),

		AnalyzerURL:        e.str("VIGIL_ANALYZER_URL", ""),
		AnalyzerGRPC:       e.str("VIGIL_ANALYZER_GRPC", ""),
		AnalyzerConfidence: e.float("VIGIL_ANALYZER_CONFIDENCE", 0.5),
		STUNURLs:           e.list("VIGIL_STUN_URLS", []string{"stun:stun.l.google.com:19302"}),

		MQTTBroker:   e.str("VIGIL_MQTT_BROKER", ""),
		MQTTTopic:    e.str("VIGIL_MQTT_TOPIC", "vigil/alerts"),
		MQTTClientID: e.str("VIGIL_MQTT_CLIENT_ID", "vigil"),
		MQTTUsername: e.str("VIGIL_MQTT_USERNAME", ""),
		MQTTPassword: e.str("VIGIL_MQTT_PASSWORD", ""),

		TelegramBotToken: e.str("VIGIL_TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   e.str("VIGIL_TELEGRAM_CHAT_ID", ""),
		TelegramCooldown: e.duration("VIGIL_TELEGRAM_COOLDOWN", 30*time.Second),

		MaxUploadBytes:  int64(e.int("VIGIL_MAX_UPLOAD_BYTES", 50<<20)),
		MaxVideoSeconds: e.float("VIGIL_MAX_VIDEO_SECONDS", 120),
		VideoTimeout:    e.duration("VIGIL_VIDEO_TIMEOUT", 30*time.Second),
		VideoGrace:      e.duration("VIGIL_VIDEO_GRACE", 2*time.Second),
		VideoWorkers:    e.int("VIGIL_VIDEO_WORKERS", 2),

		TuningFile: e.str("VIGIL_TUNING_FILE", ""),

		Auth: auth.Config{
			Enabled:   e.bool("AUTH_ENABLED", false),
			Username:  e.str("AUTH_USERNAME", "admin"),
			Password:  e.str("AUTH_PASSWORD", ""),
			JWTSecret: e.str("JWT_SECRET", ""),
			JWTExpiry: e.duration("JWT_EXPIRY", 24*time.Hour),
		},
	}
	if len(e.errs) > 0 {
		return nil, fmt.Errorf("invalid environment: %s", strings.Join(e.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.SessionTTL <= 0:
		return fmt.Errorf("VIGIL_SESSION_TTL must be positive")
	case c.SessionSweep <= 0:
		return fmt.Errorf("VIGIL_SESSION_SWEEP must be positive")
	case c.TargetFPS < 1 || c.TargetFPS > 60:
		return fmt.Errorf("VIGIL_TARGET_FPS must be in [1, 60], got %d", c.TargetFPS)
	case c.AnalyzerConfidence < 0 || c.AnalyzerConfidence > 1:
		return fmt.Errorf("VIGIL_ANALYZER_CONFIDENCE must be in [0, 1], got %v", c.AnalyzerConfidence)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("VIGIL_MAX_UPLOAD_BYTES must be positive")
	case c.VideoTimeout <= 0:
		return fmt.Errorf("VIGIL_VIDEO_TIMEOUT must be positive")
	case c.VideoGrace < 0:
		return fmt.Errorf("VIGIL_VIDEO_GRACE must not be negative")
	case c.VideoWorkers < 1:
		return fmt.Errorf("VIGIL_VIDEO_WORKERS must be at least 1")
	case (c.TelegramBotToken == "") != (c.TelegramChatID == ""):
		return fmt.Errorf("VIGIL_TELEGRAM_BOT_TOKEN and VIGIL_TELEGRAM_CHAT_ID must be set together")
	case c.Auth.Enabled && c.Auth.Password == "":
		return fmt.Errorf("AUTH_PASSWORD is required when AUTH_ENABLED=true")
	}
	return nil
}

type env struct {
	lookup func(string) (string, bool)
	errs   []string
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

// optional keeps an explicitly empty value, letting operators switch a
// feature off.
func (e *env) optional(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *env) int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a number", key, v))
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

// duration accepts Go duration strings or a bare number of seconds.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func (e *env) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
