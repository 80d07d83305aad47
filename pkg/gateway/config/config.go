// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/carevox/carevox/pkg/core/types"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Conversation state store (Redis). Empty address selects the in-memory
	// store, for development only.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// Escalation repository (SQLite).
	EscalationDBPath string

	// Conversation timers.
	SessionTimeout    time.Duration
	WarningTimeouts   []time.Duration
	GracePeriod       time.Duration
	ActiveTTL         time.Duration
	PostCallRetention time.Duration

	// Escalation SLA deadlines by priority.
	SLATimeouts map[types.Priority]time.Duration

	// Staff hub sweeps.
	StaffHeartbeatTimeout time.Duration
	StaffSweepInterval    time.Duration
	StaffQueueMaxAttempts int
	StaffQueueMaxAge      time.Duration

	// NLU classifier. Empty key selects the keyword fallback.
	GeminiAPIKey string
	GeminiModel  string

	MaxBodyBytes int64

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration

	// Staff WebSocket.
	WSWriteTimeout time.Duration
	WSReadLimit    int64
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                  envOr("CAREVOX_ADDR", ":8080"),
		AuthMode:              AuthMode(envOr("CAREVOX_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:               make(map[string]struct{}),
		CORSAllowedOrigins:    make(map[string]struct{}),
		RedisAddr:             envOr("CAREVOX_REDIS_ADDR", ""),
		RedisPassword:         os.Getenv("CAREVOX_REDIS_PASSWORD"),
		RedisDB:               envIntOr("CAREVOX_REDIS_DB", 0),
		RedisPrefix:           envOr("CAREVOX_REDIS_PREFIX", "carevox:"),
		EscalationDBPath:      envOr("CAREVOX_ESCALATION_DB_PATH", "carevox.db"),
		SessionTimeout:        envDurationOr("CAREVOX_SESSION_TIMEOUT", 10*time.Minute),
		GracePeriod:           envDurationOr("CAREVOX_GRACE_PERIOD", 30*time.Second),
		ActiveTTL:             envDurationOr("CAREVOX_ACTIVE_TTL", time.Hour),
		PostCallRetention:     envDurationOr("CAREVOX_POST_CALL_RETENTION", 7*24*time.Hour),
		StaffHeartbeatTimeout: envDurationOr("CAREVOX_STAFF_HEARTBEAT_TIMEOUT", 60*time.Second),
		StaffSweepInterval:    envDurationOr("CAREVOX_STAFF_SWEEP_INTERVAL", 30*time.Second),
		StaffQueueMaxAttempts: envIntOr("CAREVOX_STAFF_QUEUE_MAX_ATTEMPTS", 3),
		StaffQueueMaxAge:      envDurationOr("CAREVOX_STAFF_QUEUE_MAX_AGE", time.Hour),
		GeminiAPIKey:          os.Getenv("CAREVOX_GEMINI_API_KEY"),
		GeminiModel:           envOr("CAREVOX_GEMINI_MODEL", ""),
		MaxBodyBytes:          envInt64Or("CAREVOX_MAX_BODY_BYTES", 1<<20), // 1 MiB
		ReadHeaderTimeout:     envDurationOr("CAREVOX_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:           envDurationOr("CAREVOX_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:   envDurationOr("CAREVOX_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
		WSWriteTimeout:        envDurationOr("CAREVOX_WS_WRITE_TIMEOUT", 10*time.Second),
		WSReadLimit:           envInt64Or("CAREVOX_WS_READ_LIMIT", 64*1024),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("CAREVOX_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("CAREVOX_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("CAREVOX_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	for _, raw := range splitCSV(os.Getenv("CAREVOX_WARNING_TIMEOUTS")) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("CAREVOX_WARNING_TIMEOUTS entry %q is not a duration", raw)
		}
		cfg.WarningTimeouts = append(cfg.WarningTimeouts, d)
	}
	if len(cfg.WarningTimeouts) == 0 {
		cfg.WarningTimeouts = []time.Duration{cfg.SessionTimeout * 2 / 3}
	}

	cfg.SLATimeouts = map[types.Priority]time.Duration{
		types.PriorityCritical: envDurationOr("CAREVOX_SLA_CRITICAL", 2*time.Minute),
		types.PriorityHigh:     envDurationOr("CAREVOX_SLA_HIGH", 5*time.Minute),
		types.PriorityNormal:   envDurationOr("CAREVOX_SLA_NORMAL", 15*time.Minute),
		types.PriorityLow:      envDurationOr("CAREVOX_SLA_LOW", 30*time.Minute),
	}

	if cfg.SessionTimeout <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_SESSION_TIMEOUT must be > 0")
	}
	for _, w := range cfg.WarningTimeouts {
		if w <= 0 || w >= cfg.SessionTimeout {
			return Config{}, fmt.Errorf("CAREVOX_WARNING_TIMEOUTS entries must be positive and less than CAREVOX_SESSION_TIMEOUT")
		}
	}
	if cfg.GracePeriod <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_GRACE_PERIOD must be > 0")
	}
	if cfg.ActiveTTL <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_ACTIVE_TTL must be > 0")
	}
	if cfg.PostCallRetention <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_POST_CALL_RETENTION must be > 0")
	}
	for p, d := range cfg.SLATimeouts {
		if d <= 0 {
			return Config{}, fmt.Errorf("SLA timeout for %s must be > 0", p)
		}
	}
	if cfg.StaffHeartbeatTimeout <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_STAFF_HEARTBEAT_TIMEOUT must be > 0")
	}
	if cfg.StaffSweepInterval <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_STAFF_SWEEP_INTERVAL must be > 0")
	}
	if cfg.StaffQueueMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_STAFF_QUEUE_MAX_ATTEMPTS must be > 0")
	}
	if cfg.StaffQueueMaxAge <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_STAFF_QUEUE_MAX_AGE must be > 0")
	}
	if strings.TrimSpace(cfg.EscalationDBPath) == "" {
		return Config{}, fmt.Errorf("CAREVOX_ESCALATION_DB_PATH must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_MAX_BODY_BYTES must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadLimit <= 0 {
		return Config{}, fmt.Errorf("CAREVOX_WS_READ_LIMIT must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("CAREVOX_API_KEYS must be set when CAREVOX_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
