// Package config loads environment-driven configuration once at startup
// (SPEC L1). Load fails fast with a descriptive error when a required key
// is missing or malformed; secret values are never logged.
package config

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const encryptionKeyLen = 32 // AES-256

// RateLimitSetting is a requests-per-minute/burst pair for the token-bucket
// limiter (SPEC §4.1).
type RateLimitSetting struct {
	RequestsPerMinute int
	BurstSize         int
}

// Config is the typed accessor for all recognized options (SPEC §4.1).
type Config struct {
	TransportToken string
	BossUserID     string

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMTimeout  time.Duration

	SheetBaseURL    string
	SheetAPIKey     string
	CalendarBaseURL string
	CalendarAPIKey  string

	LogLevel string

	DBURL   string
	CacheURL string // empty => L3 degrades to in-memory only

	EncryptionKey []byte // nil => plaintext mode (startup warning)

	Timezone string
	Location *time.Location

	WebhookSecret string
	AdminSecret   string

	RateLimitAuthenticated RateLimitSetting
	RateLimitPublic        RateLimitSetting

	BindAddr string
	HomeDir  string

	// StaticAssignees is the third-tier assignee lookup fallback (SPEC
	// §4.8 step 2), loaded from STATIC_ASSIGNEES as "name:role,name:role".
	StaticAssignees map[string]string

	// Fingerprint is a non-secret hash of the loaded configuration, exposed
	// on /health so operators can confirm which config a running process
	// loaded without revealing secret values.
	Fingerprint string
}

// requiredKeys lists environment variables Load refuses to start without.
var requiredKeys = []string{
	"TRANSPORT_TOKEN",
	"BOSS_USER_ID",
	"LLM_API_KEY",
	"DB_URL",
	"WEBHOOK_SECRET",
	"ADMIN_SECRET",
}

// Load reads configuration from the environment (optionally seeded from a
// local .env file, following the teacher's loadDotEnv convenience) and
// validates it. It never returns a zero-value Config alongside a nil error.
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	var missing []string
	for _, k := range requiredKeys {
		if strings.TrimSpace(os.Getenv(k)) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("config: missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	cfg := &Config{
		TransportToken:  os.Getenv("TRANSPORT_TOKEN"),
		BossUserID:      os.Getenv("BOSS_USER_ID"),
		LLMProvider:     envOr("LLM_PROVIDER", "google"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		LLMModel:        envOr("LLM_MODEL", "gpt-4o-mini"),
		SheetBaseURL:    os.Getenv("SHEET_BASE_URL"),
		SheetAPIKey:     os.Getenv("SHEET_API_KEY"),
		CalendarBaseURL: os.Getenv("CALENDAR_BASE_URL"),
		CalendarAPIKey:  os.Getenv("CALENDAR_API_KEY"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		DBURL:           os.Getenv("DB_URL"),
		CacheURL:        os.Getenv("CACHE_URL"),
		Timezone:        envOr("TIMEZONE", "UTC"),
		WebhookSecret:   os.Getenv("WEBHOOK_SECRET"),
		AdminSecret:     os.Getenv("ADMIN_SECRET"),
		BindAddr:        envOr("BIND_ADDR", "127.0.0.1:8080"),
		HomeDir:         envOr("HOME_DIR", defaultHomeDir()),
	}
	cfg.StaticAssignees = parseStaticAssignees(os.Getenv("STATIC_ASSIGNEES"))

	timeoutMS, err := envInt("LLM_TIMEOUT_MS", 15000)
	if err != nil {
		return nil, fmt.Errorf("config: LLM_TIMEOUT_MS: %w", err)
	}
	cfg.LLMTimeout = time.Duration(timeoutMS) * time.Millisecond

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q is not a valid IANA zone: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if keyHex := os.Getenv("ENCRYPTION_KEY"); keyHex != "" {
		key, err := decodeEncryptionKey(keyHex)
		if err != nil {
			return nil, fmt.Errorf("config: ENCRYPTION_KEY: %w", err)
		}
		cfg.EncryptionKey = key
	}

	cfg.RateLimitAuthenticated, err = parseRateLimit("RATE_LIMIT_AUTHENTICATED", RateLimitSetting{RequestsPerMinute: 120, BurstSize: 30})
	if err != nil {
		return nil, fmt.Errorf("config: RATE_LIMIT_AUTHENTICATED: %w", err)
	}
	cfg.RateLimitPublic, err = parseRateLimit("RATE_LIMIT_PUBLIC", RateLimitSetting{RequestsPerMinute: 30, BurstSize: 10})
	if err != nil {
		return nil, fmt.Errorf("config: RATE_LIMIT_PUBLIC: %w", err)
	}

	cfg.Fingerprint = cfg.fingerprint()
	return cfg, nil
}

// PlaintextModeWarning returns a non-empty startup warning when no
// encryption key is configured (SPEC §4.1: "absence disables encryption
// and forces plaintext mode with a startup warning").
func (c *Config) PlaintextModeWarning() string {
	if len(c.EncryptionKey) == 0 {
		return "ENCRYPTION_KEY not set: OAuth tokens will be stored in plaintext"
	}
	return ""
}

// CacheEnabled reports whether L3 has an external cache backend configured.
func (c *Config) CacheEnabled() bool { return c.CacheURL != "" }

// ConstantTimeAdminCheck compares the supplied secret against the
// configured admin secret in constant time (SPEC §4.1, §8 property 9).
func (c *Config) ConstantTimeAdminCheck(supplied string) bool {
	a := []byte(c.AdminSecret)
	b := []byte(supplied)
	if len(a) != len(b) {
		// Still run a constant-time compare against a same-length buffer so
		// the length mismatch doesn't create a separate timing channel from
		// the case where lengths happen to match but differ in bytes.
		buf := make([]byte, len(a))
		subtle.ConstantTimeCompare(a, buf)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func (c *Config) fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "boss=%s|llm_model=%s|db=%t|cache=%t|tz=%s|bind=%s|enc=%t",
		c.BossUserID, c.LLMModel, c.DBURL != "", c.CacheEnabled(), c.Timezone, c.BindAddr, len(c.EncryptionKey) > 0)
	return strconv.FormatUint(h.Sum64(), 16)
}

// parseStaticAssignees parses "name:role,name:role" into a lookup map; a
// malformed entry is skipped rather than failing startup, since this is a
// last-resort fallback tier, not a required config surface.
func parseStaticAssignees(raw string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(kv) != 2 {
			continue
		}
		name := strings.TrimSpace(kv[0])
		role := strings.TrimSpace(kv[1])
		if name == "" || role == "" {
			continue
		}
		out[name] = role
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func parseRateLimit(key string, fallback RateLimitSetting) (RateLimitSetting, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	parts := strings.SplitN(raw, "/", 2)
	rpm, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return RateLimitSetting{}, fmt.Errorf("expected \"<rpm>/<burst>\", got %q", raw)
	}
	burst := fallback.BurstSize
	if len(parts) == 2 {
		burst, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return RateLimitSetting{}, fmt.Errorf("expected \"<rpm>/<burst>\", got %q", raw)
		}
	}
	return RateLimitSetting{RequestsPerMinute: rpm, BurstSize: burst}, nil
}

// decodeEncryptionKey accepts a 64-character hex string encoding 32 raw
// bytes (AES-256). Any other length is rejected at startup rather than
// silently truncated or padded.
func decodeEncryptionKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	if len(key) != encryptionKeyLen {
		return nil, fmt.Errorf("expected %d bytes (64 hex chars), got %d", encryptionKeyLen, len(key))
	}
	return key, nil
}

func defaultHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.boss"
	}
	return ".boss"
}
