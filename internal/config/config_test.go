package config

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TRANSPORT_TOKEN", "tok")
	t.Setenv("BOSS_USER_ID", "boss-1")
	t.Setenv("LLM_API_KEY", "llm-key")
	t.Setenv("DB_URL", "file:test.db")
	t.Setenv("WEBHOOK_SECRET", "whsec")
	t.Setenv("ADMIN_SECRET", "adminsec")
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when required env vars are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLMModel != "gpt-4o-mini" {
		t.Errorf("expected default LLM model, got %q", cfg.LLMModel)
	}
	if cfg.CacheEnabled() {
		t.Errorf("expected cache disabled by default")
	}
	if cfg.PlaintextModeWarning() == "" {
		t.Errorf("expected plaintext warning with no ENCRYPTION_KEY")
	}
	if cfg.RateLimitAuthenticated.RequestsPerMinute != 120 {
		t.Errorf("unexpected default authenticated rate limit: %+v", cfg.RateLimitAuthenticated)
	}
}

func TestLoad_StaticAssignees(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STATIC_ASSIGNEES", "John:dev, Priya:design,bad-entry,Mo:")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StaticAssignees["John"] != "dev" || cfg.StaticAssignees["Priya"] != "design" {
		t.Fatalf("got %+v", cfg.StaticAssignees)
	}
	if _, ok := cfg.StaticAssignees["Mo"]; ok {
		t.Fatalf("expected malformed entry with empty role to be skipped")
	}
}

func TestLoad_BadTimezone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TIMEZONE", "Not/AZone")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestLoad_EncryptionKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_KEY", "00112233445566778899aabbccddeeff00112233445566778899aabbccddee")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(cfg.EncryptionKey))
	}
	if cfg.PlaintextModeWarning() != "" {
		t.Errorf("expected no plaintext warning once a key is set")
	}
}

func TestLoad_BadEncryptionKeyLength(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_KEY", "deadbeef")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short encryption key")
	}
}

func TestConstantTimeAdminCheck(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ConstantTimeAdminCheck("adminsec") {
		t.Error("expected matching secret to pass")
	}
	if cfg.ConstantTimeAdminCheck("wrong") {
		t.Error("expected mismatched secret to fail")
	}
	if cfg.ConstantTimeAdminCheck("adminsecextra") {
		t.Error("expected different-length secret to fail")
	}
}

func TestParseRateLimit(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_PUBLIC", "45/12")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimitPublic.RequestsPerMinute != 45 || cfg.RateLimitPublic.BurstSize != 12 {
		t.Errorf("unexpected parsed rate limit: %+v", cfg.RateLimitPublic)
	}
}

func TestParseRateLimit_Malformed(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_PUBLIC", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed rate limit")
	}
}

func TestFingerprintStable(t *testing.T) {
	setRequiredEnv(t)
	a, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("expected stable fingerprint across identical loads")
	}
}
