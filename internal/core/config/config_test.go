package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

const (
	testSecretA = "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	testSecretB = "fedcba9876543210fedcba9876543210:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
	testSecretC = "0123456789abcdef0123456789abcdef:YW5vdGhlcnNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"
)

func TestHMACSecrets(t *testing.T) {
	// Clean environment
	os.Unsetenv("UW_HMAC_SECRET")
	os.Unsetenv("UW_HMAC_SECRET_1")
	os.Unsetenv("UW_HMAC_SECRET_2")

	t.Run("none configured", func(t *testing.T) {
		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 0 {
			t.Errorf("expected 0 secrets, got %d", len(secrets))
		}
	})

	t.Run("single secret", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", testSecretA)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 1 {
			t.Errorf("expected 1 secret, got %d", len(secrets))
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Errorf("secret_id not found in map")
		}
	})

	t.Run("multiple numbered secrets", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET_1", testSecretA)
		t.Setenv("UW_HMAC_SECRET_2", testSecretB)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 2 {
			t.Errorf("expected 2 secrets, got %d", len(secrets))
		}
	})

	t.Run("numbering stops at first gap", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET_2", testSecretB)

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets failed: %v", err)
		}
		if len(secrets) != 0 {
			t.Errorf("expected 0 secrets without UW_HMAC_SECRET_1, got %d", len(secrets))
		}
	})

	t.Run("invalid format", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", "invalid_format")

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for invalid format")
		}
	})

	t.Run("duplicate secret_id in numbered secrets", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET_1", testSecretA)
		t.Setenv("UW_HMAC_SECRET_2", testSecretC)

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for duplicate secret_id")
		}
	})

	t.Run("duplicate secret_id between single and numbered", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", testSecretA)
		t.Setenv("UW_HMAC_SECRET_1", testSecretC)

		if _, err := HMACSecrets(); err == nil {
			t.Error("expected error for duplicate secret_id between UW_HMAC_SECRET and UW_HMAC_SECRET_1")
		}
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		want := DefaultConfig()
		if !reflect.DeepEqual(cfg, want) {
			t.Errorf("LoadConfig(\"\") = %+v, want %+v", cfg, want)
		}
		if cfg.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", cfg.Server.Port)
		}
		if cfg.Upload.MaxFileSizeMB != 50 {
			t.Errorf("expected max_file_size_mb 50, got %d", cfg.Upload.MaxFileSizeMB)
		}
		if cfg.DecisionAPI.RequestTimeout != 30*time.Second {
			t.Errorf("expected timeout 30s, got %v", cfg.DecisionAPI.RequestTimeout)
		}
		if !reflect.DeepEqual(cfg.Policy.AllowedPaths, []string{"/upload"}) {
			t.Errorf("expected allowed_paths [/upload], got %v", cfg.Policy.AllowedPaths)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("UW_SERVER_PORT", "9999")
		t.Setenv("UW_SERVER_HOST", "127.0.0.1")
		t.Setenv("UW_POLICY_ALLOWED_PATHS", "/upload, /bulk")
		t.Setenv("UW_SAMPLING_RATE", "0.25")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host != "127.0.0.1" {
			t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
		}
		if !reflect.DeepEqual(cfg.Policy.AllowedPaths, []string{"/upload", "/bulk"}) {
			t.Errorf("expected allowed_paths [/upload /bulk], got %v", cfg.Policy.AllowedPaths)
		}
		if cfg.Sampling.Rate != 0.25 {
			t.Errorf("expected sampling rate 0.25, got %v", cfg.Sampling.Rate)
		}
	})

	invalid := []struct {
		name  string
		key   string
		value string
	}{
		{"server port range", "UW_SERVER_PORT", "70000"},
		{"decision api port range", "UW_DECISION_API_PORT", "0"},
		{"negative max connections", "UW_DECISION_API_MAX_CONNECTIONS", "-1"},
		{"zero upload limit", "UW_UPLOAD_MAX_FILE_SIZE_MB", "0"},
		{"sampling rate above one", "UW_SAMPLING_RATE", "1.5"},
		{"unknown log format", "UW_LOG_FORMAT", "xml"},
		{"unknown export scope", "UW_EXPORT_SCOPE", "global"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(""); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}

	t.Run("lowercase export scope accepted", func(t *testing.T) {
		t.Setenv("UW_EXPORT_SCOPE", "cloudfront")
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Export.Scope != "CLOUDFRONT" {
			t.Errorf("expected scope CLOUDFRONT, got %s", cfg.Export.Scope)
		}
	})

	t.Run("hmac secret in environment is not a config file secret", func(t *testing.T) {
		t.Setenv("UW_HMAC_SECRET", testSecretA)
		if _, err := LoadConfig(""); err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
	})
}

func TestParseHMACSecretWithID(t *testing.T) {
	t.Run("valid format", func(t *testing.T) {
		secretID, secret, err := ParseHMACSecretWithID(testSecretA)
		if err != nil {
			t.Fatalf("ParseHMACSecretWithID failed: %v", err)
		}
		if secretID != "0123456789abcdef0123456789abcdef" {
			t.Errorf("unexpected secret_id: %s", secretID)
		}
		if len(secret) == 0 {
			t.Error("secret should not be empty")
		}
	})

	t.Run("missing colon", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef"); err == nil {
			t.Error("expected error for missing colon")
		}
	})

	t.Run("invalid secret_id length", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("tooshort:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"); err == nil {
			t.Error("expected error for short secret_id")
		}
	})

	t.Run("non-hex chars in secret_id", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdefGHIJKLMNOPQRSTUV:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w"); err == nil {
			t.Error("expected error for non-hex secret_id")
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef:not-valid-base64!!!"); err == nil {
			t.Error("expected error for invalid base64")
		}
	})

	t.Run("secret too short", func(t *testing.T) {
		if _, _, err := ParseHMACSecretWithID("0123456789abcdef0123456789abcdef:c2hvcnQ="); err == nil {
			t.Error("expected error for secret < 32 bytes")
		}
	})
}
