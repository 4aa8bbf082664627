package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestPrecedence verifies defaults < config file < environment < CLI flags.
func TestPrecedence(t *testing.T) {
	t.Run("config file with hmac_secret rejected with clear error", func(t *testing.T) {
		path := writeConfig(t, `decision_api:
  host: "localhost"
  hmac_secret: "should_be_rejected"
`)
		_, err := LoadConfig(path)
		if err == nil {
			t.Fatal("expected error for secret in config file")
		}
		if err.Error() != "HMAC secrets not allowed in config files (use UW_HMAC_SECRET environment variable)" {
			t.Fatalf("wrong error message: %v", err)
		}
	})

	t.Run("config file overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `server:
  port: 8081
policy:
  allowed_paths: ["/upload", "/bulk"]
  managed_groups: ["CommonRuleSet"]
upload:
  max_file_size_mb: 5
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig error: %v", err)
		}
		if cfg.Server.Port != 8081 {
			t.Errorf("expected port 8081, got %d", cfg.Server.Port)
		}
		if !reflect.DeepEqual(cfg.Policy.AllowedPaths, []string{"/upload", "/bulk"}) {
			t.Errorf("expected allowed_paths [/upload /bulk], got %v", cfg.Policy.AllowedPaths)
		}
		if !reflect.DeepEqual(cfg.Policy.ManagedGroups, []string{"CommonRuleSet"}) {
			t.Errorf("expected managed_groups [CommonRuleSet], got %v", cfg.Policy.ManagedGroups)
		}
		if cfg.Upload.MaxFileSizeMB != 5 {
			t.Errorf("expected max_file_size_mb 5, got %d", cfg.Upload.MaxFileSizeMB)
		}
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		t.Setenv("UW_SERVER_PORT", "8080")
		path := writeConfig(t, `server:
  port: 9090
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig error: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Fatalf("environment should override config file: expected 8080, got %d", cfg.Server.Port)
		}
	})

	t.Run("bound flag overrides environment", func(t *testing.T) {
		t.Setenv("UW_SERVER_PORT", "8080")

		flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
		flags.Int("port", 3000, "")
		if err := flags.Parse([]string{"--port", "7070"}); err != nil {
			t.Fatal(err)
		}
		v := viper.New()
		if err := v.BindPFlag("server.port", flags.Lookup("port")); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(v, "")
		if err != nil {
			t.Fatalf("Load error: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Fatalf("flag should override environment: expected 7070, got %d", cfg.Server.Port)
		}
	})

	t.Run("document policy may omit allowed paths", func(t *testing.T) {
		path := writeConfig(t, `policy:
  allowed_paths: []
  document: /etc/uploadwaf/policy.yaml
`)
		if _, err := LoadConfig(path); err != nil {
			t.Fatalf("LoadConfig error: %v", err)
		}
	})

	t.Run("empty allowed paths without document rejected", func(t *testing.T) {
		path := writeConfig(t, `policy:
  allowed_paths: []
`)
		if _, err := LoadConfig(path); err == nil {
			t.Fatal("expected error for empty allowed_paths")
		}
	})
}
