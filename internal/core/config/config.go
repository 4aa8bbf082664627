// Package config provides configuration management for uploadwaf services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	DatabaseURL string
	Log         LogConfig
	Server      ServerConfig
	DecisionAPI DecisionAPIConfig
	Policy      PolicyConfig
	Upload      UploadConfig
	Metrics     MetricsConfig
	Sampling    SamplingConfig
	Export      ExportConfig
}

// LogConfig selects the log level and output format ("json" or "text").
type LogConfig struct {
	Level  string
	Format string
}

// ServerConfig holds the guarded HTTP upload service settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	StaticDir       string
}

// DecisionAPIConfig holds the gRPC decision API settings.
type DecisionAPIConfig struct {
	Enabled        bool
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration
	MaxBatchSize   int
	RequireAuth    bool
}

// PolicyConfig declares the active policy. When Document is set it replaces
// the intent built from AllowedPaths and ManagedGroups.
type PolicyConfig struct {
	Name           string
	AllowedPaths   []string
	ManagedGroups  []string
	Document       string
	Signatures     string
	Watch          bool
	ReloadDebounce time.Duration
}

// UploadConfig holds the upload handler settings.
// MaxJSONBytes bounds the non-file part of a request body.
type UploadConfig struct {
	MaxFileSizeMB int
	FieldName     string
	MaxJSONBytes  int64
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
	Path      string
}

// SamplingConfig holds sampled-request buffer settings.
type SamplingConfig struct {
	Enabled        bool
	BufferSize     int
	Rate           float64
	MemoryCapacity int
}

// ExportConfig holds WAFv2 rendering settings.
type ExportConfig struct {
	ACLName        string
	Vendor         string
	Scope          string
	Region         string
	MetricsEnabled bool
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL: "",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			StaticDir:       "",
		},
		DecisionAPI: DecisionAPIConfig{
			Enabled:        false,
			Host:           "0.0.0.0",
			Port:           50051,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
			MaxBatchSize:   1000,
			RequireAuth:    true,
		},
		Policy: PolicyConfig{
			Name:         "WebAcl",
			AllowedPaths: []string{"/upload"},
			ManagedGroups: []string{
				"AWSManagedRulesCommonRuleSet",
				"AWSManagedRulesKnownBadInputsRuleSet",
				"AWSManagedRulesAmazonIpReputationList",
			},
			Watch:          false,
			ReloadDebounce: 500 * time.Millisecond,
		},
		Upload: UploadConfig{
			MaxFileSizeMB: 50,
			FieldName:     "file",
			MaxJSONBytes:  1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "uploadwaf",
			Path:      "/metrics",
		},
		Sampling: SamplingConfig{
			Enabled:        true,
			BufferSize:     1024,
			Rate:           1.0,
			MemoryCapacity: 1000,
		},
		Export: ExportConfig{
			ACLName:        "WebAcl",
			Vendor:         "AWS",
			Scope:          "REGIONAL",
			MetricsEnabled: true,
		},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports UW_HMAC_SECRET (single) and UW_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are UUIDv7 (32 hex chars without hyphens) matching API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("UW_HMAC_SECRET"); val != "" {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("UW_HMAC_SECRET: %w", err)
		}
		secrets[secretID] = decoded
	}

	// Numbered secrets keep old and new keys valid during rotation
	for i := 1; ; i++ {
		key := fmt.Sprintf("UW_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return nil, fmt.Errorf("duplicate secret_id '%s' found in environment variables (check UW_HMAC_SECRET and UW_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
	}

	return secrets, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}

	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}

	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}
