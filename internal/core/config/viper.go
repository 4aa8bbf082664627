package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*Config, error) {
	return Load(viper.New(), configPath)
}

// Load reads configuration into v, which may already carry bound CLI flags.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	// Bind environment variables with UW_ prefix
	v.SetEnvPrefix("UW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL: v.GetString("database_url"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			StaticDir:       v.GetString("server.static_dir"),
		},
		DecisionAPI: DecisionAPIConfig{
			Enabled:        v.GetBool("decision_api.enabled"),
			Host:           v.GetString("decision_api.host"),
			Port:           v.GetInt("decision_api.port"),
			MaxConnections: v.GetInt("decision_api.max_connections"),
			RequestTimeout: v.GetDuration("decision_api.request_timeout"),
			MaxBatchSize:   v.GetInt("decision_api.max_batch_size"),
			RequireAuth:    v.GetBool("decision_api.require_auth"),
		},
		Policy: PolicyConfig{
			Name:           v.GetString("policy.name"),
			AllowedPaths:   stringList(v, "policy.allowed_paths"),
			ManagedGroups:  stringList(v, "policy.managed_groups"),
			Document:       v.GetString("policy.document"),
			Signatures:     v.GetString("policy.signatures"),
			Watch:          v.GetBool("policy.watch"),
			ReloadDebounce: v.GetDuration("policy.reload_debounce"),
		},
		Upload: UploadConfig{
			MaxFileSizeMB: v.GetInt("upload.max_file_size_mb"),
			FieldName:     v.GetString("upload.field_name"),
			MaxJSONBytes:  v.GetInt64("upload.max_json_bytes"),
		},
		Metrics: MetricsConfig{
			Enabled:   v.GetBool("metrics.enabled"),
			Namespace: v.GetString("metrics.namespace"),
			Path:      v.GetString("metrics.path"),
		},
		Sampling: SamplingConfig{
			Enabled:        v.GetBool("sampling.enabled"),
			BufferSize:     v.GetInt("sampling.buffer_size"),
			Rate:           v.GetFloat64("sampling.rate"),
			MemoryCapacity: v.GetInt("sampling.memory_capacity"),
		},
		Export: ExportConfig{
			ACLName:        v.GetString("export.acl_name"),
			Vendor:         v.GetString("export.vendor"),
			Scope:          strings.ToUpper(v.GetString("export.scope")),
			Region:         v.GetString("export.region"),
			MetricsEnabled: v.GetBool("export.metrics_enabled"),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("server.static_dir", d.Server.StaticDir)

	v.SetDefault("decision_api.enabled", d.DecisionAPI.Enabled)
	v.SetDefault("decision_api.host", d.DecisionAPI.Host)
	v.SetDefault("decision_api.port", d.DecisionAPI.Port)
	v.SetDefault("decision_api.max_connections", d.DecisionAPI.MaxConnections)
	v.SetDefault("decision_api.request_timeout", d.DecisionAPI.RequestTimeout.String())
	v.SetDefault("decision_api.max_batch_size", d.DecisionAPI.MaxBatchSize)
	v.SetDefault("decision_api.require_auth", d.DecisionAPI.RequireAuth)

	v.SetDefault("policy.name", d.Policy.Name)
	v.SetDefault("policy.allowed_paths", d.Policy.AllowedPaths)
	v.SetDefault("policy.managed_groups", d.Policy.ManagedGroups)
	v.SetDefault("policy.document", d.Policy.Document)
	v.SetDefault("policy.signatures", d.Policy.Signatures)
	v.SetDefault("policy.watch", d.Policy.Watch)
	v.SetDefault("policy.reload_debounce", d.Policy.ReloadDebounce.String())

	v.SetDefault("upload.max_file_size_mb", d.Upload.MaxFileSizeMB)
	v.SetDefault("upload.field_name", d.Upload.FieldName)
	v.SetDefault("upload.max_json_bytes", d.Upload.MaxJSONBytes)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("sampling.enabled", d.Sampling.Enabled)
	v.SetDefault("sampling.buffer_size", d.Sampling.BufferSize)
	v.SetDefault("sampling.rate", d.Sampling.Rate)
	v.SetDefault("sampling.memory_capacity", d.Sampling.MemoryCapacity)

	v.SetDefault("export.acl_name", d.Export.ACLName)
	v.SetDefault("export.vendor", d.Export.Vendor)
	v.SetDefault("export.scope", d.Export.Scope)
	v.SetDefault("export.region", d.Export.Region)
	v.SetDefault("export.metrics_enabled", d.Export.MetricsEnabled)
}

// stringList reads a list from config files or a comma-separated environment value.
func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return v.GetStringSlice(key)
}

// validateConfig checks port ranges and positive sizes and timeouts.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.DecisionAPI.Port <= 0 || cfg.DecisionAPI.Port > 65535 {
		return fmt.Errorf("decision_api.port must be between 1 and 65535, got %d", cfg.DecisionAPI.Port)
	}
	if cfg.DecisionAPI.MaxConnections <= 0 {
		return fmt.Errorf("decision_api.max_connections must be positive, got %d", cfg.DecisionAPI.MaxConnections)
	}
	if cfg.DecisionAPI.RequestTimeout <= 0 {
		return fmt.Errorf("decision_api.request_timeout must be positive, got %v", cfg.DecisionAPI.RequestTimeout)
	}
	if cfg.DecisionAPI.MaxBatchSize <= 0 {
		return fmt.Errorf("decision_api.max_batch_size must be positive, got %d", cfg.DecisionAPI.MaxBatchSize)
	}
	if cfg.Policy.Document == "" && len(cfg.Policy.AllowedPaths) == 0 {
		return fmt.Errorf("policy.allowed_paths must list at least one path when policy.document is not set")
	}
	if cfg.Policy.ReloadDebounce <= 0 {
		return fmt.Errorf("policy.reload_debounce must be positive, got %v", cfg.Policy.ReloadDebounce)
	}
	if cfg.Upload.MaxFileSizeMB <= 0 {
		return fmt.Errorf("upload.max_file_size_mb must be positive, got %d", cfg.Upload.MaxFileSizeMB)
	}
	if cfg.Upload.FieldName == "" {
		return fmt.Errorf("upload.field_name must not be empty")
	}
	if cfg.Sampling.Rate <= 0 || cfg.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be in (0, 1], got %v", cfg.Sampling.Rate)
	}
	if cfg.Sampling.BufferSize <= 0 {
		return fmt.Errorf("sampling.buffer_size must be positive, got %d", cfg.Sampling.BufferSize)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}
	switch cfg.Export.Scope {
	case "REGIONAL", "CLOUDFRONT":
	default:
		return fmt.Errorf("export.scope must be REGIONAL or CLOUDFRONT, got %q", cfg.Export.Scope)
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
// InConfig only inspects the file, so UW_HMAC_SECRET in the environment is not flagged.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("decision_api.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use UW_HMAC_SECRET environment variable)")
	}
	return nil
}
