package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Auth          AuthConfig          `yaml:"auth"`
	Rollup        RollupConfig        `yaml:"rollup"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type IngestConfig struct {
	// MaxSpanBatch caps the number of spans accepted in one batch request.
	MaxSpanBatch int `yaml:"max_span_batch"`
	// MaxBodySize caps the ingest request body in bytes.
	MaxBodySize int64 `yaml:"max_body_size"`
}

type AuthConfig struct {
	Header       string            `yaml:"header"`
	Keys         []IngestKeyConfig `yaml:"keys"`
	CacheTTLMS   int               `yaml:"cache_ttl_ms"`
	CacheMaxSize int               `yaml:"cache_max_size"`
}

type IngestKeyConfig struct {
	Name     string `yaml:"name"`
	TenantID string `yaml:"tenant_id"`
	// Token is the plaintext API key. Prefer token_hash in checked-in config.
	Token     string `yaml:"token"`
	TokenHash string `yaml:"token_hash"`
}

type RollupConfig struct {
	CompactionIntervalMS int `yaml:"compaction_interval_ms"`
	MaxKeysPerPass       int `yaml:"max_keys_per_pass"`
}

type ObservabilityConfig struct {
	OTel OTelConfig `yaml:"otel"`
}

type OTelConfig struct {
	Enabled                bool    `yaml:"enabled"`
	Endpoint               string  `yaml:"endpoint"`
	Insecure               bool    `yaml:"insecure"`
	ServiceName            string  `yaml:"service_name"`
	TracesEnabled          bool    `yaml:"traces_enabled"`
	MetricsEnabled         bool    `yaml:"metrics_enabled"`
	SamplingRatio          float64 `yaml:"sampling_ratio"`
	ExportTimeoutMS        int     `yaml:"export_timeout_ms"`
	MetricExportIntervalMS int     `yaml:"metric_export_interval_ms"`
}

const (
	defaultOTELEndpoint               = "localhost:4318"
	defaultOTELServiceName            = "spanlight"
	defaultOTELSamplingRatio          = 1.0
	defaultOTELExportTimeoutMS        = 3000
	defaultOTELMetricExportIntervalMS = 10000
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/spanlight.db",
		},
		Ingest: IngestConfig{
			MaxSpanBatch: 500,
			MaxBodySize:  4 << 20,
		},
		Auth: AuthConfig{
			Header:       "X-Spanlight-Key",
			CacheTTLMS:   60000,
			CacheMaxSize: 1024,
		},
		Rollup: RollupConfig{
			CompactionIntervalMS: 60000,
			MaxKeysPerPass:       100,
		},
		Observability: ObservabilityConfig{
			OTel: OTelConfig{
				Enabled:                false,
				Endpoint:               defaultOTELEndpoint,
				Insecure:               true,
				ServiceName:            defaultOTELServiceName,
				TracesEnabled:          true,
				MetricsEnabled:         true,
				SamplingRatio:          defaultOTELSamplingRatio,
				ExportTimeoutMS:        defaultOTELExportTimeoutMS,
				MetricExportIntervalMS: defaultOTELMetricExportIntervalMS,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			decoder := yaml.NewDecoder(bytes.NewReader(data))
			decoder.KnownFields(true)
			decodeErr := decoder.Decode(&cfg)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
			if decodeErr != nil {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, decodeErr)
			}
			// Reject multi-document configs to keep runtime configuration
			// unambiguous and avoid hidden trailing documents.
			var trailing any
			trailingErr := decoder.Decode(&trailing)
			if trailingErr != nil && !errors.Is(trailingErr, io.EOF) {
				return Config{}, fmt.Errorf("parse yaml %q: %w", path, trailingErr)
			}
			if trailing != nil {
				return Config{}, fmt.Errorf("parse yaml %q: multiple yaml documents are not supported", path)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks configuration invariants required at runtime.
func Validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	driver := strings.TrimSpace(cfg.Storage.Driver)
	switch driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return errors.New("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("storage.driver must be one of sqlite, postgres (got %q)", cfg.Storage.Driver)
	}

	if cfg.Ingest.MaxSpanBatch <= 0 {
		return fmt.Errorf("ingest.max_span_batch must be > 0 (got %d)", cfg.Ingest.MaxSpanBatch)
	}
	if cfg.Ingest.MaxBodySize <= 0 {
		return fmt.Errorf("ingest.max_body_size must be > 0 (got %d)", cfg.Ingest.MaxBodySize)
	}

	if strings.TrimSpace(cfg.Auth.Header) == "" {
		return errors.New("auth.header must not be empty")
	}
	if cfg.Auth.CacheTTLMS <= 0 {
		return fmt.Errorf("auth.cache_ttl_ms must be > 0 (got %d)", cfg.Auth.CacheTTLMS)
	}
	if cfg.Auth.CacheMaxSize <= 0 {
		return fmt.Errorf("auth.cache_max_size must be > 0 (got %d)", cfg.Auth.CacheMaxSize)
	}
	if err := validateKeys(cfg.Auth.Keys); err != nil {
		return err
	}

	if cfg.Rollup.CompactionIntervalMS <= 0 {
		return fmt.Errorf("rollup.compaction_interval_ms must be > 0 (got %d)", cfg.Rollup.CompactionIntervalMS)
	}
	if cfg.Rollup.MaxKeysPerPass <= 0 {
		return fmt.Errorf("rollup.max_keys_per_pass must be > 0 (got %d)", cfg.Rollup.MaxKeysPerPass)
	}

	if err := validateOTelConfig(cfg.Observability.OTel); err != nil {
		return err
	}

	return nil
}

func validateKeys(keys []IngestKeyConfig) error {
	seen := make(map[string]int, len(keys))
	for idx, key := range keys {
		name := fmt.Sprintf("auth.keys[%d]", idx)
		if strings.TrimSpace(key.TenantID) == "" {
			return fmt.Errorf("%s.tenant_id is required", name)
		}
		token := strings.TrimSpace(key.Token)
		hash := strings.ToLower(strings.TrimSpace(key.TokenHash))
		if token == "" && hash == "" {
			return fmt.Errorf("%s must set token or token_hash", name)
		}
		if hash != "" && len(hash) != 64 {
			return fmt.Errorf("%s.token_hash must be a 64-character hex sha256 digest (got %d characters)", name, len(hash))
		}
		credential := hash
		if credential == "" {
			credential = token
		}
		if prev, ok := seen[credential]; ok {
			return fmt.Errorf("%s duplicates the credential of auth.keys[%d]", name, prev)
		}
		seen[credential] = idx
	}
	return nil
}

func validateOTelConfig(cfg OTelConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return errors.New("observability.otel.endpoint is required when observability.otel.enabled=true")
	}
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return errors.New("observability.otel.service_name is required when observability.otel.enabled=true")
	}
	if !cfg.TracesEnabled && !cfg.MetricsEnabled {
		return errors.New("observability.otel requires traces_enabled and/or metrics_enabled when enabled")
	}
	if cfg.SamplingRatio < 0 || cfg.SamplingRatio > 1 {
		return fmt.Errorf("observability.otel.sampling_ratio must be between 0 and 1 (got %f)", cfg.SamplingRatio)
	}
	if cfg.ExportTimeoutMS <= 0 {
		return fmt.Errorf("observability.otel.export_timeout_ms must be > 0 (got %d)", cfg.ExportTimeoutMS)
	}
	if cfg.MetricExportIntervalMS <= 0 {
		return fmt.Errorf("observability.otel.metric_export_interval_ms must be > 0 (got %d)", cfg.MetricExportIntervalMS)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if host := os.Getenv("SPANLIGHT_HOST"); host != "" {
		cfg.Server.Host = host
	}

	if port := os.Getenv("SPANLIGHT_PORT"); port != "" {
		v, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SPANLIGHT_PORT: %w", err)
		}
		cfg.Server.Port = v
	}

	if storageDriver := os.Getenv("SPANLIGHT_STORAGE_DRIVER"); storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if storagePath := os.Getenv("SPANLIGHT_STORAGE_PATH"); storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if storageDSN := os.Getenv("SPANLIGHT_STORAGE_DSN"); storageDSN != "" {
		cfg.Storage.DSN = storageDSN
	}

	if maxSpanBatch := os.Getenv("SPANLIGHT_MAX_SPAN_BATCH"); maxSpanBatch != "" {
		v, err := strconv.Atoi(maxSpanBatch)
		if err != nil {
			return fmt.Errorf("invalid SPANLIGHT_MAX_SPAN_BATCH: %w", err)
		}
		cfg.Ingest.MaxSpanBatch = v
	}
	if maxBodySize := os.Getenv("SPANLIGHT_MAX_BODY_SIZE"); maxBodySize != "" {
		v, err := strconv.ParseInt(maxBodySize, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SPANLIGHT_MAX_BODY_SIZE: %w", err)
		}
		cfg.Ingest.MaxBodySize = v
	}

	if authHeader := os.Getenv("SPANLIGHT_AUTH_HEADER"); authHeader != "" {
		cfg.Auth.Header = authHeader
	}

	if compactionInterval := os.Getenv("SPANLIGHT_COMPACTION_INTERVAL_MS"); compactionInterval != "" {
		v, err := strconv.Atoi(compactionInterval)
		if err != nil {
			return fmt.Errorf("invalid SPANLIGHT_COMPACTION_INTERVAL_MS: %w", err)
		}
		cfg.Rollup.CompactionIntervalMS = v
	}
	if maxKeys := os.Getenv("SPANLIGHT_COMPACTION_MAX_KEYS"); maxKeys != "" {
		v, err := strconv.Atoi(maxKeys)
		if err != nil {
			return fmt.Errorf("invalid SPANLIGHT_COMPACTION_MAX_KEYS: %w", err)
		}
		cfg.Rollup.MaxKeysPerPass = v
	}

	otelConfigured := false
	otelSDKDisabledSet := false
	if sdkDisabled := strings.TrimSpace(os.Getenv("OTEL_SDK_DISABLED")); sdkDisabled != "" {
		v, err := strconv.ParseBool(sdkDisabled)
		if err != nil {
			return fmt.Errorf("invalid OTEL_SDK_DISABLED: %w", err)
		}
		cfg.Observability.OTel.Enabled = !v
		otelSDKDisabledSet = true
		otelConfigured = true
	}
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		cfg.Observability.OTel.Endpoint = endpoint
		otelConfigured = true
	}
	if insecure := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); insecure != "" {
		v, err := strconv.ParseBool(insecure)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Observability.OTel.Insecure = v
		otelConfigured = true
	}
	if serviceName := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); serviceName != "" {
		cfg.Observability.OTel.ServiceName = serviceName
		otelConfigured = true
	}
	if tracesExporter := strings.TrimSpace(os.Getenv("OTEL_TRACES_EXPORTER")); tracesExporter != "" {
		enabled, err := otelExporterEnabled(tracesExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.TracesEnabled = enabled
		otelConfigured = true
	}
	if metricsExporter := strings.TrimSpace(os.Getenv("OTEL_METRICS_EXPORTER")); metricsExporter != "" {
		enabled, err := otelExporterEnabled(metricsExporter)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRICS_EXPORTER: %w", err)
		}
		cfg.Observability.OTel.MetricsEnabled = enabled
		otelConfigured = true
	}
	if samplingRatio := strings.TrimSpace(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); samplingRatio != "" {
		v, err := strconv.ParseFloat(samplingRatio, 64)
		if err != nil {
			return fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG: %w", err)
		}
		cfg.Observability.OTel.SamplingRatio = v
		otelConfigured = true
	}
	if exportTimeout := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT")); exportTimeout != "" {
		v, err := strconv.Atoi(exportTimeout)
		if err != nil {
			return fmt.Errorf("invalid OTEL_EXPORTER_OTLP_TIMEOUT: %w", err)
		}
		cfg.Observability.OTel.ExportTimeoutMS = v
		otelConfigured = true
	}
	if metricExportInterval := strings.TrimSpace(os.Getenv("OTEL_METRIC_EXPORT_INTERVAL")); metricExportInterval != "" {
		v, err := strconv.Atoi(metricExportInterval)
		if err != nil {
			return fmt.Errorf("invalid OTEL_METRIC_EXPORT_INTERVAL: %w", err)
		}
		cfg.Observability.OTel.MetricExportIntervalMS = v
		otelConfigured = true
	}
	if otelConfigured && !otelSDKDisabledSet {
		cfg.Observability.OTel.Enabled = true
	}

	return nil
}

func otelExporterEnabled(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "otlp":
		return true, nil
	case "none":
		return false, nil
	default:
		return false, fmt.Errorf("must be one of otlp, none (got %q)", value)
	}
}
