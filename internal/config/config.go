// Package config loads docuflow's runtime configuration: a YAML file
// (gopkg.in/yaml.v3) layered over built-in defaults, with environment
// variable overrides for a subset of keys. No command-line flag feeds
// into Config.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable pipeline and storage setting docuflow
// accepts, from confidence thresholds to upstream connection strings.
type Config struct {
	ConfidenceThreshold  float64  `yaml:"confidence_threshold"`
	LowConfFieldThresh   float64  `yaml:"low_conf_field_threshold"`
	MaxFileSizeMB        int      `yaml:"max_file_size_mb"`
	SupportedMime        []string `yaml:"supported_mime"`
	WorkerConcurrency    int      `yaml:"worker_concurrency"`
	SingleTimeoutS       int      `yaml:"single_timeout_s"`
	BatchChildTimeoutS   int      `yaml:"batch_child_timeout_s"`
	QueueHighWater       int      `yaml:"queue_high_water"`
	QueueLowWater        int      `yaml:"queue_low_water"`
	SweepPrefix          string   `yaml:"sweep_prefix"`
	SweepIntervalS       int      `yaml:"sweep_interval_s"`
	ObjectStoreRoot      string   `yaml:"object_store_root"`
	StorageConnection    string   `yaml:"storage_connection"`
	OCREndpoint          string   `yaml:"ocr_endpoint"`
	OCRAPIKey            string   `yaml:"ocr_api_key"`
	ExtractorEndpoint    string   `yaml:"extractor_endpoint"`
	ExtractorAPIKey      string   `yaml:"extractor_api_key"`
	RecordStoreDSN       string   `yaml:"record_store_dsn"`
	RedisAddr            string   `yaml:"redis_addr"`
	SlackBotToken        string   `yaml:"slack_bot_token"`
	SlackChannel         string   `yaml:"slack_channel"`
	S3Bucket             string   `yaml:"s3_bucket"`
	S3Region             string   `yaml:"s3_region"`
	S3Endpoint           string   `yaml:"s3_endpoint"`
}

// Default returns the out-of-the-box configuration defaults.
func Default() *Config {
	return &Config{
		ConfidenceThreshold: 0.95,
		LowConfFieldThresh:  0.95,
		MaxFileSizeMB:       200,
		SupportedMime:       []string{"application/pdf", "image/png", "image/jpeg", "image/tiff"},
		WorkerConcurrency:   4,
		SingleTimeoutS:      120,
		BatchChildTimeoutS:  240,
		QueueHighWater:      500,
		QueueLowWater:       100,
		SweepPrefix:         "bulk-processing/source/",
		SweepIntervalS:      300,
		ObjectStoreRoot:     "./data/objects",
	}
}

// Load builds a Config from its defaults, a YAML file at path (if path
// is non-empty and exists), and environment variable overrides, in that
// order — each layer overrides only the keys it sets itself.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCUFLOW_CONFIDENCE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("DOCUFLOW_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("DOCUFLOW_OBJECT_STORE_ROOT"); v != "" {
		cfg.ObjectStoreRoot = v
	}
	if v := os.Getenv("DOCUFLOW_RECORD_STORE_DSN"); v != "" {
		cfg.RecordStoreDSN = v
	}
	if v := os.Getenv("DOCUFLOW_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("DOCUFLOW_OCR_ENDPOINT"); v != "" {
		cfg.OCREndpoint = v
	}
	if v := os.Getenv("DOCUFLOW_OCR_API_KEY"); v != "" {
		cfg.OCRAPIKey = v
	}
	if v := os.Getenv("DOCUFLOW_EXTRACTOR_API_KEY"); v != "" {
		cfg.ExtractorAPIKey = v
	}
	if v := os.Getenv("DOCUFLOW_SLACK_BOT_TOKEN"); v != "" {
		cfg.SlackBotToken = v
	}
	if v := os.Getenv("DOCUFLOW_SLACK_CHANNEL"); v != "" {
		cfg.SlackChannel = v
	}
	if v := os.Getenv("DOCUFLOW_S3_BUCKET"); v != "" {
		cfg.S3Bucket = v
	}
}
