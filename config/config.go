// Package config loads application settings from a TOML file with
// environment variable overrides, so containers can tweak single values
// without shipping a new file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type APIConfig struct {
	Key            string `toml:"key"`
	BaseURL        string `toml:"base_url"`
	WhisperModel   string `toml:"whisper_model"`
	VisionModel    string `toml:"vision_model"`
	EmbeddingModel string `toml:"embedding_model"`
}

type StoreConfig struct {
	// Backend selects the vector index implementation:
	// "memory", "pgvector" or "milvus".
	Backend          string `toml:"backend"`
	PostgresURL      string `toml:"postgres_url"`
	MilvusAddr       string `toml:"milvus_addr"`
	MilvusCollection string `toml:"milvus_collection"`
}

type LimitsConfig struct {
	ProbeTimeoutSec      int `toml:"probe_timeout_sec"`
	ExtractTimeoutSec    int `toml:"extract_timeout_sec"`
	TranscribeTimeoutSec int `toml:"transcribe_timeout_sec"`
	DescribeTimeoutSec   int `toml:"describe_timeout_sec"`
	// VLMRequestsPerMinute paces per-frame captioning calls so a long
	// video does not trip provider throughput limits.
	VLMRequestsPerMinute int `toml:"vlm_requests_per_minute"`
}

type Config struct {
	Listen           string       `toml:"listen"`
	DataRoot         string       `toml:"data_root"`
	Language         string       `toml:"language"`
	FrameIntervalSec int          `toml:"frame_interval_sec"`
	ChunkCharBudget  int          `toml:"chunk_char_budget"`
	AutoAnalyze      bool         `toml:"auto_analyze"`
	API              APIConfig    `toml:"api"`
	Store            StoreConfig  `toml:"store"`
	Limits           LimitsConfig `toml:"limits"`
}

// Load reads config.toml (path overridable via VIDEOINDEX_CONFIG),
// fills defaults and applies environment overrides. A missing file is
// not an error: defaults plus environment are enough to run with the
// memory store and mock providers.
func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("VIDEOINDEX_CONFIG")
	if path == "" {
		path = "config.toml"
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Listen:           ":8080",
		DataRoot:         "./data",
		Language:         "English",
		FrameIntervalSec: 5,
		ChunkCharBudget:  500,
		API: APIConfig{
			WhisperModel:   "whisper-1",
			VisionModel:    "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Store: StoreConfig{
			Backend:          "memory",
			MilvusAddr:       "localhost:19530",
			MilvusCollection: "video_chunks",
		},
		Limits: LimitsConfig{
			ProbeTimeoutSec:      30,
			ExtractTimeoutSec:    300,
			TranscribeTimeoutSec: 120,
			DescribeTimeoutSec:   60,
			VLMRequestsPerMinute: 30,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Listen, "LISTEN")
	setString(&cfg.DataRoot, "DATA_ROOT")
	setString(&cfg.Language, "LANGUAGE")
	setInt(&cfg.FrameIntervalSec, "FRAME_INTERVAL_SEC")
	setInt(&cfg.ChunkCharBudget, "CHUNK_CHAR_BUDGET")
	setBool(&cfg.AutoAnalyze, "AUTO_ANALYZE")

	setString(&cfg.API.Key, "API_KEY")
	setString(&cfg.API.BaseURL, "BASE_URL")
	setString(&cfg.API.WhisperModel, "WHISPER_MODEL")
	setString(&cfg.API.VisionModel, "VISION_MODEL")
	setString(&cfg.API.EmbeddingModel, "EMBEDDING_MODEL")

	setString(&cfg.Store.Backend, "STORE")
	setString(&cfg.Store.PostgresURL, "POSTGRES_URL")
	setString(&cfg.Store.MilvusAddr, "MILVUS_ADDR")
	setString(&cfg.Store.MilvusCollection, "MILVUS_COLLECTION")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// HasValidAPI reports whether remote providers (whisper, vision,
// embeddings) can be used. Without it the pipeline falls back to the
// mock providers and the hash embedder.
func (c *Config) HasValidAPI() bool {
	return strings.TrimSpace(c.API.Key) != ""
}

func (c *Config) Validate() error {
	var problems []string
	if c.FrameIntervalSec <= 0 {
		problems = append(problems, "frame_interval_sec must be positive")
	}
	if c.ChunkCharBudget <= 0 {
		problems = append(problems, "chunk_char_budget must be positive")
	}
	switch c.Store.Backend {
	case "memory", "pgvector", "milvus":
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	if c.Store.Backend == "pgvector" && strings.TrimSpace(c.Store.PostgresURL) == "" {
		problems = append(problems, "postgres_url required for pgvector backend")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
