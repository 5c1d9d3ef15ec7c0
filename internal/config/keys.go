package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CMRI_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CMRI_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "CMRI_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "CMRI_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "llm.provider", typ: kString, env: "CMRI_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.base_url", typ: kString, env: "CMRI_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "CMRI_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.synthesis_model", typ: kString, env: "CMRI_LLM_SYNTHESIS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.SynthesisModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.SynthesisModel },
	},
	{
		key: "llm.timeout", typ: kString, env: "CMRI_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.concurrency", typ: kInt, env: "CMRI_LLM_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.LLM.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.Concurrency },
	},
	{
		key: "llm.api_key", typ: kString, env: "CMRI_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "synthesis.prompt_file", typ: kString, env: "CMRI_SYNTHESIS_PROMPT_FILE",
		apply:   func(cfg *Config, v any) { cfg.Synthesis.PromptFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Synthesis.PromptFile },
	},
	{
		key: "scoring.ceilings", typ: kString, env: "CMRI_SCORING_CEILINGS",
		apply:   func(cfg *Config, v any) { cfg.Scoring.Ceilings = v.(string) },
		extract: func(cfg Config) any { return cfg.Scoring.Ceilings },
	},
	{
		key: "media.endpoint", typ: kString, env: "CMRI_MEDIA_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Media.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Media.Endpoint },
	},
	{
		key: "archive.endpoint", typ: kString, env: "CMRI_ARCHIVE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Archive.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Endpoint },
	},
	{
		key: "archive.bucket", typ: kString, env: "CMRI_ARCHIVE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Archive.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Bucket },
	},
	{
		key: "archive.region", typ: kString, env: "CMRI_ARCHIVE_REGION",
		apply:   func(cfg *Config, v any) { cfg.Archive.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Region },
	},
	{
		key: "archive.use_ssl", typ: kBool, env: "CMRI_ARCHIVE_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.Archive.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.UseSSL },
	},
	{
		key: "archive.access_key", typ: kString, env: "CMRI_ARCHIVE_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Archive.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.AccessKey },
	},
	{
		key: "archive.secret_key", typ: kString, env: "CMRI_ARCHIVE_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Archive.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.SecretKey },
	},
	{
		key: "stream.token_ttl", typ: kString, env: "CMRI_STREAM_TOKEN_TTL",
		apply:   func(cfg *Config, v any) { cfg.Stream.TokenTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Stream.TokenTTL },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

// applySecrets fills secret keys still empty after the environment pass.
func applySecrets(cfg *Config, sec secretStore) {
	if sec == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg).(string) != "" {
			continue
		}
		if v, err := sec.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func envAPIToken() string {
	return os.Getenv("CMRI_API_TOKEN")
}
