package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	LLM       LLMConfig
	Synthesis SynthesisConfig
	Scoring   ScoringConfig
	Media     MediaConfig
	Archive   ArchiveConfig
	Stream    StreamConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	File  string
}

// LLMConfig selects the language model provider shared by the augmenter and
// the synthesizer. SynthesisModel overrides Model for the summary call.
type LLMConfig struct {
	Provider       string
	BaseURL        string
	Model          string
	SynthesisModel string
	Timeout        string
	Concurrency    int
	APIKey         string
}

type SynthesisConfig struct {
	PromptFile string
}

// ScoringConfig holds the subscore ceilings as five comma-separated integers
// (hook, clarity, proof, differentiation, conversion). Empty keeps defaults.
type ScoringConfig struct {
	Ceilings string
}

type MediaConfig struct {
	Endpoint string
}

type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// Enabled reports whether finished reports should be archived.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

type StreamConfig struct {
	TokenTTL string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Provider:    "none",
			Timeout:     "60s",
			Concurrency: 4,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
		Stream: StreamConfig{
			TokenTTL: "10m",
		},
	}
}

// LLMTimeout returns the per-call model timeout, falling back to 60s when
// llm.timeout does not parse.
func (c Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 60*time.Second)
}

// TokenTTL returns the lifetime of stream tokens.
func (c Config) TokenTTL() time.Duration {
	return parseDuration(c.Stream.TokenTTL, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads configuration in layers: defaults, the JSON file at
// $XDG_CONFIG_HOME/creativemri/config.json, a .env file in the working
// directory, CMRI_* environment variables and finally the secrets file for
// credentials still unset.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), newSecretsFile(), ".env")
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
}

func loadWith(b ConfigBackend, sec secretStore, envFiles ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	// Variables already present in the environment take precedence over .env.
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, sec)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "", "none", "ollama":
	case "openrouter", "openai", "anthropic", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("missing required config: API key for llm provider %q. "+
				"Set it via environment variable CMRI_LLM_API_KEY or the secrets file %s",
				c.LLM.Provider, secretsFilePath())
		}
	default:
		return fmt.Errorf("invalid llm.provider %q", c.LLM.Provider)
	}
	if p := strings.ToLower(c.LLM.Provider); p != "" && p != "none" && c.LLM.Model == "" {
		return fmt.Errorf("missing required config: llm.model for provider %q", c.LLM.Provider)
	}
	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("llm.concurrency must be at least 1, got %d", c.LLM.Concurrency)
	}
	if c.Archive.Enabled() && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return fmt.Errorf("archive credentials missing: set CMRI_ARCHIVE_ACCESS_KEY and CMRI_ARCHIVE_SECRET_KEY")
	}
	return nil
}

const apiTokenAccount = "api_token"

// GetAPIToken returns the bearer token for the HTTP API, generating and
// persisting a new one on first use. CMRI_API_TOKEN overrides the stored value.
func GetAPIToken() (string, error) {
	return getAPIToken(newSecretsFile())
}

func getAPIToken(sec secretStore) (string, error) {
	if tok := envAPIToken(); tok != "" {
		return tok, nil
	}
	if tok, err := sec.Get(apiTokenAccount); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := sec.Set(apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
