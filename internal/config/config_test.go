package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// mapBackend is an in-memory ConfigBackend.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return "", true, errors.New("not a string")
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, ok := v.(int)
	if !ok {
		return 0, true, errors.New("not an int")
	}
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error  { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error { m[key] = val; return nil }
func (m mapBackend) SetBool(key string, val bool) error {
	m[key] = strconv.FormatBool(val)
	return nil
}
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

// mockSecrets is an in-memory secretStore.
type mockSecrets map[string]string

func (m mockSecrets) Get(account string) (string, error) {
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m mockSecrets) Set(account, value string) error {
	m[account] = value
	return nil
}

// clearEnv unsets every CMRI_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		os.Unsetenv(s.env)
	}
	t.Setenv("CMRI_API_TOKEN", "")
	os.Unsetenv("CMRI_API_TOKEN")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{}, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "none" {
		t.Errorf("LLM.Provider = %q, want none", cfg.LLM.Provider)
	}
	if cfg.LLM.Concurrency != 4 {
		t.Errorf("LLM.Concurrency = %d, want 4", cfg.LLM.Concurrency)
	}
	if cfg.LLMTimeout() != 60*time.Second {
		t.Errorf("LLMTimeout = %v", cfg.LLMTimeout())
	}
	if cfg.TokenTTL() != 10*time.Minute {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL())
	}
	if cfg.Archive.Enabled() {
		t.Error("archive enabled by default")
	}
	if !strings.HasSuffix(cfg.Storage.DataDir, "creativemri") && cfg.Storage.DataDir != "creativemri-data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := mapBackend{
		"server.port":      5000,
		"llm.provider":     "ollama",
		"llm.model":        "mistral",
		"llm.concurrency":  2,
		"llm.timeout":      "5s",
		"scoring.ceilings": "20,20,20,20,20",
		"archive.use_ssl":  "false",
		"stream.token_ttl": "1m",
	}
	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "mistral" || cfg.LLM.Concurrency != 2 {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLMTimeout() != 5*time.Second {
		t.Errorf("LLMTimeout = %v", cfg.LLMTimeout())
	}
	if cfg.Scoring.Ceilings != "20,20,20,20,20" {
		t.Errorf("Scoring.Ceilings = %q", cfg.Scoring.Ceilings)
	}
	if cfg.Archive.UseSSL {
		t.Error("Archive.UseSSL = true, want false")
	}
	if cfg.TokenTTL() != time.Minute {
		t.Errorf("TokenTTL = %v", cfg.TokenTTL())
	}
}

func TestBackendSkipsSecrets(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(mapBackend{"llm.api_key": "from-file"}, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("APIKey read from config file: %q", cfg.LLM.APIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMRI_SERVER_PORT", "6000")
	t.Setenv("CMRI_LLM_MODEL", "env-model")
	t.Setenv("CMRI_ARCHIVE_USE_SSL", "false")

	cfg, err := loadWith(mapBackend{"server.port": 5000, "llm.model": "file-model"}, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("LLM.Model = %q, want env-model", cfg.LLM.Model)
	}
	if cfg.Archive.UseSSL {
		t.Error("Archive.UseSSL = true, want false")
	}
}

func TestEnvOverride_BadIntKeepsValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMRI_SERVER_PORT", "not-a-port")

	cfg, err := loadWith(mapBackend{"server.port": 5000}, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
}

func TestDotEnv(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "CMRI_LLM_MODEL=dotenv-model\nCMRI_LOG_LEVEL=debug\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	// A variable set in the real environment wins over .env.
	t.Setenv("CMRI_LOG_LEVEL", "warn")

	cfg, err := loadWith(mapBackend{}, mockSecrets{}, envFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != "dotenv-model" {
		t.Errorf("LLM.Model = %q, want dotenv-model", cfg.LLM.Model)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestDotEnv_MissingFileIgnored(t *testing.T) {
	clearEnv(t)
	if _, err := loadWith(mapBackend{}, mockSecrets{}, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSecretsFallback(t *testing.T) {
	clearEnv(t)

	sec := mockSecrets{"llm.api_key": "file-secret", "archive.access_key": "ak", "archive.secret_key": "sk"}
	b := mapBackend{"llm.provider": "openrouter", "llm.model": "openai/gpt-4o-mini", "archive.endpoint": "localhost:9000", "archive.bucket": "reports"}
	cfg, err := loadWith(b, sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "file-secret" {
		t.Errorf("APIKey = %q, want file-secret", cfg.LLM.APIKey)
	}
	if cfg.Archive.AccessKey != "ak" || cfg.Archive.SecretKey != "sk" || !cfg.Archive.Enabled() {
		t.Errorf("Archive = %+v", cfg.Archive)
	}

	t.Setenv("CMRI_LLM_API_KEY", "env-secret")
	cfg, err = loadWith(b, sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "env-secret" {
		t.Errorf("APIKey = %q, want env-secret", cfg.LLM.APIKey)
	}
}

func TestValidation(t *testing.T) {
	clearEnv(t)

	cases := map[string]mapBackend{
		"hosted provider without key": {"llm.provider": "gemini"},
		"unknown provider":            {"llm.provider": "mystery"},
		"zero concurrency":            {"llm.concurrency": 0},
		"provider without model":      {"llm.provider": "ollama"},
		"archive without creds":       {"archive.endpoint": "localhost:9000", "archive.bucket": "b"},
	}
	for name, b := range cases {
		if _, err := loadWith(b, mockSecrets{}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	_, err := loadWith(mapBackend{"llm.provider": "anthropic"}, mockSecrets{})
	if err == nil || !strings.Contains(err.Error(), "CMRI_LLM_API_KEY") {
		t.Errorf("error = %v, want a hint naming CMRI_LLM_API_KEY", err)
	}
}

func TestSetKey(t *testing.T) {
	b := mapBackend{}

	if err := setKey(b, "llm.model", "qwen"); err != nil {
		t.Fatalf("setKey string: %v", err)
	}
	if err := setKey(b, "server.port", "4200"); err != nil {
		t.Fatalf("setKey int: %v", err)
	}
	if err := setKey(b, "archive.use_ssl", "false"); err != nil {
		t.Fatalf("setKey bool: %v", err)
	}
	if b["llm.model"] != "qwen" || b["server.port"] != 4200 || b["archive.use_ssl"] != "false" {
		t.Errorf("backend = %v", b)
	}

	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid integer")
	}
	if err := setKey(b, "archive.use_ssl", "maybe"); err == nil {
		t.Error("expected error for invalid bool")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	for _, secret := range []string{"llm.api_key", "archive.access_key", "archive.secret_key"} {
		err := setKey(b, secret, "x")
		if err == nil || !strings.Contains(err.Error(), "cannot set secret") {
			t.Errorf("%s: error = %v", secret, err)
		}
	}
}

func TestUnsetKey(t *testing.T) {
	b := mapBackend{"llm.model": "qwen"}
	if err := unsetKey(b, "llm.model"); err != nil {
		t.Fatalf("unsetKey: %v", err)
	}
	if _, ok := b["llm.model"]; ok {
		t.Error("key still present after unset")
	}
	if err := unsetKey(b, "llm.api_key"); err == nil {
		t.Error("expected error for secret key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "hidden"

	keys := ShowAll(cfg)
	if len(keys) != len(ValidKeys()) {
		t.Errorf("ShowAll returned %d keys, ValidKeys %d", len(keys), len(ValidKeys()))
	}
	for _, k := range keys {
		if k.Value == "hidden" || k.Key == "llm.api_key" {
			t.Errorf("secret leaked: %+v", k)
		}
		if !strings.HasPrefix(k.EnvVar, "CMRI_") {
			t.Errorf("env var for %s = %q", k.Key, k.EnvVar)
		}
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creativemri", "config.json")
	b := newFileBackend(path)
	if err := setKey(b, "server.port", "4300"); err != nil {
		t.Fatal(err)
	}
	if err := setKey(b, "archive.use_ssl", "true"); err != nil {
		t.Fatal(err)
	}

	reloaded := newFileBackend(path)
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	ssl, ok, err := reloaded.GetString("archive.use_ssl")
	if err != nil || !ok || ssl != "true" {
		t.Errorf("GetString = %q, %v, %v", ssl, ok, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestGetAPIToken(t *testing.T) {
	clearEnv(t)
	sec := &secretsFile{path: filepath.Join(t.TempDir(), "secrets.json")}

	first, err := getAPIToken(sec)
	if err != nil {
		t.Fatalf("getAPIToken: %v", err)
	}
	if len(first) != 64 {
		t.Errorf("token length = %d, want 64", len(first))
	}

	second, err := getAPIToken(sec)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("token not persisted between calls")
	}

	data, err := os.ReadFile(sec.path)
	if err != nil {
		t.Fatal(err)
	}
	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatal(err)
	}
	if stored[apiTokenAccount] != first {
		t.Errorf("stored token = %q", stored[apiTokenAccount])
	}

	t.Setenv("CMRI_API_TOKEN", "override")
	if tok, _ := getAPIToken(sec); tok != "override" {
		t.Errorf("token = %q, want override", tok)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("job claimed", "job_id", "j1")

	if strings.Contains(stderr.String(), "hidden") || strings.Contains(file.String(), "hidden") {
		t.Error("debug record written at info level")
	}
	if !strings.Contains(stderr.String(), "job_id=j1") {
		t.Errorf("stderr = %q", stderr.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(file.Bytes(), &rec); err != nil {
		t.Fatalf("file output is not JSON: %v", err)
	}
	if rec["job_id"] != "j1" {
		t.Errorf("file record = %v", rec)
	}
}

func TestSetupLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creativemri.log")
	logger, cleanup := SetupLogger(path, slog.LevelDebug)
	logger.Debug("written")
	if err := cleanup(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"written"`) {
		t.Errorf("log file = %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
		" info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileBackend_RejectsFractionalInt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port": 4100.5, "llm.concurrency": "3"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	b := newFileBackend(path)
	if _, _, err := b.GetInt("server.port"); err == nil {
		t.Error("expected error for fractional port")
	}
	if n, ok, err := b.GetInt("llm.concurrency"); err != nil || !ok || n != 3 {
		t.Errorf("GetInt(llm.concurrency) = %d, %v, %v", n, ok, err)
	}
}
