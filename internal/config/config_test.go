package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
auth:
  secret_key: "test-secret"
provider:
  type: local
  local:
    root: "./docs"
vector:
  backend: memory
embedding:
  provider: mock
  dimensions: 8
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
server:
  host: "127.0.0.1"
  port: 9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Vector.Collection != DefaultCollection {
		t.Errorf("collection = %s, want %s", cfg.Vector.Collection, DefaultCollection)
	}
}

func TestLoad_durations(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
llm:
  provider: none
  timeout: 45s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("llm timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Vector.RequestTimeout != 30*time.Second {
		t.Errorf("default request timeout = %v", cfg.Vector.RequestTimeout)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
indexing:
  status_path: "./state/sync.json"
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "docs"); cfg.Provider.Local.Root != want {
		t.Errorf("local root = %s, want %s", cfg.Provider.Local.Root, want)
	}
	if want := filepath.Join(dir, "state", "sync.json"); cfg.Indexing.StatusPath != want {
		t.Errorf("status path = %s, want %s", cfg.Indexing.StatusPath, want)
	}
	if want := filepath.Join(dir, "data", "vectors.db"); cfg.Vector.SQLitePath != want {
		t.Errorf("sqlite path = %s, want %s", cfg.Vector.SQLitePath, want)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("SECRET_KEY", "from-env")
	t.Setenv("QDRANT_URL", "https://qdrant.example.com:6333")
	t.Setenv("QDRANT_COLLECTION_NAME", "custom_docs")
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.SecretKey != "from-env" {
		t.Errorf("secret key = %s", cfg.Auth.SecretKey)
	}
	if cfg.Vector.Collection != "custom_docs" {
		t.Errorf("collection = %s", cfg.Vector.Collection)
	}
	q := cfg.Vector.Qdrant
	if q.Host != "qdrant.example.com" || q.Port != 6334 || !q.UseTLS {
		t.Errorf("qdrant config = %+v", q)
	}
}

func TestLoad_dotEnvFile(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("ADMIN_USERNAME=makler\nADMIN_PASSWORD=geheim\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already present, even when empty.
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	os.Unsetenv("ADMIN_USERNAME")
	os.Unsetenv("ADMIN_PASSWORD")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Username != "makler" || cfg.Auth.Password != "geheim" {
		t.Errorf("auth from .env = %+v", cfg.Auth)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing secret", "provider:\n  type: local\n  local:\n    root: ./x\nembedding:\n  provider: mock\n", "secret_key"},
		{"unknown llm provider", minimalConfig + "\n" + "llm:\n  provider: magic\n", "llm provider"},
		{"dropbox without token", "auth:\n  secret_key: s\nembedding:\n  provider: mock\n", "access_token"},
		{"overlap too large", minimalConfig + "indexing:\n  chunk_size: 5\n  chunk_overlap: 5\n", "chunk_overlap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SECRET_KEY", "")
			t.Setenv("DROPBOX_ACCESS_TOKEN", "")
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_missingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("default top_k: got %d", cfg.Search.DefaultTopK)
	}
	if cfg.Indexing.ChunkSize != 300 || cfg.Indexing.ChunkOverlap != 3 {
		t.Errorf("chunking defaults: %+v", cfg.Indexing)
	}
	if cfg.Vector.Backend != "qdrant" || cfg.Vector.Qdrant.Port != 6334 {
		t.Errorf("vector defaults: %+v", cfg.Vector)
	}
	if cfg.LLM.Provider != "none" || cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("llm defaults: %+v", cfg.LLM)
	}
	if len(cfg.Indexing.Extensions) == 0 || cfg.Indexing.Extensions[0] != ".pdf" {
		t.Errorf("extensions: got %v", cfg.Indexing.Extensions)
	}
}

func TestApplyQdrantURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{"http://localhost:6333", "localhost", 6334, false, false},
		{"http://qdrant:7000", "qdrant", 7000, false, false},
		{"https://cloud.qdrant.io", "cloud.qdrant.io", 6334, true, false},
		{"not a url", "", 0, false, true},
	}
	for _, tt := range tests {
		var q QdrantConfig
		err := applyQdrantURL(&q, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v", tt.raw, err)
			continue
		}
		if tt.wantErr {
			continue
		}
		if q.Host != tt.wantHost || q.Port != tt.wantPort || q.UseTLS != tt.wantTLS {
			t.Errorf("%s: got %+v", tt.raw, q)
		}
	}
}
