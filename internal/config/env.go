package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// qdrantRESTPort is the HTTP port of Qdrant; the client talks gRPC on the next port.
const qdrantRESTPort = 6333

// ApplyEnv loads a .env file from configDir (if present) and lets environment
// variables override secrets and endpoints from the YAML file. Variables that are
// already set in the process environment win over the .env file.
func ApplyEnv(cfg *Config, configDir string) error {
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	setString(&cfg.Vector.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&cfg.Vector.Collection, "QDRANT_COLLECTION_NAME")
	if raw := os.Getenv("QDRANT_URL"); raw != "" {
		if err := applyQdrantURL(&cfg.Vector.Qdrant, raw); err != nil {
			return err
		}
	}
	setString(&cfg.Provider.Dropbox.AccessToken, "DROPBOX_ACCESS_TOKEN")
	setString(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	if cfg.LLM.APIKey == "" {
		setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	}
	setString(&cfg.Auth.SecretKey, "SECRET_KEY")
	setString(&cfg.Auth.Username, "ADMIN_USERNAME")
	setString(&cfg.Auth.Password, "ADMIN_PASSWORD")
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyQdrantURL(q *QdrantConfig, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("invalid QDRANT_URL %q", raw)
	}
	q.Host = u.Hostname()
	q.UseTLS = u.Scheme == "https"
	q.Port = qdrantRESTPort + 1
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid QDRANT_URL port %q", p)
		}
		if port != qdrantRESTPort {
			q.Port = port
		}
	}
	return nil
}
