package config

import "time"

// DefaultCollection is the vector collection name used when none is configured.
const DefaultCollection = "immobilien_docs"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Auth.Username == "" {
		cfg.Auth.Username = "admin"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 30 * time.Minute
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = "dropbox"
	}
	if cfg.Provider.Dropbox.Timeout == 0 {
		cfg.Provider.Dropbox.Timeout = 60 * time.Second
	}
	applyVectorDefaults(&cfg.Vector)
	applyEmbeddingDefaults(&cfg.Embedding)
	applyLLMDefaults(&cfg.LLM)
	if cfg.Indexing.ChunkSize == 0 {
		cfg.Indexing.ChunkSize = 300
	}
	if cfg.Indexing.ChunkOverlap == 0 {
		cfg.Indexing.ChunkOverlap = 3
	}
	if cfg.Indexing.MinContentLength == 0 {
		cfg.Indexing.MinContentLength = 10
	}
	if cfg.Indexing.Concurrency == 0 {
		cfg.Indexing.Concurrency = 4
	}
	if cfg.Indexing.Extensions == nil {
		cfg.Indexing.Extensions = []string{".pdf", ".txt", ".md", ".docx", ".xlsx"}
	}
	if cfg.Indexing.StatusPath == "" {
		cfg.Indexing.StatusPath = "./data/sync_status.json"
	}
	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 50
	}
}

func applyVectorDefaults(v *VectorConfig) {
	if v.Backend == "" {
		v.Backend = "qdrant"
	}
	if v.Collection == "" {
		v.Collection = DefaultCollection
	}
	if v.Qdrant.Host == "" {
		v.Qdrant.Host = "localhost"
	}
	if v.Qdrant.Port == 0 {
		v.Qdrant.Port = 6334
	}
	if v.SQLitePath == "" {
		v.SQLitePath = "./data/vectors.db"
	}
	if v.BatchSize == 0 {
		v.BatchSize = 64
	}
	if v.PageSize == 0 {
		v.PageSize = 256
	}
	if v.RequestTimeout == 0 {
		v.RequestTimeout = 30 * time.Second
	}
	if v.MaxRetries == 0 {
		v.MaxRetries = 2
	}
	if v.RetryInitialDelay == 0 {
		v.RetryInitialDelay = 200 * time.Millisecond
	}
	if v.BreakerFailures == 0 {
		v.BreakerFailures = 5
	}
	if v.BreakerReset == 0 {
		v.BreakerReset = 30 * time.Second
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "openai"
	}
	if e.Model == "" {
		e.Model = "text-embedding-3-small"
	}
	if e.ModelPath == "" {
		e.ModelPath = "./data/models/all-MiniLM-L6-v2.onnx"
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.RequestTimeout == 0 {
		e.RequestTimeout = 30 * time.Second
	}
	if e.RequestsPerSecond == 0 {
		e.RequestsPerSecond = 5
	}
	if e.MaxConcurrent == 0 {
		e.MaxConcurrent = 4
	}
}

func applyLLMDefaults(l *LLMConfig) {
	if l.Provider == "" {
		l.Provider = "none"
	}
	if l.Model == "" {
		l.Model = "gpt-4o-mini"
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 512
	}
	if l.Temperature == 0 {
		l.Temperature = 0.7
	}
	if l.TopP == 0 {
		l.TopP = 0.9
	}
	if l.Timeout == 0 {
		l.Timeout = 120 * time.Second
	}
}
