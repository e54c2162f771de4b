package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// DefaultGalleryRoot is the gallery directory used when FACEGALLERY_DIR is unset.
const DefaultGalleryRoot = "db"

type Config struct {
	Gallery   GalleryConfig
	Embedding EmbeddingConfig
	Download  DownloadConfig
	Models    ModelsConfig
}

type GalleryConfig struct {
	Root    string // gallery root directory, one subdirectory per identity
	NoCache bool   // skip the embedding cache entirely
}

type EmbeddingConfig struct {
	URL            string // face embedding service URL (defaults to http://localhost:8000)
	Model          string // model name the service is expected to run (defaults to buffalo_l)
	TimeoutSeconds int    // per-request timeout (default 60)
}

type DownloadConfig struct {
	TimeoutSeconds int // remote image fetch timeout (default 30)
}

type ModelsConfig struct {
	Models map[string]ModelProfile `yaml:"models"`
}

// ModelProfile describes a known embedding model.
type ModelProfile struct {
	Dim int `yaml:"dim"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envBool treats "1" and "true" (any case) as true.
func envBool(key string) bool {
	switch os.Getenv(key) {
	case "1", "true", "TRUE", "True":
		return true
	}
	return false
}

func Load() *Config {
	var models ModelsConfig
	if err := yaml.Unmarshal(modelsYAML, &models); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}

	root := os.Getenv("FACEGALLERY_DIR")
	if root == "" {
		root = DefaultGalleryRoot
	}

	return &Config{
		Gallery: GalleryConfig{
			Root:    root,
			NoCache: envBool("FACEGALLERY_NO_CACHE"),
		},
		Embedding: EmbeddingConfig{
			URL:            os.Getenv("EMBEDDING_URL"),
			Model:          os.Getenv("EMBEDDING_MODEL"),
			TimeoutSeconds: envInt("EMBEDDING_TIMEOUT", 60),
		},
		Download: DownloadConfig{
			TimeoutSeconds: envInt("DOWNLOAD_TIMEOUT", 30),
		},
		Models: models,
	}
}

// ModelProfile returns the profile for a known embedding model.
// The second return value reports whether the model is known.
func (c *Config) ModelProfile(modelName string) (ModelProfile, bool) {
	profile, ok := c.Models.Models[modelName]
	return profile, ok
}
