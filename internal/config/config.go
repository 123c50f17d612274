// Package config loads service settings from an optional YAML file, an
// optional .env file and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider backends.
const (
	ProviderONNX   = "onnx"
	ProviderRemote = "remote"
)

// Settings is the resolved service configuration.
type Settings struct {
	Port int

	ModelPath         string
	MetadataPath      string
	CatalogPath       string
	CatalogIDColumn   string
	Provider          string
	RemoteURL         string
	RemoteTimeout     time.Duration
	Device            string
	SharedLibraryPath string

	LogLevel  string
	LogFormat string

	MaxUploadBytes  int64
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ConfigFile mirrors the YAML layout.
type ConfigFile struct {
	Server struct {
		Port            int    `yaml:"port"`
		MaxUploadBytes  int64  `yaml:"maxUploadBytes"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Model struct {
		Path              string `yaml:"path"`
		MetadataPath      string `yaml:"metadataPath"`
		Provider          string `yaml:"provider"`
		RemoteURL         string `yaml:"remoteURL"`
		RemoteTimeout     string `yaml:"remoteTimeout"`
		Device            string `yaml:"device"`
		SharedLibraryPath string `yaml:"sharedLibraryPath"`
	} `yaml:"model"`

	Catalog struct {
		Path     string `yaml:"path"`
		IDColumn string `yaml:"idColumn"`
	} `yaml:"catalog"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Port:            8000,
		ModelPath:       "models/best_vit_model.onnx",
		MetadataPath:    "models/model_metadata.json",
		CatalogPath:     "models/train_data.csv",
		CatalogIDColumn: "ID",
		Provider:        ProviderONNX,
		RemoteTimeout:   30 * time.Second,
		Device:          "auto",
		LogLevel:        "info",
		LogFormat:       "console",
		MaxUploadBytes:  32 << 20,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load resolves settings. A .env file in the working directory is loaded
// first if present; CONFIG_FILE names an optional YAML file; environment
// variables win over both.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	settings := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyYAML(&settings, path); err != nil {
			return Settings{}, err
		}
	}
	if err := applyEnv(&settings); err != nil {
		return Settings{}, err
	}

	if err := validate(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func applyYAML(s *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&s.ModelPath, file.Model.Path)
	setString(&s.MetadataPath, file.Model.MetadataPath)
	setString(&s.Provider, file.Model.Provider)
	setString(&s.RemoteURL, file.Model.RemoteURL)
	setString(&s.Device, file.Model.Device)
	setString(&s.SharedLibraryPath, file.Model.SharedLibraryPath)
	setString(&s.CatalogPath, file.Catalog.Path)
	setString(&s.CatalogIDColumn, file.Catalog.IDColumn)
	setString(&s.LogLevel, file.Log.Level)
	setString(&s.LogFormat, file.Log.Format)

	if file.Server.Port != 0 {
		s.Port = file.Server.Port
	}
	if file.Server.MaxUploadBytes != 0 {
		s.MaxUploadBytes = file.Server.MaxUploadBytes
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"server.readTimeout", file.Server.ReadTimeout, &s.ReadTimeout},
		{"server.writeTimeout", file.Server.WriteTimeout, &s.WriteTimeout},
		{"server.shutdownTimeout", file.Server.ShutdownTimeout, &s.ShutdownTimeout},
		{"model.remoteTimeout", file.Model.RemoteTimeout, &s.RemoteTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}
	return nil
}

func applyEnv(s *Settings) error {
	setString(&s.ModelPath, os.Getenv("MODEL_PATH"))
	setString(&s.MetadataPath, os.Getenv("METADATA_PATH"))
	setString(&s.CatalogPath, os.Getenv("CATALOG_PATH"))
	setString(&s.CatalogIDColumn, os.Getenv("CATALOG_ID_COLUMN"))
	setString(&s.Provider, os.Getenv("PROVIDER"))
	setString(&s.RemoteURL, os.Getenv("REMOTE_URL"))
	setString(&s.Device, os.Getenv("DEVICE"))
	setString(&s.SharedLibraryPath, os.Getenv("ONNXRUNTIME_LIB"))
	setString(&s.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&s.LogFormat, os.Getenv("LOG_FORMAT"))

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		s.Port = port
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		s.MaxUploadBytes = n
	}

	for key, dst := range map[string]*time.Duration{
		"READ_TIMEOUT":     &s.ReadTimeout,
		"WRITE_TIMEOUT":    &s.WriteTimeout,
		"SHUTDOWN_TIMEOUT": &s.ShutdownTimeout,
		"REMOTE_TIMEOUT":   &s.RemoteTimeout,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func validate(s *Settings) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.CatalogPath == "" {
		return errors.New("catalog path cannot be empty")
	}
	if s.CatalogIDColumn == "" {
		return errors.New("catalog id column cannot be empty")
	}

	switch s.Provider {
	case ProviderONNX:
		if s.ModelPath == "" || s.MetadataPath == "" {
			return errors.New("onnx provider needs model and metadata paths")
		}
		switch s.Device {
		case "auto", "cpu", "cuda":
		default:
			return fmt.Errorf("device must be auto, cpu or cuda, got %q", s.Device)
		}
	case ProviderRemote:
		if s.RemoteURL == "" {
			return errors.New("remote provider needs REMOTE_URL")
		}
	default:
		return fmt.Errorf("provider must be %q or %q, got %q", ProviderONNX, ProviderRemote, s.Provider)
	}

	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format must be console or json, got %q", s.LogFormat)
	}

	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive, got %d", s.MaxUploadBytes)
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return errors.New("read and write timeouts must be positive")
	}
	return nil
}
