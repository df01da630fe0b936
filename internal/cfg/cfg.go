package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"koi-classifier/internal/common"
	"koi-classifier/internal/features"
)

type Settings struct {
	ModelPath        string
	DataPath         string
	ListenPort       int
	StatsMode        features.StatsMode
	RequiredFields   []string
	DefaultOverrides map[string]float64
	CatalogPath      string
	ArchiveURL       string
	SkyViewURL       string
	ArchiveTimeout   time.Duration
	AllowedOrigins   []string
	MaxUploadBytes   int64
	MaxBatchRows     int
	LogLevel         string
	ShutdownTimeout  time.Duration
}

type ConfigFile struct {
	Model struct {
		Path           string             `yaml:"path"`
		StatsMode      string             `yaml:"statsMode"`
		RequiredFields []string           `yaml:"requiredFields"`
		Defaults       map[string]float64 `yaml:"defaults"`
	} `yaml:"model"`

	Server struct {
		Port            int      `yaml:"port"`
		AllowedOrigins  []string `yaml:"allowedOrigins"`
		MaxUploadBytes  int64    `yaml:"maxUploadBytes"`
		MaxBatchRows    int      `yaml:"maxBatchRows"`
		ShutdownTimeout string   `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Archive struct {
		URL        string `yaml:"url"`
		SkyViewURL string `yaml:"skyviewURL"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"archive"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		CatalogPath string `yaml:"catalogPath"`
		LogLevel    string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load reads an optional .env file, then a YAML config file when CONFIG_FILE
// is set, otherwise environment variables. Environment values override YAML.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to read .env file")
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

// Schema builds the reconciliation schema from the configured required
// fields and default overrides.
func (s *Settings) Schema() (features.Schema, error) {
	return features.NewSchema(s.RequiredFields, s.DefaultOverrides)
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Parse durations
	archiveTimeout, err := time.ParseDuration(config.Archive.Timeout)
	if err != nil {
		archiveTimeout = common.DefaultArchiveTimeoutS * time.Second
	}

	shutdown, err := time.ParseDuration(config.Server.ShutdownTimeout)
	if err != nil {
		shutdown = common.DefaultShutdownS * time.Second
	}

	settings := Settings{
		ModelPath:        getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		DataPath:         getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		ListenPort:       getIntFromEnvOrConfig(common.EnvListenPort, config.Server.Port, common.DefaultListenPort),
		StatsMode:        features.StatsMode(getEnvOrDefault(common.EnvStatsMode, orDefault(config.Model.StatsMode, common.DefaultStatsMode))),
		RequiredFields:   getListFromEnvOrConfig(common.EnvRequiredFields, config.Model.RequiredFields, nil),
		DefaultOverrides: config.Model.Defaults,
		CatalogPath:      getEnvOrDefault(common.EnvCatalogPath, orDefault(config.System.CatalogPath, common.DefaultCatalogPath)),
		ArchiveURL:       getEnvOrDefault(common.EnvArchiveURL, orDefault(config.Archive.URL, common.DefaultArchiveURL)),
		SkyViewURL:       getEnvOrDefault(common.EnvSkyViewURL, orDefault(config.Archive.SkyViewURL, common.DefaultSkyViewURL)),
		ArchiveTimeout:   getDurationOrDefault(common.EnvArchiveTimeout, archiveTimeout),
		AllowedOrigins:   getListFromEnvOrConfig(common.EnvAllowedOrigins, config.Server.AllowedOrigins, splitOrDefault(common.DefaultAllowedOrigins, nil)),
		MaxUploadBytes:   int64(getIntFromEnvOrConfig(common.EnvMaxUploadBytes, int(config.Server.MaxUploadBytes), common.DefaultMaxUploadBytes)),
		MaxBatchRows:     getIntFromEnvOrConfig(common.EnvMaxBatchRows, config.Server.MaxBatchRows, common.DefaultMaxBatchRows),
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		ShutdownTimeout:  getDurationOrDefault(common.EnvShutdownTimeout, shutdown),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ModelPath:       getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		DataPath:        os.Getenv(common.EnvDataPath), // optional
		ListenPort:      getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		StatsMode:       features.StatsMode(getEnvOrDefault(common.EnvStatsMode, common.DefaultStatsMode)),
		RequiredFields:  splitOrDefault(os.Getenv(common.EnvRequiredFields), nil),
		CatalogPath:     getEnvOrDefault(common.EnvCatalogPath, common.DefaultCatalogPath),
		ArchiveURL:      getEnvOrDefault(common.EnvArchiveURL, common.DefaultArchiveURL),
		SkyViewURL:      getEnvOrDefault(common.EnvSkyViewURL, common.DefaultSkyViewURL),
		ArchiveTimeout:  getDurationOrDefault(common.EnvArchiveTimeout, common.DefaultArchiveTimeoutS*time.Second),
		AllowedOrigins:  splitOrDefault(getEnvOrDefault(common.EnvAllowedOrigins, common.DefaultAllowedOrigins), nil),
		MaxUploadBytes:  int64(getIntOrDefault(common.EnvMaxUploadBytes, common.DefaultMaxUploadBytes)),
		MaxBatchRows:    getIntOrDefault(common.EnvMaxBatchRows, common.DefaultMaxBatchRows),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		ShutdownTimeout: getDurationOrDefault(common.EnvShutdownTimeout, common.DefaultShutdownS*time.Second),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getListFromEnvOrConfig(key string, configValue, def []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, def)
	}
	if len(configValue) > 0 {
		return configValue
	}
	return def
}

func getIntFromEnvOrConfig(key string, configValue, def int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return def
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	mode, err := features.ParseStatsMode(string(settings.StatsMode))
	if err != nil {
		return err
	}
	settings.StatsMode = mode

	if _, err := settings.Schema(); err != nil {
		return fmt.Errorf("invalid feature schema: %w", err)
	}

	if settings.ListenPort < 1 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1 and 65535, got %d", settings.ListenPort)
	}

	// Validate URLs
	if settings.ArchiveURL == "" {
		return fmt.Errorf("archive URL cannot be empty")
	}
	if settings.SkyViewURL == "" {
		return fmt.Errorf("SkyView URL cannot be empty")
	}

	// Validate time durations
	if settings.ArchiveTimeout < time.Second || settings.ArchiveTimeout > 2*time.Minute {
		return fmt.Errorf("archive timeout must be between 1s and 2m, got %v", settings.ArchiveTimeout)
	}
	if settings.ShutdownTimeout < time.Second || settings.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 5m, got %v", settings.ShutdownTimeout)
	}

	// Validate limits
	if settings.MaxUploadBytes <= 0 || settings.MaxUploadBytes > 1<<30 {
		return fmt.Errorf("max upload size must be between 1 byte and 1 GiB, got %d", settings.MaxUploadBytes)
	}
	if settings.MaxBatchRows <= 0 || settings.MaxBatchRows > 10_000_000 {
		return fmt.Errorf("max batch rows must be between 1 and 10000000, got %d", settings.MaxBatchRows)
	}

	if len(settings.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
