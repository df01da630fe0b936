package cfg

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"koi-classifier/internal/features"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name:    "defaults",
			envVars: map[string]string{},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelPath != "models" {
					t.Errorf("expected default ModelPath 'models', got %s", settings.ModelPath)
				}
				if settings.ListenPort != 8000 {
					t.Errorf("expected default ListenPort 8000, got %d", settings.ListenPort)
				}
				if settings.StatsMode != features.StatsBatch {
					t.Errorf("expected default stats mode batch, got %s", settings.StatsMode)
				}
				if len(settings.AllowedOrigins) != 2 || settings.AllowedOrigins[0] != "http://localhost:3000" {
					t.Errorf("expected default origins, got %v", settings.AllowedOrigins)
				}
				if settings.ArchiveTimeout != 30*time.Second {
					t.Errorf("expected default ArchiveTimeout 30s, got %v", settings.ArchiveTimeout)
				}
				if len(settings.RequiredFields) != 0 {
					t.Errorf("expected no required fields, got %v", settings.RequiredFields)
				}
			},
		},
		{
			name: "custom settings",
			envVars: map[string]string{
				"MODEL_PATH":       "/srv/bundles/2025.02",
				"LISTEN_PORT":      "9000",
				"STATS_MODE":       "Frozen",
				"REQUIRED_FIELDS":  "koi_period, koi_depth",
				"ALLOWED_ORIGINS":  "https://exo.example.org",
				"ARCHIVE_TIMEOUT":  "5s",
				"MAX_BATCH_ROWS":   "500",
				"MAX_UPLOAD_BYTES": "1048576",
				"LOG_LEVEL":        "debug",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelPath != "/srv/bundles/2025.02" {
					t.Errorf("expected ModelPath override, got %s", settings.ModelPath)
				}
				if settings.ListenPort != 9000 {
					t.Errorf("expected ListenPort 9000, got %d", settings.ListenPort)
				}
				if settings.StatsMode != features.StatsFrozen {
					t.Errorf("expected stats mode frozen, got %s", settings.StatsMode)
				}
				if len(settings.RequiredFields) != 2 || settings.RequiredFields[1] != "koi_depth" {
					t.Errorf("expected trimmed required fields, got %v", settings.RequiredFields)
				}
				if settings.ArchiveTimeout != 5*time.Second {
					t.Errorf("expected ArchiveTimeout 5s, got %v", settings.ArchiveTimeout)
				}
				if settings.MaxBatchRows != 500 || settings.MaxUploadBytes != 1<<20 {
					t.Errorf("unexpected limits %d/%d", settings.MaxBatchRows, settings.MaxUploadBytes)
				}
			},
		},
		{
			name:    "unknown stats mode",
			envVars: map[string]string{"STATS_MODE": "training"},
			wantErr: true,
		},
		{
			name:    "unknown required field",
			envVars: map[string]string{"REQUIRED_FIELDS": "koi_kepmag"},
			wantErr: true,
		},
		{
			name:    "port out of range",
			envVars: map[string]string{"LISTEN_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "bad log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name: "valid YAML config",
			yamlContent: `
model:
  path: "/models"
  statsMode: "row"
  requiredFields: ["koi_period"]
  defaults:
    koi_depth: 500

server:
  port: 8080
  allowedOrigins: ["https://a.example", "https://b.example"]
  maxBatchRows: 2000
  shutdownTimeout: "20s"

archive:
  timeout: "10s"

system:
  dataPath: "/var/lib/koi"
  catalogPath: "/data/NASA.json"
  logLevel: "warn"
`,
			validate: func(t *testing.T, settings Settings) {
				if settings.ModelPath != "/models" {
					t.Errorf("expected ModelPath '/models', got %s", settings.ModelPath)
				}
				if settings.StatsMode != features.StatsRow {
					t.Errorf("expected stats mode row, got %s", settings.StatsMode)
				}
				if settings.ListenPort != 8080 {
					t.Errorf("expected ListenPort 8080, got %d", settings.ListenPort)
				}
				if len(settings.AllowedOrigins) != 2 {
					t.Errorf("expected 2 origins, got %v", settings.AllowedOrigins)
				}
				if settings.ShutdownTimeout != 20*time.Second {
					t.Errorf("expected ShutdownTimeout 20s, got %v", settings.ShutdownTimeout)
				}
				if settings.ArchiveURL == "" {
					t.Error("expected default archive URL")
				}
				if settings.DataPath != "/var/lib/koi" {
					t.Errorf("expected DataPath '/var/lib/koi', got %s", settings.DataPath)
				}

				schema, err := settings.Schema()
				if err != nil {
					t.Fatalf("schema: %v", err)
				}
				if def, _ := schema.Default(features.Depth); def != 500 {
					t.Errorf("expected koi_depth default 500, got %f", def)
				}
				if _, ok := schema.Default(features.Period); ok {
					t.Error("expected koi_period to be required")
				}
			},
		},
		{
			name: "YAML with env overrides",
			yamlContent: `
model:
  statsMode: "row"
server:
  port: 8080
`,
			envOverrides: map[string]string{
				"STATS_MODE":  "batch",
				"LISTEN_PORT": "9999",
			},
			validate: func(t *testing.T, settings Settings) {
				if settings.StatsMode != features.StatsBatch {
					t.Errorf("expected env override stats mode batch, got %s", settings.StatsMode)
				}
				if settings.ListenPort != 9999 {
					t.Errorf("expected env override port 9999, got %d", settings.ListenPort)
				}
				if settings.ModelPath != "models" {
					t.Errorf("expected default ModelPath, got %s", settings.ModelPath)
				}
			},
		},
		{
			name: "YAML with invalid default override",
			yamlContent: `
model:
  defaults:
    koi_unknown: 1
`,
			wantErr: true,
		},
		{
			name:        "invalid YAML",
			yamlContent: `invalid: yaml: content: [`,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad_UsesConfigFile(t *testing.T) {
	clearTestEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 8111\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", configPath)

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.ListenPort != 8111 {
		t.Errorf("expected port from config file, got %d", settings.ListenPort)
	}
}

func TestLoadFromYAML_MissingFile(t *testing.T) {
	if _, err := loadFromYAML(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidateSettings(t *testing.T) {
	valid := func() *Settings {
		return &Settings{
			ModelPath:       "models",
			ListenPort:      8000,
			StatsMode:       features.StatsBatch,
			ArchiveURL:      "https://archive.example",
			SkyViewURL:      "https://skyview.example",
			ArchiveTimeout:  10 * time.Second,
			AllowedOrigins:  []string{"http://localhost"},
			MaxUploadBytes:  1 << 20,
			MaxBatchRows:    100,
			LogLevel:        "info",
			ShutdownTimeout: 5 * time.Second,
		}
	}

	if err := validateSettings(valid()); err != nil {
		t.Fatalf("Expected valid config to pass, got error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"empty model path", func(s *Settings) { s.ModelPath = "" }},
		{"zero port", func(s *Settings) { s.ListenPort = 0 }},
		{"empty archive URL", func(s *Settings) { s.ArchiveURL = "" }},
		{"archive timeout too short", func(s *Settings) { s.ArchiveTimeout = 10 * time.Millisecond }},
		{"shutdown timeout too long", func(s *Settings) { s.ShutdownTimeout = time.Hour }},
		{"no upload budget", func(s *Settings) { s.MaxUploadBytes = 0 }},
		{"no batch rows", func(s *Settings) { s.MaxBatchRows = 0 }},
		{"no origins", func(s *Settings) { s.AllowedOrigins = nil }},
		{"non-finite default", func(s *Settings) {
			s.DefaultOverrides = map[string]float64{features.Depth: math.Inf(1)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			if err := validateSettings(s); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func clearTestEnv(t *testing.T) {
	envVars := []string{
		"CONFIG_FILE", "MODEL_PATH", "DATA_PATH", "LISTEN_PORT", "STATS_MODE",
		"REQUIRED_FIELDS", "CATALOG_PATH", "ARCHIVE_URL", "SKYVIEW_URL",
		"ARCHIVE_TIMEOUT", "ALLOWED_ORIGINS", "MAX_UPLOAD_BYTES", "MAX_BATCH_ROWS",
		"LOG_LEVEL", "SHUTDOWN_TIMEOUT",
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}
