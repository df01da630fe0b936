package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"koi-classifier/internal/common"
)

// ModelVersion represents a registered model bundle
type ModelVersion struct {
	Version   string             `json:"version"`
	Path      string             `json:"path"`
	CreatedAt time.Time          `json:"created_at"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	IsActive  bool               `json:"is_active"`
}

// ModelManager handles bundle versioning and rollback under a models root
type ModelManager struct {
	mu           sync.Mutex
	modelsDir    string
	versionsFile string
	versions     []ModelVersion
	currentModel *ModelVersion
}

// NewModelManager creates a new model manager
func NewModelManager(modelsDir string) (*ModelManager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	mm := &ModelManager{
		modelsDir:    modelsDir,
		versionsFile: filepath.Join(modelsDir, common.VersionsFile),
		versions:     make([]ModelVersion, 0),
	}

	// Load existing versions if available
	if err := mm.loadVersions(); err != nil {
		log.Warn().Err(err).Msg("Failed to load model versions, starting fresh")
	}

	return mm, nil
}

// Register validates the bundle at bundleDir and records it as a new,
// inactive version. The manifest version is used when present.
func (mm *ModelManager) Register(bundleDir string) (*ModelVersion, error) {
	b, err := LoadBundle(mm.abs(bundleDir))
	if err != nil {
		return nil, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	version := ModelVersion{
		Version:   time.Now().Format("20060102-150405"),
		Path:      bundleDir,
		CreatedAt: time.Now(),
	}
	if m := b.Manifest(); m != nil {
		version.Version = m.Version
		version.Metrics = m.Metrics
		if !m.TrainedAt.IsZero() {
			version.CreatedAt = m.TrainedAt
		}
	}
	for _, v := range mm.versions {
		if v.Version == version.Version {
			return nil, fmt.Errorf("version %s already registered", version.Version)
		}
	}

	mm.versions = append(mm.versions, version)

	// Newest first
	sort.SliceStable(mm.versions, func(i, j int) bool {
		return mm.versions[i].CreatedAt.After(mm.versions[j].CreatedAt)
	})
	mm.relinkCurrent()

	if err := mm.saveVersions(); err != nil {
		return nil, err
	}
	return &version, nil
}

// ActivateVersion activates a specific model version
func (mm *ModelManager) ActivateVersion(version string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.activate(version)
}

func (mm *ModelManager) activate(version string) error {
	found := false
	for i := range mm.versions {
		if mm.versions[i].Version == version {
			mm.versions[i].IsActive = true
			mm.currentModel = &mm.versions[i]
			found = true
		} else {
			mm.versions[i].IsActive = false
		}
	}

	if !found {
		return fmt.Errorf("version %s not found", version)
	}

	return mm.saveVersions()
}

// Rollback activates the version registered before the active one
func (mm *ModelManager) Rollback() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if len(mm.versions) < 2 {
		return fmt.Errorf("no previous version available for rollback")
	}

	currentIdx := -1
	for i, v := range mm.versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}

	if currentIdx == -1 {
		return fmt.Errorf("no active version found")
	}

	if currentIdx+1 < len(mm.versions) {
		return mm.activate(mm.versions[currentIdx+1].Version)
	}

	return fmt.Errorf("no previous version available")
}

// GetCurrentVersion returns the currently active version
func (mm *ModelManager) GetCurrentVersion() *ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.currentModel == nil {
		return nil
	}
	v := *mm.currentModel
	return &v
}

// ListVersions returns all model versions, newest first
func (mm *ModelManager) ListVersions() []ModelVersion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return append([]ModelVersion(nil), mm.versions...)
}

// ActiveBundleDir returns the directory of the active version.
func (mm *ModelManager) ActiveBundleDir() (string, error) {
	cur := mm.GetCurrentVersion()
	if cur == nil {
		return "", fmt.Errorf("no active model version in %s", mm.modelsDir)
	}
	return mm.abs(cur.Path), nil
}

func (mm *ModelManager) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(mm.modelsDir, p)
}

// relinkCurrent repoints currentModel after the slice was reordered.
func (mm *ModelManager) relinkCurrent() {
	mm.currentModel = nil
	for i := range mm.versions {
		if mm.versions[i].IsActive {
			mm.currentModel = &mm.versions[i]
			return
		}
	}
}

// loadVersions loads model versions from file
func (mm *ModelManager) loadVersions() error {
	data, err := os.ReadFile(mm.versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := json.Unmarshal(data, &mm.versions); err != nil {
		return err
	}
	mm.relinkCurrent()
	return nil
}

// saveVersions saves model versions to file
func (mm *ModelManager) saveVersions() error {
	data, err := json.MarshalIndent(mm.versions, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(mm.versionsFile, data, 0o600)
}

// ResolveBundleDir accepts either a bundle directory or a models root with a
// version registry and returns the bundle directory to load.
func ResolveBundleDir(path string) (string, error) {
	for _, marker := range []string{common.ManifestFile, common.ScalerFile} {
		if _, err := os.Stat(filepath.Join(path, marker)); err == nil {
			return path, nil
		}
	}
	if _, err := os.Stat(filepath.Join(path, common.VersionsFile)); err != nil {
		return "", &BundleLoadError{Path: path, Err: fmt.Errorf("neither a bundle nor a models root")}
	}
	mm, err := NewModelManager(path)
	if err != nil {
		return "", err
	}
	dir, err := mm.ActiveBundleDir()
	if err != nil {
		return "", &BundleLoadError{Path: path, Err: err}
	}
	return dir, nil
}
