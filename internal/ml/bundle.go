package ml

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"koi-classifier/internal/common"
	"koi-classifier/internal/features"
)

// Bundle is an immutable, loaded model: scaler, classifier, label codec and
// optional manifest. It is safe for concurrent use.
type Bundle struct {
	dir        string
	manifest   *Manifest
	scaler     *Scaler
	classifier Classifier
	codec      *Codec
	loadedAt   time.Time
	modTime    time.Time
}

// NewBundle assembles a bundle from its parts after checking they agree.
func NewBundle(scaler *Scaler, clf Classifier, codec *Codec, manifest *Manifest) (*Bundle, error) {
	if scaler == nil || clf == nil || codec == nil {
		return nil, fmt.Errorf("bundle requires scaler, classifier and label codec")
	}
	if err := scaler.validate(); err != nil {
		return nil, err
	}
	if ens, ok := clf.(*Ensemble); ok {
		if err := ens.validate(); err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
	}
	if clf.NumFeatures() != scaler.Width() {
		return nil, fmt.Errorf("classifier expects %d features but scaler has %d", clf.NumFeatures(), scaler.Width())
	}
	if clf.NumClasses() != codec.Size() {
		return nil, fmt.Errorf("classifier has %d classes but label codec has %d", clf.NumClasses(), codec.Size())
	}
	if manifest != nil {
		if len(manifest.FeatureNames) != scaler.Width() {
			return nil, fmt.Errorf("manifest lists %d features but scaler has %d", len(manifest.FeatureNames), scaler.Width())
		}
		for i, name := range manifest.FeatureNames {
			if scaler.FeatureNames[i] != name {
				return nil, fmt.Errorf("feature %d is %q in manifest but %q in scaler", i, name, scaler.FeatureNames[i])
			}
		}
	}
	return &Bundle{
		manifest:   manifest,
		scaler:     scaler,
		classifier: clf,
		codec:      codec,
		loadedAt:   time.Now(),
	}, nil
}

// LoadBundle reads a bundle directory. On any failure it returns a
// *BundleLoadError and no bundle.
func LoadBundle(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &BundleLoadError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, bundleErr(dir, "not a directory")
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, &BundleLoadError{Path: dir, Err: err}
	}
	arts := Artifacts{}.withDefaults()
	if manifest != nil {
		arts = manifest.Artifacts
	}
	if manifest == nil || manifest.Artifacts.Classifier == common.ClassifierFile {
		arts.Classifier = resolveClassifierFile(dir, arts.Classifier)
	}

	var (
		scaler Scaler
		ens    Ensemble
		codec  Codec
	)
	var g errgroup.Group
	g.Go(func() error { return loadArtifact(dir, arts.Scaler, manifest, &scaler) })
	g.Go(func() error { return loadArtifact(dir, arts.Classifier, manifest, &ens) })
	g.Go(func() error { return loadArtifact(dir, arts.Labels, manifest, &codec) })
	if err := g.Wait(); err != nil {
		return nil, &BundleLoadError{Path: dir, Err: err}
	}

	b, err := NewBundle(&scaler, &ens, &codec, manifest)
	if err != nil {
		return nil, &BundleLoadError{Path: dir, Err: err}
	}
	b.dir = dir
	if st, err := os.Stat(filepath.Join(dir, arts.Classifier)); err == nil {
		b.modTime = st.ModTime()
	}

	log.Info().
		Str("dir", dir).
		Str("version", b.Version()).
		Int("features", scaler.Width()).
		Int("estimators", len(ens.Estimators)).
		Strs("classes", codec.Classes()).
		Msg("Model bundle loaded")
	return b, nil
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, common.ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// resolveClassifierFile falls back to the gzip variant when the plain file is absent.
func resolveClassifierFile(dir, name string) string {
	if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
		return name
	}
	if _, err := os.Stat(filepath.Join(dir, name+".gz")); err == nil {
		return name + ".gz"
	}
	return name
}

func loadArtifact(dir, name string, manifest *Manifest, into any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if manifest != nil {
		if want, ok := manifest.Checksums[name]; ok {
			if got := checksum(data); got != want {
				return fmt.Errorf("%s checksum mismatch: got %s, want %s", name, got, want)
			}
		}
	}
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("decompress %s: %w", name, err)
		}
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Dir returns the directory the bundle was loaded from, if any.
func (b *Bundle) Dir() string { return b.dir }

// Manifest returns the manifest, or nil when the bundle has none.
func (b *Bundle) Manifest() *Manifest { return b.manifest }

// FeatureNames returns the ordered feature columns the classifier consumes.
func (b *Bundle) FeatureNames() []string {
	return append([]string(nil), b.scaler.FeatureNames...)
}

func (b *Bundle) Scaler() *Scaler { return b.scaler }

func (b *Bundle) Classifier() Classifier { return b.classifier }

func (b *Bundle) Codec() *Codec { return b.codec }

// Stats returns the frozen preprocessing statistics, or nil.
func (b *Bundle) Stats() features.Stats {
	if b.manifest == nil {
		return nil
	}
	return b.manifest.Stats
}

// Version returns the manifest version or "unversioned".
func (b *Bundle) Version() string {
	if b.manifest == nil || b.manifest.Version == "" {
		return "unversioned"
	}
	return b.manifest.Version
}

// Age is the time since the model was trained, or since its files were written.
func (b *Bundle) Age() time.Duration {
	if b.manifest != nil && !b.manifest.TrainedAt.IsZero() {
		return time.Since(b.manifest.TrainedAt)
	}
	if !b.modTime.IsZero() {
		return time.Since(b.modTime)
	}
	return time.Since(b.loadedAt)
}

// LoadedAt reports when the bundle was assembled.
func (b *Bundle) LoadedAt() time.Time { return b.loadedAt }

// BundleFiles are the parts written by SaveBundle.
type BundleFiles struct {
	Scaler   *Scaler
	Ensemble *Ensemble
	Codec    *Codec
	Manifest *Manifest
	Gzip     bool
}

// SaveBundle writes a bundle directory. When a manifest is given its artifact
// names and checksums are filled in before it is written.
func SaveBundle(dir string, f BundleFiles) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	clfName := common.ClassifierFile
	if f.Gzip {
		clfName = common.ClassifierFileGzip
	}

	encoded := map[string][]byte{}
	var err error
	if encoded[common.ScalerFile], err = json.MarshalIndent(f.Scaler, "", "  "); err != nil {
		return err
	}
	if encoded[common.LabelsFile], err = json.MarshalIndent(f.Codec, "", "  "); err != nil {
		return err
	}
	clf, err := json.Marshal(f.Ensemble)
	if err != nil {
		return err
	}
	if f.Gzip {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(clf); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		clf = buf.Bytes()
	}
	encoded[clfName] = clf

	for name, data := range encoded {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}

	if f.Manifest == nil {
		return nil
	}
	m := *f.Manifest
	m.Artifacts = Artifacts{Scaler: common.ScalerFile, Classifier: clfName, Labels: common.LabelsFile}
	m.Checksums = make(map[string]string, len(encoded))
	for name, data := range encoded {
		m.Checksums[name] = checksum(data)
	}
	if len(m.FeatureNames) == 0 {
		m.FeatureNames = f.Scaler.FeatureNames
	}
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, common.ManifestFile), data, 0o644)
}
