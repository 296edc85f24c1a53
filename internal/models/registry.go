package models

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed registry.json
var embeddedRegistry []byte

// RequiredFiles must exist in every installed model directory.
var RequiredFiles = []string{"model.onnx", "labels.json", "tokenizer.json"}

const installRecordFile = "install.json"

// installRecord is written next to the model files at install time.
type installRecord struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Checksum    string `json:"checksum"`
	Source      string `json:"source"`
	InstalledAt string `json:"installed_at"`
}

func writeInstallRecord(dir string, rec installRecord) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, installRecordFile), append(raw, '\n'), 0o644)
}

func readInstallRecord(dir string) (installRecord, error) {
	var rec installRecord
	raw, err := os.ReadFile(filepath.Join(dir, installRecordFile))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("parse %s: %w", installRecordFile, err)
	}
	return rec, nil
}

type Registry struct {
	Version string      `json:"version"`
	Models  []ModelSpec `json:"models"`
}

type Accuracy struct {
	F1Score   float64 `json:"f1_score"`
	Benchmark string  `json:"benchmark"`
}

type Requirements struct {
	MinMemoryMB int    `json:"min_memory_mb"`
	ONNXVersion string `json:"onnx_version"`
}

// ModelSpec describes a downloadable model. Archive is resolved against the
// configured base URL unless URL is absolute. An empty Checksum is fetched
// from "<archive>.sha256" next to the archive.
type ModelSpec struct {
	Name         string       `json:"name"`
	DisplayName  string       `json:"display_name"`
	Version      string       `json:"version"`
	Language     string       `json:"language"`
	Archive      string       `json:"archive,omitempty"`
	URL          string       `json:"url,omitempty"`
	Checksum     string       `json:"checksum,omitempty"`
	SizeBytes    int64        `json:"size_bytes"`
	EntityTypes  []string     `json:"entity_types"`
	Description  string       `json:"description"`
	Architecture string       `json:"architecture"`
	Accuracy     Accuracy     `json:"accuracy"`
	Requirements Requirements `json:"requirements"`
	License      string       `json:"license"`
	Recommended  bool         `json:"recommended"`
}

// ErrNoBaseURL is returned when a model has no absolute URL and no base URL
// is configured.
var ErrNoBaseURL = errors.New("no model download location configured (set models.base_url)")

// ResolveURL returns the archive URL for m.
func (m ModelSpec) ResolveURL(baseURL string) (string, error) {
	if m.URL != "" {
		return m.URL, nil
	}
	if strings.TrimSpace(baseURL) == "" {
		return "", ErrNoBaseURL
	}
	archive := m.Archive
	if archive == "" {
		archive = m.Name + "-" + m.Version + ".tar.gz"
	}
	return url.JoinPath(baseURL, archive)
}

func LoadEmbeddedRegistry() (Registry, error) {
	return parseRegistry(embeddedRegistry)
}

func parseRegistry(data []byte) (Registry, error) {
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return Registry{}, fmt.Errorf("parse model registry: %w", err)
	}
	sort.Slice(reg.Models, func(i, j int) bool { return reg.Models[i].Name < reg.Models[j].Name })
	return reg, nil
}

func (r Registry) Find(name string) (ModelSpec, bool) {
	for _, m := range r.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelSpec{}, false
}

// Recommended returns the first recommended model.
func (r Registry) Recommended() (ModelSpec, bool) {
	for _, m := range r.Models {
		if m.Recommended {
			return m, true
		}
	}
	return ModelSpec{}, false
}

func DefaultModelsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".der", "models"), nil
}

func ModelInstallPath(root string, name string) string {
	return filepath.Join(root, name)
}

func IsInstalled(root string, model ModelSpec) bool {
	return ValidateModelDir(ModelInstallPath(root, model.Name)) == nil
}

// InstalledChecksum returns the archive checksum recorded at install time.
func InstalledChecksum(root string, model ModelSpec) (string, error) {
	rec, err := readInstallRecord(ModelInstallPath(root, model.Name))
	if err != nil {
		return "", err
	}
	if rec.Checksum == "" {
		return "", fmt.Errorf("model %s: install record has no checksum", model.Name)
	}
	return rec.Checksum, nil
}

// Verify checks that an installed model is complete and, when the registry
// pins a checksum, that it was installed from that archive.
func Verify(root string, model ModelSpec) error {
	if err := ValidateModelDir(ModelInstallPath(root, model.Name)); err != nil {
		return fmt.Errorf("model %s: %w", model.Name, err)
	}
	if model.Checksum == "" {
		return nil
	}
	got, err := InstalledChecksum(root, model)
	if err != nil {
		return fmt.Errorf("model %s: install record: %w", model.Name, err)
	}
	if got != model.Checksum {
		return fmt.Errorf("model %s: installed from %s, registry expects %s", model.Name, got, model.Checksum)
	}
	return nil
}

// Remove deletes an installed model. Removing a missing model is an error.
func Remove(root string, model ModelSpec) error {
	dir := ModelInstallPath(root, model.Name)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("model %s is not installed: %w", model.Name, err)
	}
	return os.RemoveAll(dir)
}
