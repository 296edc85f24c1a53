package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.MinScore)
	assert.True(t, cfg.Labels().Allows("CHEMICAL"))
	assert.Equal(t, "output.json", cfg.Output)
	assert.Equal(t, RecognizerLexicon, cfg.Recognizer.Name)
	assert.NotContains(t, cfg.HistoryFile, "~")
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
min_score = 0.8
allowed_labels = ["Disease"]
strategy = "optimal"
indent = true

[recognizer]
name = "hybrid"
timeout_ms = 250
fallback_on_error = true

[recognizer.onnx]
model_dir = "/models/bc5cdr"
backend = "native"

[models]
base_url = "https://models.example.org/der"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.MinScore)
	assert.True(t, cfg.Labels().Allows("DISEASE"))
	assert.False(t, cfg.Labels().Allows("SYMPTOM"))
	assert.Equal(t, "optimal", cfg.Strategy)
	assert.True(t, cfg.Indent)
	assert.Equal(t, RecognizerHybrid, cfg.Recognizer.Name)
	assert.Equal(t, 250, cfg.Recognizer.TimeoutMS)
	assert.True(t, cfg.Recognizer.FallbackOnError)
	assert.Equal(t, "/models/bc5cdr", cfg.Recognizer.ONNX.ModelDir)
	assert.Equal(t, "native", cfg.Recognizer.ONNX.Backend)
	assert.Equal(t, 512, cfg.Recognizer.ONNX.MaxSeqLen)
	assert.Equal(t, "https://models.example.org/der", cfg.Models.BaseURL)
	assert.Equal(t, "output.json", cfg.Output)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"min_score": 0.5, "recognizer": {"name": "onnx"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.MinScore)
	assert.Equal(t, RecognizerONNX, cfg.Recognizer.Name)
	assert.Equal(t, "python", cfg.Recognizer.ONNX.Backend)
}

func TestLoadRejectsUnknownTOMLKey(t *testing.T) {
	path := writeConfig(t, "config.toml", "min_scor = 0.5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse toml config")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, content := range map[string]string{
		"score":      "min_score = 1.5\n",
		"strategy":   "strategy = \"random\"\n",
		"recognizer": "[recognizer]\nname = \"crf\"\n",
		"backend":    "[recognizer.onnx]\nbackend = \"cuda\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.toml", content))
			assert.Error(t, err)
		})
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, "config.toml", "[recognizer]\nlexicon_path = \"~/terms.tsv\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "terms.tsv"), cfg.Recognizer.LexiconPath)
	assert.Equal(t, filepath.Join(home, ".der", "models"), cfg.Models.Root)
}

func TestConfigPathHonoursEnv(t *testing.T) {
	t.Setenv("DER_CONFIG", "/etc/der.toml")
	p, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/der.toml", p)
}
