package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"der/internal/span"
)

const (
	defaultOutput      = "output.json"
	defaultHistoryFile = "~/.der/history.jsonl"
	defaultModelsRoot  = "~/.der/models"
	defaultRecognizer  = "lexicon"
	defaultBackend     = "python"
	defaultMaxSeqLen   = 512
)

// Recognizer names accepted in configuration.
const (
	RecognizerLexicon = "lexicon"
	RecognizerONNX    = "onnx"
	RecognizerHybrid  = "hybrid"
)

type ONNX struct {
	ModelDir  string `json:"model_dir" toml:"model_dir"`
	Backend   string `json:"backend" toml:"backend"`
	MaxSeqLen int    `json:"max_seq_len" toml:"max_seq_len"`
}

type Recognizer struct {
	Name            string `json:"name" toml:"name"`
	LexiconPath     string `json:"lexicon_path" toml:"lexicon_path"`
	TimeoutMS       int    `json:"timeout_ms" toml:"timeout_ms"`
	FallbackOnError bool   `json:"fallback_on_error" toml:"fallback_on_error"`
	ONNX            ONNX   `json:"onnx" toml:"onnx"`
}

type Models struct {
	Root    string `json:"root" toml:"root"`
	BaseURL string `json:"base_url" toml:"base_url"`
}

type Config struct {
	MinScore      float64    `json:"min_score" toml:"min_score"`
	AllowedLabels []string   `json:"allowed_labels" toml:"allowed_labels"`
	Strategy      string     `json:"strategy" toml:"strategy"`
	Output        string     `json:"output" toml:"output"`
	Indent        bool       `json:"indent" toml:"indent"`
	HistoryFile   string     `json:"history_file" toml:"history_file"`
	Recognizer    Recognizer `json:"recognizer" toml:"recognizer"`
	Models        Models     `json:"models" toml:"models"`
}

func Default() Config {
	return Config{
		MinScore:      0,
		AllowedLabels: []string{"all"},
		Strategy:      string(span.StrategyGreedy),
		Output:        defaultOutput,
		HistoryFile:   defaultHistoryFile,
		Recognizer: Recognizer{
			Name: defaultRecognizer,
			ONNX: ONNX{Backend: defaultBackend, MaxSeqLen: defaultMaxSeqLen},
		},
		Models: Models{Root: defaultModelsRoot},
	}
}

// ConfigPath returns $DER_CONFIG or ~/.der/config.toml.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("DER_CONFIG")); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".der", "config.toml"), nil
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.expandPaths()
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := parseConfig(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.fillDefaults()
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func parseConfig(data []byte, cfg *Config) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return fmt.Errorf("parse json config: %w", err)
		}
		return nil
	}
	dec := toml.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse toml config: %w", err)
	}
	return nil
}

func (c *Config) fillDefaults() {
	d := Default()
	if len(c.AllowedLabels) == 0 {
		c.AllowedLabels = d.AllowedLabels
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.Recognizer.Name == "" {
		c.Recognizer.Name = d.Recognizer.Name
	}
	if c.Recognizer.ONNX.Backend == "" {
		c.Recognizer.ONNX.Backend = d.Recognizer.ONNX.Backend
	}
	if c.Recognizer.ONNX.MaxSeqLen <= 0 {
		c.Recognizer.ONNX.MaxSeqLen = d.Recognizer.ONNX.MaxSeqLen
	}
	if c.Models.Root == "" {
		c.Models.Root = d.Models.Root
	}
}

func (c *Config) expandPaths() {
	c.HistoryFile = expandHome(c.HistoryFile)
	c.Models.Root = expandHome(c.Models.Root)
	c.Recognizer.LexiconPath = expandHome(c.Recognizer.LexiconPath)
	c.Recognizer.ONNX.ModelDir = expandHome(c.Recognizer.ONNX.ModelDir)
}

// Validate reports the first invalid option.
func (c Config) Validate() error {
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score %v outside [0, 1]", c.MinScore)
	}
	if _, err := span.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	switch c.Recognizer.Name {
	case RecognizerLexicon, RecognizerONNX, RecognizerHybrid:
	default:
		return fmt.Errorf("unknown recognizer %q", c.Recognizer.Name)
	}
	switch c.Recognizer.ONNX.Backend {
	case "python", "native":
	default:
		return fmt.Errorf("unknown onnx backend %q", c.Recognizer.ONNX.Backend)
	}
	if c.Recognizer.TimeoutMS < 0 {
		return fmt.Errorf("timeout_ms must not be negative")
	}
	return nil
}

// Labels returns the configured label restriction.
func (c Config) Labels() span.LabelSet {
	return span.NewLabelSet(c.AllowedLabels)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
