package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"der/internal/pipeline"
	"der/internal/span"
)

const sampleText = "Malaria and cystic fibrosis were reported."

const corpus = "1|t|Malaria.\n1|a|Cystic fibrosis was seen.\n1\t0\t7\tMalaria\tDisease\tD1\n1\t9\t24\tCystic fibrosis\tDisease\tD2\n\n" +
	"2|t|Gout.\n2|a|None.\n2\t0\t4\tGout\tDisease\tD3\n"

// isolate points HOME and DER_CONFIG at a temp dir so runs never touch the
// real history or config.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DER_CONFIG", filepath.Join(home, "config.toml"))
	t.Setenv("DER_ONNX_BACKEND", "")
	return home
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readEntities(t *testing.T, path string) []span.ResolvedSpan {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec struct {
		InputPath string              `json:"input_path"`
		Entities  []span.ResolvedSpan `json:"entities"`
	}
	require.NoError(t, json.Unmarshal(raw, &rec))
	require.NotNil(t, rec.Entities)
	return rec.Entities
}

func entityTexts(spans []span.ResolvedSpan) []string {
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.Text)
	}
	return out
}

func TestExtractWritesOutput(t *testing.T) {
	home := isolate(t)
	in := writeFile(t, home, "in.txt", sampleText)
	out := filepath.Join(home, "out.json")

	stdout, err := runCLI(t, "--input_path", in, "--output", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "written to "+out)

	texts := entityTexts(readEntities(t, out))
	assert.Contains(t, texts, "Malaria")
	assert.Contains(t, texts, "cystic fibrosis")
}

func TestExtractFlagsOverrideConfig(t *testing.T) {
	home := isolate(t)
	writeFile(t, home, "config.toml", "allowed_labels = [\"CHEMICAL\"]\n")
	in := writeFile(t, home, "in.txt", sampleText)
	out := filepath.Join(home, "out.json")

	_, err := runCLI(t, "--input_path", in, "--output", out)
	require.NoError(t, err)
	assert.Empty(t, readEntities(t, out))

	_, err = runCLI(t, "--input_path", in, "--output", out, "--allowed_labels", "all", "--strategy", "optimal")
	require.NoError(t, err)
	assert.NotEmpty(t, readEntities(t, out))

	_, err = runCLI(t, "--input_path", in, "--output", out, "--allowed_labels", "all", "--min_score", "1")
	require.NoError(t, err)
	assert.Empty(t, readEntities(t, out))
}

func TestExtractEvaluate(t *testing.T) {
	home := isolate(t)
	in := writeFile(t, home, "corpus.pubtator", corpus)
	out := filepath.Join(home, "out.json")

	stdout, err := runCLI(t, "--input_path", in, "--output", out, "--evaluate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "in 2 document(s)")
	assert.Contains(t, stdout, "Results of evaluation")
	assert.Contains(t, stdout, "ent_type:")
	assert.Contains(t, stdout, "f1=1.0000")
}

func TestEvaluateIgnoredForText(t *testing.T) {
	home := isolate(t)
	in := writeFile(t, home, "in.txt", sampleText)

	stdout, err := runCLI(t, "--input_path", in, "--output", filepath.Join(home, "out.json"), "--evaluate")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "Results of evaluation")
}

func TestExecuteExitCodes(t *testing.T) {
	home := isolate(t)
	good := writeFile(t, home, "in.txt", sampleText)
	bad := writeFile(t, home, "bad.txt", "broken \xff text")
	out := filepath.Join(home, "out.json")

	cases := []struct {
		name string
		args []string
		want int
	}{
		{"ok", []string{"--input_path", good, "--output", out}, pipeline.ExitOK},
		{"missing input", []string{"--input_path", filepath.Join(home, "nope.txt"), "--output", out}, pipeline.ExitRead},
		{"invalid utf-8", []string{"--input_path", bad, "--output", filepath.Join(home, "bad.json")}, pipeline.ExitSegmentation},
		{"bad strategy", []string{"--input_path", good, "--output", out, "--strategy", "bogus"}, pipeline.ExitOther},
		{"no input flag", []string{"--output", out}, pipeline.ExitOther},
		{"bad format", []string{"--input_path", good, "--output", out, "--format", "xml"}, pipeline.ExitOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, execute(tc.args))
		})
	}
	_, err := os.Stat(filepath.Join(home, "bad.json"))
	assert.True(t, os.IsNotExist(err), "failed run must not write output")
}

func TestExtractRecordsHistory(t *testing.T) {
	home := isolate(t)
	in := writeFile(t, home, "in.txt", sampleText)
	_, err := runCLI(t, "--input_path", in, "--output", filepath.Join(home, "out.json"))
	require.NoError(t, err)
	_, err = runCLI(t, "--input_path", filepath.Join(home, "missing.txt"), "--output", filepath.Join(home, "out.json"))
	require.Error(t, err)

	stdout, err := runCLI(t, "stats", "--json")
	require.NoError(t, err)
	var st struct {
		Runs struct {
			Total     int `json:"total"`
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
		} `json:"runs"`
		Failures map[string]int `json:"failures_by_stage"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &st))
	assert.Equal(t, 2, st.Runs.Total)
	assert.Equal(t, 1, st.Runs.Succeeded)
	assert.Equal(t, 1, st.Failures["read"])
}

func TestVersion(t *testing.T) {
	old := version
	version = "test-1.2.3"
	defer func() { version = old }()

	stdout, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "der version test-1.2.3")
}
