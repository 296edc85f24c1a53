package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"der/internal/eval"
	"der/internal/pipeline"
)

func TestEvalCommand(t *testing.T) {
	home := isolate(t)
	gold := writeFile(t, home, "corpus.pubtator", corpus)
	pred := filepath.Join(home, "out.json")
	_, err := runCLI(t, "--input_path", gold, "--output", pred)
	require.NoError(t, err)

	stdout, err := runCLI(t, "eval", "--gold", gold, "--predictions", pred)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Evaluation over 2 documents")
	for _, schema := range []string{"strict", "ent_type", "partial", "exact"} {
		assert.Contains(t, stdout, schema)
	}

	stdout, err = runCLI(t, "eval", "--gold", gold, "--predictions", pred, "--json")
	require.NoError(t, err)
	var report eval.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 1.0, report.Strict.F1)
}

func TestEvalMissingPredictions(t *testing.T) {
	home := isolate(t)
	gold := writeFile(t, home, "corpus.pubtator", corpus)
	var out bytes.Buffer
	err := runEval(&out, &evalOptions{gold: gold, predictions: filepath.Join(home, "none.json")})
	require.Error(t, err)
	assert.Equal(t, pipeline.ExitRead, pipeline.ExitCode(err))
}

func TestEvalRequiresFlags(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "eval", "--gold", "x.pubtator")
	assert.Error(t, err)
}
