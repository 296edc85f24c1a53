package models

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var diseaseModelFiles = map[string]string{
	"model.onnx":     "onnx-bytes",
	"labels.json":    `{"0":"O","1":"B-Disease","2":"I-Disease"}`,
	"tokenizer.json": `{"model":{"vocab":{"[PAD]":0,"[UNK]":1,"[CLS]":2,"[SEP]":3}}}`,
}

// tarGz packs files, keyed by archive path, into a gzipped tarball.
func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var b bytes.Buffer
	gz := gzip.NewWriter(&b)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return b.Bytes()
}

// nested lays the disease model files out under dir/ inside the archive.
func nested(dir string) map[string]string {
	out := make(map[string]string, len(diseaseModelFiles))
	for name, content := range diseaseModelFiles {
		out[dir+"/"+name] = content
	}
	return out
}

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// mirror serves model archives and their .sha256 sidecars under /der/.
type mirror struct {
	srv   *httptest.Server
	delay time.Duration

	mu    sync.Mutex
	files map[string][]byte
	busy  map[string]int
	hits  map[string]int

	active, peak atomic.Int32
}

func newMirror(t *testing.T) *mirror {
	t.Helper()
	m := &mirror{files: map[string][]byte{}, busy: map[string]int{}, hits: map[string]int{}}
	m.srv = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mirror) serve(w http.ResponseWriter, r *http.Request) {
	cur := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		p := m.peak.Load()
		if cur <= p || m.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(m.delay)

	m.mu.Lock()
	m.hits[r.URL.Path]++
	body, ok := m.files[r.URL.Path]
	busy := m.busy[r.URL.Path] > 0
	if busy {
		m.busy[r.URL.Path]--
	}
	m.mu.Unlock()

	switch {
	case busy:
		http.Error(w, "busy", http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	default:
		_, _ = w.Write(body)
	}
}

func (m *mirror) publish(archive string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files["/der/"+archive] = body
	m.files["/der/"+archive+".sha256"] = []byte(sha(body)[len("sha256:"):] + "  " + archive + "\n")
}

// failNext makes the next n requests for archive answer 503.
func (m *mirror) failNext(archive string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy["/der/"+archive] = n
}

func (m *mirror) hitCount(archive string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits["/der/"+archive]
}

func (m *mirror) baseURL() string { return m.srv.URL + "/der" }

func registryModel(t *testing.T, name string) ModelSpec {
	t.Helper()
	reg, err := LoadEmbeddedRegistry()
	require.NoError(t, err)
	m, ok := reg.Find(name)
	require.True(t, ok, "%s not in registry", name)
	return m
}

func fastDownloader(baseURL string) *Downloader {
	d := NewDownloader(baseURL)
	d.RetryWait = time.Millisecond
	return d
}

func TestInstallRecommendedModelFromMirror(t *testing.T) {
	m := registryModel(t, "bc5cdr-disease")
	mr := newMirror(t)
	body := tarGz(t, nested("bc5cdr-disease"))
	mr.publish(m.Archive, body)

	root := t.TempDir()
	var last Progress
	require.NoError(t, fastDownloader(mr.baseURL()).DownloadAndInstall(context.Background(), m, root, func(p Progress) { last = p }))

	assert.True(t, IsInstalled(root, m))
	assert.Equal(t, int64(len(body)), last.Downloaded)

	rec, err := readInstallRecord(ModelInstallPath(root, m.Name))
	require.NoError(t, err)
	assert.Equal(t, sha(body), rec.Checksum)
	assert.Equal(t, mr.baseURL()+"/"+m.Archive, rec.Source)
	assert.Equal(t, m.Version, rec.Version)

	m.Checksum = rec.Checksum
	assert.NoError(t, Verify(root, m))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directories must be cleaned up")
	assert.Equal(t, m.Name, entries[0].Name())
}

func TestInstallFlatArchive(t *testing.T) {
	m := registryModel(t, "ncbi-disease")
	mr := newMirror(t)
	mr.publish(m.Archive, tarGz(t, diseaseModelFiles))

	root := t.TempDir()
	require.NoError(t, fastDownloader(mr.baseURL()).DownloadAndInstall(context.Background(), m, root, nil))
	for name, content := range diseaseModelFiles {
		raw, err := os.ReadFile(filepath.Join(ModelInstallPath(root, m.Name), name))
		require.NoError(t, err)
		assert.Equal(t, content, string(raw))
	}
}

func TestInstallRetriesServerErrors(t *testing.T) {
	m := registryModel(t, "bc5cdr-disease")
	mr := newMirror(t)
	mr.publish(m.Archive, tarGz(t, nested("model")))
	mr.failNext(m.Archive, 2)

	root := t.TempDir()
	require.NoError(t, fastDownloader(mr.baseURL()).DownloadAndInstall(context.Background(), m, root, nil))
	assert.Equal(t, 3, mr.hitCount(m.Archive))
	assert.True(t, IsInstalled(root, m))
}

func TestInstallGivesUpAfterRetries(t *testing.T) {
	m := registryModel(t, "bc5cdr-disease")
	mr := newMirror(t)
	mr.publish(m.Archive, tarGz(t, diseaseModelFiles))
	mr.failNext(m.Archive, 10)

	d := fastDownloader(mr.baseURL())
	d.Retries = 1
	err := d.DownloadAndInstall(context.Background(), m, t.TempDir(), nil)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.code)
	assert.Equal(t, 2, mr.hitCount(m.Archive))
}

func TestInstallMissingSidecarIsFinal(t *testing.T) {
	m := registryModel(t, "ncbi-disease")
	mr := newMirror(t)

	err := fastDownloader(mr.baseURL()).DownloadAndInstall(context.Background(), m, t.TempDir(), nil)
	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.code)
	assert.Equal(t, 1, mr.hitCount(m.Archive+".sha256"))
	assert.Zero(t, mr.hitCount(m.Archive))
}

func TestChecksumMismatchKeepsPreviousInstall(t *testing.T) {
	m := registryModel(t, "bc5cdr-disease")
	mr := newMirror(t)
	body := tarGz(t, nested("bc5cdr-disease"))
	mr.publish(m.Archive, body)
	root := t.TempDir()
	d := fastDownloader(mr.baseURL())
	require.NoError(t, d.DownloadAndInstall(context.Background(), m, root, nil))

	pinned := m
	pinned.Checksum = "sha256:" + hex.EncodeToString(make([]byte, sha256.Size))
	err := d.DownloadAndInstall(context.Background(), pinned, root, nil)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	assert.Equal(t, 2, mr.hitCount(m.Archive), "checksum mismatches are not retried")

	assert.True(t, IsInstalled(root, m))
	got, err := InstalledChecksum(root, m)
	require.NoError(t, err)
	assert.Equal(t, sha(body), got)
}

func TestInstallRejectsIncompleteArchive(t *testing.T) {
	m := registryModel(t, "ncbi-disease")
	mr := newMirror(t)
	mr.publish(m.Archive, tarGz(t, map[string]string{
		"ncbi-disease/model.onnx":  "onnx-bytes",
		"ncbi-disease/labels.json": `{"0":"O"}`,
	}))

	root := t.TempDir()
	err := fastDownloader(mr.baseURL()).DownloadAndInstall(context.Background(), m, root, nil)
	var missing *MissingFilesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"tokenizer.json"}, missing.Missing)
	assert.False(t, IsInstalled(root, m))
}

func TestInstallRejectsUnsafeArchive(t *testing.T) {
	m := registryModel(t, "ncbi-disease")
	files := nested("ncbi-disease")
	files["../outside.txt"] = "x"
	mr := newMirror(t)
	mr.publish(m.Archive, tarGz(t, files))

	root := t.TempDir()
	err := fastDownloader(mr.baseURL()).DownloadAndInstall(context.Background(), m, root, nil)
	require.ErrorIs(t, err, ErrUnsafeArchive)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "outside.txt"))
}

func TestModelEntryName(t *testing.T) {
	cases := []struct {
		entry, want string
		unsafe      bool
	}{
		{entry: "labels.json", want: "labels.json"},
		{entry: "./tokenizer.json", want: "tokenizer.json"},
		{entry: "bc5cdr-disease/model.onnx", want: "model.onnx"},
		{entry: "bc5cdr-disease/extra/notes.txt", want: ""},
		{entry: "../model.onnx", unsafe: true},
		{entry: "/etc/passwd", unsafe: true},
	}
	for _, tc := range cases {
		got, err := modelEntryName(tc.entry)
		if tc.unsafe {
			assert.ErrorIs(t, err, ErrUnsafeArchive, tc.entry)
			continue
		}
		require.NoError(t, err, tc.entry)
		assert.Equal(t, tc.want, got, tc.entry)
	}
}

func TestParseChecksum(t *testing.T) {
	hexSum := "ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef0123456789"
	want := "sha256:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

	got, err := parseChecksum(hexSum + "  bc5cdr-disease-1.0.0.tar.gz\n")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = parseChecksum("sha256:" + hexSum)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = parseChecksum("")
	assert.Error(t, err)
	_, err = parseChecksum("deadbeef  short.tar.gz")
	assert.Error(t, err)
}

func TestInstallNeedsBaseURL(t *testing.T) {
	m := registryModel(t, "bc5cdr-disease")
	err := NewDownloader("").DownloadAndInstall(context.Background(), m, t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoBaseURL)
}

func TestConcurrentInstallsSerialized(t *testing.T) {
	mr := newMirror(t)
	mr.delay = 20 * time.Millisecond
	specs := []ModelSpec{registryModel(t, "bc5cdr-disease"), registryModel(t, "ncbi-disease")}
	for _, m := range specs {
		mr.publish(m.Archive, tarGz(t, nested(m.Name)))
	}

	d := fastDownloader(mr.baseURL())
	root := t.TempDir()
	errCh := make(chan error, len(specs))
	for _, m := range specs {
		go func() { errCh <- d.DownloadAndInstall(context.Background(), m, root, nil) }()
	}
	for range specs {
		require.NoError(t, <-errCh)
	}
	assert.EqualValues(t, 1, mr.peak.Load())
	for _, m := range specs {
		assert.True(t, IsInstalled(root, m), m.Name)
	}
}

func TestIntegrationDownloadRealModel(t *testing.T) {
	base := os.Getenv("DER_MODELS_BASE_URL")
	if os.Getenv("DER_RUN_INTEGRATION") == "" || base == "" {
		t.Skip("set DER_RUN_INTEGRATION=1 and DER_MODELS_BASE_URL to run real-model download")
	}
	reg, err := LoadEmbeddedRegistry()
	require.NoError(t, err)
	m, ok := reg.Recommended()
	require.True(t, ok)
	require.NoError(t, NewDownloader(base).DownloadAndInstall(context.Background(), m, t.TempDir(), nil))
}
