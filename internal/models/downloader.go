package models

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	ErrUnsafeArchive    = errors.New("archive entry escapes the model directory")
)

// MissingFilesError lists required model files that are absent or empty.
type MissingFilesError struct {
	Dir     string
	Missing []string
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("model files missing in %s: %s", e.Dir, strings.Join(e.Missing, ", "))
}

type statusError struct {
	url  string
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.url, e.code)
}

type Progress struct {
	Downloaded int64
	Total      int64
	SpeedMBps  float64
	ETA        time.Duration
}

type ProgressCallback func(Progress)

// Downloader installs registry models under a models root. Installs through
// one Downloader run one at a time.
type Downloader struct {
	Client *http.Client
	// Retries is the number of extra attempts for each fetch. The wait
	// doubles after every failed attempt.
	Retries   int
	RetryWait time.Duration
	// BaseURL locates archives of models without an absolute URL.
	BaseURL string

	mu sync.Mutex
}

func NewDownloader(baseURL string) *Downloader {
	return &Downloader{
		Client:    &http.Client{},
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
		BaseURL:   baseURL,
	}
}

// DownloadAndInstall fetches the archive of model, checks it against the
// pinned checksum or the "<archive>.sha256" sidecar, unpacks it and swaps it
// into place. A failed install leaves any previous install untouched.
func (d *Downloader) DownloadAndInstall(ctx context.Context, model ModelSpec, root string, onProgress ProgressCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	src, err := model.ResolveURL(d.BaseURL)
	if err != nil {
		return err
	}
	want := model.Checksum
	if want == "" {
		err := d.withRetry(ctx, func() error {
			sum, err := d.fetchChecksum(ctx, src+".sha256")
			want = sum
			return err
		})
		if err != nil {
			return fmt.Errorf("model %s: checksum: %w", model.Name, err)
		}
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(root, "."+model.Name+"-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, "archive.tar.gz")
	err = d.withRetry(ctx, func() error {
		return d.fetchArchive(ctx, src, archive, want, onProgress)
	})
	if err != nil {
		return fmt.Errorf("model %s: %w", model.Name, err)
	}

	dir := filepath.Join(staging, model.Name)
	if err := unpackModel(archive, dir); err != nil {
		return fmt.Errorf("model %s: %w", model.Name, err)
	}
	rec := installRecord{
		Name:        model.Name,
		Version:     model.Version,
		Checksum:    want,
		Source:      src,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := writeInstallRecord(dir, rec); err != nil {
		return err
	}
	return replaceDir(dir, ModelInstallPath(root, model.Name))
}

func (d *Downloader) withRetry(ctx context.Context, fetch func() error) error {
	wait := d.RetryWait
	for attempt := 0; ; attempt++ {
		err := fetch()
		if err == nil || attempt >= d.Retries || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// retryable reports whether a failed fetch may succeed when repeated.
// Client errors, checksum mismatches and local file errors are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrChecksumMismatch) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	var pe *fs.PathError
	return !errors.As(err, &pe)
}

func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{url: url, code: resp.StatusCode}
	}
	return resp, nil
}

// fetchArchive writes url to dest while hashing it.
func (d *Downloader) fetchArchive(ctx context.Context, url, dest, want string, onProgress ProgressCallback) error {
	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	h := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, start: time.Now(), report: onProgress}
	if _, err := io.Copy(io.MultiWriter(f, h, pw), resp.Body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if got := "sha256:" + hex.EncodeToString(h.Sum(nil)); got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, want, got)
	}
	return nil
}

func (d *Downloader) fetchChecksum(ctx context.Context, url string) (string, error) {
	resp, err := d.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", err
	}
	return parseChecksum(string(raw))
}

// parseChecksum accepts sha256sum output ("<hex>  <file>") or "sha256:<hex>".
func parseChecksum(s string) (string, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", errors.New("empty checksum file")
	}
	sum := strings.ToLower(strings.TrimPrefix(fields[0], "sha256:"))
	if _, err := hex.DecodeString(sum); err != nil || len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("malformed checksum %q", fields[0])
	}
	return "sha256:" + sum, nil
}

type progressWriter struct {
	total  int64
	done   int64
	start  time.Time
	report ProgressCallback
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.report == nil {
		return len(b), nil
	}
	pr := Progress{Downloaded: p.done, Total: p.total}
	if secs := time.Since(p.start).Seconds(); secs > 0 {
		pr.SpeedMBps = float64(p.done) / secs / (1 << 20)
	}
	if p.total > p.done && pr.SpeedMBps > 0 {
		left := float64(p.total-p.done) / (1 << 20)
		pr.ETA = time.Duration(left / pr.SpeedMBps * float64(time.Second))
	}
	p.report(pr)
	return len(b), nil
}

// unpackModel extracts a model archive into dest. Model files sit either at
// the top of the archive or inside one directory. Deeper entries are ignored.
func unpackModel(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name, err := modelEntryName(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		if err := writeEntry(filepath.Join(dest, name), tr); err != nil {
			return err
		}
	}
	return ValidateModelDir(dest)
}

// modelEntryName maps an archive path to a file name in the model directory,
// or "" when the entry is not part of the model.
func modelEntryName(entry string) (string, error) {
	p := path.Clean(entry)
	if path.IsAbs(p) || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, entry)
	}
	parts := strings.Split(p, "/")
	switch len(parts) {
	case 1:
		return parts[0], nil
	case 2:
		return parts[1], nil
	}
	return "", nil
}

func writeEntry(target string, r io.Reader) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ValidateModelDir checks that dir holds every required model file and that
// none of them is empty.
func ValidateModelDir(dir string) error {
	var missing []string
	for _, name := range RequiredFiles {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingFilesError{Dir: dir, Missing: missing}
	}
	return nil
}

// replaceDir moves src to dst. The previous dst is restored if the move fails.
func replaceDir(src, dst string) error {
	backup := dst + ".old"
	_ = os.RemoveAll(backup)
	if err := os.Rename(dst, backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		_ = os.Rename(backup, dst)
		return err
	}
	return os.RemoveAll(backup)
}
