package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"der/internal/detect"
	"der/internal/models"
)

// modelEnv is what every model subcommand needs from the registry and config.
type modelEnv struct {
	registry models.Registry
	root     string
	baseURL  string
	backend  string
}

func loadModelEnv(g *globalOptions) (modelEnv, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return modelEnv{}, err
	}
	registry, err := models.LoadEmbeddedRegistry()
	if err != nil {
		return modelEnv{}, err
	}
	return modelEnv{
		registry: registry,
		root:     cfg.Models.Root,
		baseURL:  cfg.Models.BaseURL,
		backend:  cfg.Recognizer.ONNX.Backend,
	}, nil
}

func newModelCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage NER models",
	}

	withEnv := func(fn func(cmd *cobra.Command, env modelEnv, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			env, err := loadModelEnv(g)
			if err != nil {
				return err
			}
			return fn(cmd, env, args)
		}
	}

	var all bool
	download := &cobra.Command{
		Use:   "download [name]",
		Short: "Download and install a model",
		Args:  cobra.MaximumNArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, env modelEnv, args []string) error {
			return modelDownload(cmd.Context(), cmd.OutOrStdout(), env, args, all)
		}),
	}
	download.Flags().BoolVar(&all, "all", false, "download all recommended models")

	var yes bool
	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed model",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(cmd *cobra.Command, env modelEnv, args []string) error {
			return modelRemove(cmd.OutOrStdout(), cmd.InOrStdin(), env, args[0], yes)
		}),
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List available models",
			Args:  cobra.NoArgs,
			RunE: withEnv(func(cmd *cobra.Command, env modelEnv, _ []string) error {
				return modelList(cmd.OutOrStdout(), env)
			}),
		},
		&cobra.Command{
			Use:   "info <name>",
			Short: "Show model details",
			Args:  cobra.ExactArgs(1),
			RunE: withEnv(func(cmd *cobra.Command, env modelEnv, args []string) error {
				return modelInfo(cmd.OutOrStdout(), env, args[0])
			}),
		},
		download,
		remove,
		&cobra.Command{
			Use:   "verify",
			Short: "Verify installed models",
			Args:  cobra.NoArgs,
			RunE: withEnv(func(cmd *cobra.Command, env modelEnv, _ []string) error {
				return modelVerify(cmd.Context(), cmd.OutOrStdout(), env)
			}),
		},
	)
	return cmd
}

func modelList(w io.Writer, env modelEnv) error {
	fmt.Fprintln(w, "Available Models")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%-16s %-6s %-8s %-14s %-30s\n", "NAME", "LANG", "SIZE", "STATUS", "TYPES")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	installed := 0
	var totalSize int64
	for _, m := range env.registry.Models {
		status := "not installed"
		if models.IsInstalled(env.root, m) {
			status = "installed"
			installed++
			totalSize += m.SizeBytes
		}
		name := m.Name
		if m.Recommended {
			name += "*"
		}
		fmt.Fprintf(w, "%-16s %-6s %-8s %-14s %-30s\n", name, m.Language, humanBytes(m.SizeBytes), status, strings.Join(m.EntityTypes, ", "))
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "Installed: %d/%d models (* recommended)\n", installed, len(env.registry.Models))
	fmt.Fprintf(w, "Total size: %s\n", humanBytes(totalSize))
	fmt.Fprintln(w, "\nTip: Use 'der model download <name>' to install a model")
	return nil
}

func modelInfo(w io.Writer, env modelEnv, name string) error {
	m, ok := env.registry.Find(name)
	if !ok {
		return fmt.Errorf("model %q not found", name)
	}
	status := "Not installed"
	if models.IsInstalled(env.root, m) {
		status = "Installed"
	}
	source, err := m.ResolveURL(env.baseURL)
	if err != nil {
		source = "(set models.base_url to download)"
	}
	checksum := m.Checksum
	if checksum == "" {
		checksum = "(from " + m.Archive + ".sha256)"
	}
	fmt.Fprintf(w, "NER Model: %s\n", m.Name)
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Status:         %s\n", status)
	fmt.Fprintf(w, "Name:           %s\n", m.DisplayName)
	fmt.Fprintf(w, "Version:        %s\n", m.Version)
	fmt.Fprintf(w, "Language:       %s\n", m.Language)
	fmt.Fprintf(w, "Size:           %s\n", humanBytes(m.SizeBytes))
	fmt.Fprintf(w, "Location:       %s\n", models.ModelInstallPath(env.root, m.Name))
	fmt.Fprintf(w, "Description:    %s\n", m.Description)
	fmt.Fprintf(w, "Entity Types:   %s\n", strings.Join(m.EntityTypes, ", "))
	fmt.Fprintf(w, "Accuracy:       F1 %.2f (%s)\n", m.Accuracy.F1Score, m.Accuracy.Benchmark)
	fmt.Fprintf(w, "Architecture:   %s\n", m.Architecture)
	fmt.Fprintf(w, "License:        %s\n", m.License)
	fmt.Fprintf(w, "Source:         %s\n", source)
	fmt.Fprintf(w, "Checksum:       %s\n", checksum)
	return nil
}

func modelDownload(ctx context.Context, w io.Writer, env modelEnv, args []string, all bool) error {
	var selected []models.ModelSpec
	switch {
	case all:
		for _, m := range env.registry.Models {
			if m.Recommended {
				selected = append(selected, m)
			}
		}
	case len(args) == 1:
		m, ok := env.registry.Find(args[0])
		if !ok {
			return fmt.Errorf("model %q not found", args[0])
		}
		selected = append(selected, m)
	default:
		return fmt.Errorf("usage: der model download <name> or der model download --all")
	}

	dl := models.NewDownloader(env.baseURL)
	tty := isTerminal(w)
	for _, m := range selected {
		source, err := m.ResolveURL(env.baseURL)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nDownloading %s v%s\n", m.Name, m.Version)
		fmt.Fprintf(w, "Source: %s\n\n", source)
		lastUpdate := time.Time{}
		err = dl.DownloadAndInstall(ctx, m, env.root, func(p models.Progress) {
			if !tty || (time.Since(lastUpdate) < 120*time.Millisecond && p.Total > 0) {
				return
			}
			lastUpdate = time.Now()
			pct := float64(0)
			if p.Total > 0 {
				pct = float64(p.Downloaded) * 100 / float64(p.Total)
			}
			fmt.Fprintf(w, "\rDownloading... %6.2f%% | %s / %s | %.2f MB/s | ETA %s", pct, humanBytes(p.Downloaded), humanBytes(p.Total), p.SpeedMBps, p.ETA.Truncate(time.Second))
		})
		if tty {
			fmt.Fprintln(w)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Verifying checksum... ✓")
		fmt.Fprintln(w, "Extracting... ✓")
		if err := validateModelLoads(ctx, models.ModelInstallPath(env.root, m.Name), env.backend); err != nil {
			return fmt.Errorf("validate model: %w", err)
		}
		fmt.Fprintln(w, "Validating model... ✓")
		fmt.Fprintf(w, "\n✓ Model %s installed successfully\n", m.Name)
	}
	return nil
}

// validateModelLoads loads labels, tokenizer and session the way an
// extraction run would.
func validateModelLoads(ctx context.Context, modelDir, backend string) error {
	r := detect.NewONNXRecognizer(detect.ONNXConfig{ModelDir: modelDir, Backend: backend})
	defer r.Close()
	return r.Load(ctx)
}

func modelRemove(w io.Writer, in io.Reader, env modelEnv, name string, yes bool) error {
	m, ok := env.registry.Find(name)
	if !ok {
		return fmt.Errorf("model %q not found", name)
	}
	loc := models.ModelInstallPath(env.root, m.Name)
	if _, err := os.Stat(loc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(w, "Model %s is not installed\n", name)
			return nil
		}
		return err
	}
	if !yes {
		fmt.Fprintf(w, "Remove model '%s' (%s)?\n", m.Name, humanBytes(m.SizeBytes))
		fmt.Fprintf(w, "This will delete %s\n\n", loc)
		fmt.Fprint(w, "Continue? (y/N): ")
		resp, _ := bufio.NewReader(in).ReadString('\n')
		resp = strings.TrimSpace(strings.ToLower(resp))
		if resp != "y" && resp != "yes" {
			fmt.Fprintln(w, "Cancelled")
			return nil
		}
	}
	if err := models.Remove(env.root, m); err != nil {
		return err
	}
	fmt.Fprintln(w, "Removing model... ✓")
	fmt.Fprintf(w, "Model %s removed successfully\n", m.Name)
	return nil
}

func modelVerify(ctx context.Context, w io.Writer, env modelEnv) error {
	fmt.Fprintln(w, "Verifying installed models...")
	installed := 0
	failures := 0
	for _, m := range env.registry.Models {
		dir := models.ModelInstallPath(env.root, m.Name)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		installed++
		fmt.Fprintf(w, "\n%s\n", m.Name)
		if err := models.ValidateModelDir(dir); err != nil {
			fmt.Fprintf(w, "  ├─ Files...    ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  ├─ Files...    ✓")
		if err := models.Verify(env.root, m); err != nil {
			fmt.Fprintf(w, "  ├─ Checksum... ✗ (%v)\n", err)
			failures++
			continue
		}
		if sum, err := models.InstalledChecksum(env.root, m); err == nil {
			fmt.Fprintf(w, "  ├─ Checksum... ✓ (%s)\n", sum)
		} else {
			fmt.Fprintln(w, "  ├─ Checksum... ? (metadata unavailable)")
		}
		if err := validateModelLoads(ctx, dir, env.backend); err != nil {
			fmt.Fprintf(w, "  └─ Loadable... ✗ (%v)\n", err)
			failures++
			continue
		}
		fmt.Fprintln(w, "  └─ Loadable... ✓")
	}
	if installed == 0 {
		fmt.Fprintln(w, "\nNo installed models found")
		return nil
	}
	if failures > 0 {
		return fmt.Errorf("%d model(s) failed verification", failures)
	}
	fmt.Fprintln(w, "\nAll models verified")
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	const mb = 1024 * 1024
	if n >= mb {
		return fmt.Sprintf("%d MB", n/mb)
	}
	return fmt.Sprintf("%d KB", n/1024)
}
