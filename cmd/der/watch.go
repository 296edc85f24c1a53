package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"der/internal/logger"
	"der/internal/notifier"
	"der/internal/pipeline"
)

const watchDebounce = 200 * time.Millisecond

func newWatchCmd(g *globalOptions) *cobra.Command {
	o := &extractOptions{}
	var notify bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run extraction whenever the input file changes",
		Long: `Runs an extraction, then watches the input file and runs again after
every change. Runs are sequential and share one loaded recognizer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, g, o, notify)
		},
	}
	bindExtractFlags(cmd, o)
	cmd.Flags().BoolVar(&notify, "notify", false, "show a desktop notification when a run fails")
	return cmd
}

func runWatch(cmd *cobra.Command, g *globalOptions, o *extractOptions, notify bool) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := o.apply(cmd, &cfg); err != nil {
		return err
	}
	opts, err := o.pipelineOptions(cfg, "watch")
	if err != nil {
		return err
	}
	target, err := filepath.Abs(opts.InputPath)
	if err != nil {
		return err
	}
	opts.InputPath = target

	runner, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	// Editors often replace the file, so the directory is watched.
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var n *notifier.Notifier
	if notify {
		n = notifier.New(5 * time.Second)
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	run := func() {
		res, err := runner.Run(ctx, opts)
		if err != nil {
			fmt.Fprintf(out, "✗ run failed (exit %d): %v\n", pipeline.ExitCode(err), err)
			if n != nil {
				n.Notify("der", fmt.Sprintf("%s: %v", filepath.Base(target), err))
			}
			return
		}
		printRunSummary(out, res)
	}
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", target)
	return watchLoop(ctx, w.Events, w.Errors, target, watchDebounce, run)
}

// watchLoop calls run once, then again after changes to target settle for
// debounce. It returns when ctx is done or the event channel closes.
func watchLoop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, target string, debounce time.Duration, run func()) error {
	run()

	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("change: %s", ev)
			timer.Reset(debounce)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			logger.Warn("watcher: %v", err)
		case <-timer.C:
			run()
		}
	}
}
