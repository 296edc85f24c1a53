package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"der/internal/history"
	"der/internal/stats"
)

type statsOptions struct {
	json   bool
	csv    bool
	recent int
	watch  bool
}

func newStatsCmd(g *globalOptions) *cobra.Command {
	o := &statsOptions{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.json && o.csv {
				return fmt.Errorf("--json and --csv are mutually exclusive")
			}
			if o.csv && o.recent <= 0 {
				return fmt.Errorf("--csv requires --recent")
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			render := func(w io.Writer) error {
				return renderStatsTo(w, cfg.HistoryFile, o, time.Now().UTC())
			}
			out := cmd.OutOrStdout()
			if !o.watch {
				return render(out)
			}
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			return watchStatsLoop(cmd.Context(), out, render, ticker.C)
		},
	}
	cmd.Flags().BoolVar(&o.json, "json", false, "print statistics as JSON")
	cmd.Flags().BoolVar(&o.csv, "csv", false, "export recent runs as CSV (with --recent)")
	cmd.Flags().IntVar(&o.recent, "recent", 0, "list the N most recent runs")
	cmd.Flags().BoolVar(&o.watch, "watch", false, "refresh every 2 seconds")
	return cmd
}

func watchStatsLoop(ctx context.Context, w io.Writer, render func(io.Writer) error, ticks <-chan time.Time) error {
	tty := isTerminal(w)
	if tty {
		fmt.Fprint(w, "\033[?25l")
		defer fmt.Fprint(w, "\033[?25h")
	}
	for {
		var buf strings.Builder
		if err := render(&buf); err != nil {
			return err
		}
		if tty {
			fmt.Fprint(w, "\033[H\033[2J\033[3J")
		}
		fmt.Fprint(w, buf.String())
		select {
		case <-ticks:
		case <-ctx.Done():
			return nil
		}
	}
}

func renderStatsTo(w io.Writer, historyFile string, o *statsOptions, now time.Time) error {
	entries, err := history.ParseFile(historyFile)
	if err != nil {
		return err
	}
	st := stats.CollectFromEntries(entries, stats.Options{Now: now, RecentN: o.recent})
	switch {
	case o.json:
		if o.recent <= 0 {
			st.Recent = nil
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case o.csv:
		return exportRecentCSV(w, st.Recent)
	case o.recent > 0:
		printRecent(w, st)
	default:
		printSummary(w, st)
	}
	return nil
}

func printSummary(w io.Writer, st stats.Stats) {
	fmt.Fprintln(w, "DER Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Runs:        %d (%d ok, %d failed)\n", st.Runs.Total, st.Runs.Succeeded, st.Runs.Failed)
	fmt.Fprintf(w, "Last run:    %s\n", shortTime(st.Runs.LastRun, "2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Last 7 days: %s\n", sparkline(st.Runs.Last7Days))
	fmt.Fprintf(w, "Documents:   %d\n", st.Documents)
	fmt.Fprintf(w, "Entities:    %d (%.1f/run)\n", st.Entities.Total, st.Entities.PerRun)
	fmt.Fprintf(w, "Latency avg: %s| total %.1fms\n", stageLatency(st.Latency.StageMs), st.Latency.TotalMs)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Entities by Label")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, label := range sortedKeys(st.Entities.ByLabel) {
		v := st.Entities.ByLabel[label]
		fmt.Fprintf(w, "%-12s %5d %s\n", label+":", v, progress(v, st.Entities.Total))
	}
	fmt.Fprintf(w, "Total:       %d\n\n", st.Entities.Total)

	if len(st.Failures) > 0 {
		fmt.Fprintln(w, "Failures by Stage")
		fmt.Fprintln(w, strings.Repeat("-", 40))
		for _, stage := range sortedKeys(st.Failures) {
			v := st.Failures[stage]
			fmt.Fprintf(w, "%-12s %5d %s\n", stage+":", v, progress(v, st.Runs.Failed))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Top Inputs")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, in := range st.TopInputs {
		fmt.Fprintf(w, "%-32s %d\n", in.Path, in.Runs)
	}
}

func printRecent(w io.Writer, st stats.Stats) {
	fmt.Fprintf(w, "Recent Runs (last %d)\n", len(st.Recent))
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "%-10s %-32s %-10s %-8s %-9s %-10s\n", "TIME", "INPUT", "RECOGNIZER", "STATUS", "ENTITIES", "LATENCY")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, r := range st.Recent {
		status := r.Status
		if r.ErrorStage != "" {
			status += "/" + r.ErrorStage
		}
		fmt.Fprintf(w, "%-10s %-32s %-10s %-8s %-9d %-8.1fms\n", shortTime(r.Timestamp, "15:04:05"), r.InputPath, r.Recognizer, status, r.Entities, r.TotalMs)
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "Showing %d of %d total runs\n", len(st.Recent), st.Runs.Total)
}

func exportRecentCSV(w io.Writer, rows []stats.RecentRun) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"run_id", "timestamp", "input_path", "recognizer", "status", "error_stage", "entities", "latency_ms"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.RunID,
			r.Timestamp,
			r.InputPath,
			r.Recognizer,
			r.Status,
			r.ErrorStage,
			fmt.Sprintf("%d", r.Entities),
			fmt.Sprintf("%.3f", r.TotalMs),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func shortTime(ts, layout string) string {
	if ts == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(layout)
}

func stageLatency(ms map[string]float64) string {
	var b strings.Builder
	for _, stage := range sortedKeys(ms) {
		fmt.Fprintf(&b, "%s %.1fms ", stage, ms[stage])
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func progress(v, total int) string {
	if total <= 0 {
		return ""
	}
	p := min(int(float64(v)/float64(total)*20), 20)
	return strings.Repeat("█", p) + strings.Repeat("░", 20-p)
}

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func sparkline(days []int) string {
	peak := 0
	for _, d := range days {
		peak = max(peak, d)
	}
	var b strings.Builder
	for _, d := range days {
		i := 0
		if peak > 0 {
			i = d * (len(sparkBlocks) - 1) / peak
		}
		b.WriteRune(sparkBlocks[i])
	}
	return b.String()
}
