package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"der/internal/eval"
	"der/internal/pipeline"
	"der/internal/pubtator"
	"der/internal/trace"
)

type evalOptions struct {
	gold        string
	predictions string
	json        bool
}

func newEvalCmd() *cobra.Command {
	o := &evalOptions{}
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a predictions file against PubTator gold annotations",
		Long: `Converts gold and predicted mentions to IOB tags and reports strict,
ent_type, partial and exact match scores.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEval(cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().StringVar(&o.gold, "gold", "", "PubTator file with gold annotations")
	cmd.Flags().StringVar(&o.predictions, "predictions", "", "batch output.json produced from the same file")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("gold")
	_ = cmd.MarkFlagRequired("predictions")
	return cmd
}

func runEval(w io.Writer, o *evalOptions) error {
	gold, err := pubtator.ParseFile(o.gold)
	if err != nil {
		return &pipeline.StageError{Stage: trace.StageRead, Path: o.gold, Err: err}
	}
	pred, err := eval.LoadPredictions(o.predictions)
	if err != nil {
		return &pipeline.StageError{Stage: trace.StageRead, Path: o.predictions, Err: err}
	}
	report, err := eval.EvaluateCorpus(gold, pred)
	if err != nil {
		return err
	}
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(w, report)
	return nil
}

func printEntTypeReport(w io.Writer, r eval.Report) {
	fmt.Fprintln(w, "Results of evaluation")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	fmt.Fprintf(w, "Documents:  %d\n", r.Documents)
	fmt.Fprintf(w, "ent_type:   %s\n", r.EntType)
}

func printReport(w io.Writer, r eval.Report) {
	fmt.Fprintf(w, "Evaluation over %d documents\n", r.Documents)
	fmt.Fprintln(w, strings.Repeat("-", 90))
	fmt.Fprintf(w, "%-10s %8s %10s %8s %7s %9s %10s %8s %8s\n", "SCHEMA", "CORRECT", "INCORRECT", "PARTIAL", "MISSED", "SPURIOUS", "PRECISION", "RECALL", "F1")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, row := range []struct {
		name string
		c    eval.Counts
	}{
		{"strict", r.Strict},
		{"ent_type", r.EntType},
		{"partial", r.Partial},
		{"exact", r.Exact},
	} {
		c := row.c
		fmt.Fprintf(w, "%-10s %8d %10d %8d %7d %9d %10.4f %8.4f %8.4f\n", row.name, c.Correct, c.Incorrect, c.Partial, c.Missed, c.Spurious, c.Precision, c.Recall, c.F1)
	}
	fmt.Fprintln(w, strings.Repeat("-", 90))
}
