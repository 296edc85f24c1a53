package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"der/internal/config"
	"der/internal/detect"
	"der/internal/history"
	"der/internal/logger"
	"der/internal/models"
	"der/internal/pipeline"
	"der/internal/span"
	"der/internal/trace"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
}

func (g *globalOptions) loadConfig() (config.Config, error) {
	path := g.configPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// extractOptions are the flags of an extraction run, shared by the root
// command and watch.
type extractOptions struct {
	inputPath     string
	output        string
	format        string
	minScore      float64
	allowedLabels string
	recognizer    string
	strategy      string
	evaluate      bool
}

func bindExtractFlags(cmd *cobra.Command, o *extractOptions) {
	f := cmd.Flags()
	f.StringVar(&o.inputPath, "input_path", "", "path to the input text or PubTator file")
	f.StringVar(&o.output, "output", "", "output file name (default from config, output.json)")
	f.StringVar(&o.format, "format", "auto", "input format: auto|text|pubtator")
	f.Float64Var(&o.minScore, "min_score", 0, "drop candidates scoring below this value")
	f.StringVar(&o.allowedLabels, "allowed_labels", "all", "comma separated labels to keep, or all")
	f.StringVar(&o.recognizer, "recognizer", "", "recognizer: lexicon|onnx|hybrid")
	f.StringVar(&o.strategy, "strategy", "", "overlap resolution: greedy|optimal")
	_ = cmd.MarkFlagRequired("input_path")
}

// apply overrides cfg with the flags set on the command line.
func (o *extractOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output = o.output
	}
	if f.Changed("min_score") {
		cfg.MinScore = o.minScore
	}
	if f.Changed("allowed_labels") {
		cfg.AllowedLabels = strings.Split(o.allowedLabels, ",")
	}
	if f.Changed("recognizer") {
		cfg.Recognizer.Name = strings.ToLower(strings.TrimSpace(o.recognizer))
	}
	if f.Changed("strategy") {
		cfg.Strategy = strings.ToLower(strings.TrimSpace(o.strategy))
	}
	return cfg.Validate()
}

func (o *extractOptions) pipelineOptions(cfg config.Config, command string) (pipeline.Options, error) {
	format, err := pipeline.ParseFormat(o.format)
	if err != nil {
		return pipeline.Options{}, err
	}
	strategy, err := span.ParseStrategy(cfg.Strategy)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		InputPath:  o.inputPath,
		OutputPath: cfg.Output,
		Format:     format,
		Resolver: span.Resolver{
			MinScore:      cfg.MinScore,
			AllowedLabels: cfg.Labels(),
			Strategy:      strategy,
		},
		Indent:  cfg.Indent,
		Command: command,
	}, nil
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}
	o := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "der",
		Short: "Recognize disease entities in text",
		Long: `Recognizes disease mentions in a plain text or PubTator file and writes
them as character offset spans to a JSON file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(*cobra.Command, []string) {
			logger.SetVerbose(g.verbose)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd, g, o)
		},
	}
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default $DER_CONFIG or ~/.der/config.toml)")
	cmd.PersistentFlags().BoolVar(&g.verbose, "verbose", false, "log pipeline progress to stderr")
	bindExtractFlags(cmd, o)
	cmd.Flags().BoolVar(&o.evaluate, "evaluate", false, "score predictions against PubTator gold annotations")

	cmd.AddCommand(
		newEvalCmd(),
		newWatchCmd(g),
		newModelCmd(g),
		newStatsCmd(g),
		newVersionCmd(),
	)
	return cmd
}

func runExtract(cmd *cobra.Command, g *globalOptions, o *extractOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := o.apply(cmd, &cfg); err != nil {
		return err
	}
	opts, err := o.pipelineOptions(cfg, "extract")
	if err != nil {
		return err
	}
	runner, err := newRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	res, err := runner.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printRunSummary(out, res)
	if !o.evaluate {
		return nil
	}
	report, err := res.Evaluate()
	if errors.Is(err, pipeline.ErrNoGold) {
		logger.Warn("--evaluate ignored: %v", err)
		return nil
	}
	if err != nil {
		return err
	}
	printEntTypeReport(out, report)
	return nil
}

// newRunner builds the configured recognizer and history log.
func newRunner(cfg config.Config) (*pipeline.Runner, error) {
	rc := cfg.Recognizer
	if rc.Name != config.RecognizerLexicon && rc.ONNX.ModelDir == "" {
		rc.ONNX.ModelDir = defaultModelDir(cfg.Models.Root)
	}
	rec, err := detect.New(rc)
	if err != nil {
		return nil, &pipeline.StageError{Stage: trace.StageRecognize, Err: err}
	}
	logger.Debug("using %s recognizer", rec.Name())
	return pipeline.NewRunner(rec, openHistory(cfg.HistoryFile)), nil
}

// defaultModelDir is the install location of the recommended model.
func defaultModelDir(root string) string {
	reg, err := models.LoadEmbeddedRegistry()
	if err != nil {
		return ""
	}
	m, ok := reg.Recommended()
	if !ok {
		return ""
	}
	return models.ModelInstallPath(root, m.Name)
}

func openHistory(path string) history.Recorder {
	if path == "" {
		return history.Nop{}
	}
	l, err := history.NewJSONLLogger(path)
	if err != nil {
		logger.Warn("run history disabled: %v", err)
		return history.Nop{}
	}
	return l
}

func printRunSummary(w io.Writer, res *pipeline.Result) {
	docs := 1
	if res.Batch != nil {
		docs = len(res.Batch.Documents)
	}
	fmt.Fprintf(w, "✓ %d entities in %d document(s) written to %s\n", res.Entities, docs, res.OutputPath)
}
