package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/logsight/ds-analyzer/internal/engine"
	"github.com/logsight/ds-analyzer/internal/knowledge"
	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/report"
)

type analyzeOptions struct {
	kind     string
	files    []string
	format   string
	noLLM    bool
	deadline time.Duration
	model    string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Analyze log files and print the report",
		Long: `Analyze one or more Deep Security log files and print the standardized report.

Examples:
  ds-analyzer analyze ds_agent.log
  ds-analyzer analyze --kind amsp --file AMSP-UI.log --format json
  ds-analyzer analyze --no-llm diag/ds_agent.log diag/ds_am.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			req, err := opts.request(append(append([]string{}, opts.files...), args...))
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger, wiring{completion: !opts.noLLM, storage: true})
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.run.Analyze(cmd.Context(), req)
			return report.Encode(cmd.OutOrStdout(), rep, opts.format)
		},
	}
	cmd.Flags().StringVar(&opts.kind, "kind", "", "analyzer kind: "+kindList()+" (default: detected from file names)")
	cmd.Flags().StringSliceVarP(&opts.files, "file", "f", nil, "log file to analyze (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "o", report.FormatYAML, "output format: yaml or json")
	cmd.Flags().BoolVar(&opts.noLLM, "no-llm", false, "skip the completion service and report ML and retrieval results only")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 0, "bound the whole analysis (0 uses the completion timeout)")
	cmd.Flags().StringVar(&opts.model, "model", "", "override the configured completion model")
	return cmd
}

func (o *analyzeOptions) request(paths []string) (models.AnalysisRequest, error) {
	if len(paths) == 0 {
		return models.AnalysisRequest{}, fmt.Errorf("at least one log file is required")
	}
	switch strings.ToLower(o.format) {
	case report.FormatYAML, "yml", report.FormatJSON:
	default:
		return models.AnalysisRequest{}, fmt.Errorf("unsupported format %q", o.format)
	}

	files, err := readFiles(paths)
	if err != nil {
		return models.AnalysisRequest{}, err
	}
	kind, err := resolveKind(o.kind, files)
	if err != nil {
		return models.AnalysisRequest{}, err
	}
	return models.AnalysisRequest{
		Kind:  kind,
		Files: files,
		Options: models.AnalysisOptions{
			SkipCompletion: o.noLLM,
			Deadline:       o.deadline,
			Model:          o.model,
		},
	}, nil
}

func readFiles(paths []string) ([]models.InputFile, error) {
	files := make([]models.InputFile, 0, len(paths))
	for _, p := range paths {
		var (
			data []byte
			err  error
			name = filepath.Base(p)
		)
		if p == "-" {
			data, err = io.ReadAll(os.Stdin)
			name = "stdin.log"
		} else {
			data, err = os.ReadFile(p)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, models.InputFile{Name: name, Content: string(data)})
	}
	return files, nil
}

func resolveKind(value string, files []models.InputFile) (models.AnalyzerKind, error) {
	if strings.TrimSpace(value) != "" {
		kind, ok := models.ParseKind(value)
		if !ok {
			return "", fmt.Errorf("unknown kind %q (want one of %s)", value, kindList())
		}
		return kind, nil
	}
	if len(files) > 1 {
		return models.KindDiagnosticPackage, nil
	}
	return models.DetectKind(files[0].Name), nil
}

func kindList() string {
	kinds := models.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func newQueriesCmd(root *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "queries <file>...",
		Short: "Print the knowledge queries a run would issue, without calling the completion service",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			k, err := resolveKind(kind, files)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg, logger, wiring{})
			if err != nil {
				return err
			}
			defer a.Close()

			rep := a.run.Analyze(cmd.Context(), models.AnalysisRequest{
				Kind:    k,
				Files:   files,
				Options: models.AnalysisOptions{SkipCompletion: true},
			})
			out := cmd.OutOrStdout()
			queries, _ := rep.Metadata["queries"].([]string)
			if len(queries) == 0 {
				queries = []string{fallbackQuery(a.run)}
			}
			for _, q := range queries {
				fmt.Fprintln(out, q)
			}
			if sources, _ := rep.Metadata["knowledge_sources"].([]string); len(sources) > 0 {
				fmt.Fprintf(out, "\nmatched sources: %s\n", strings.Join(sources, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "analyzer kind (default: detected from file names)")
	return cmd
}

func fallbackQuery(run *engine.DiagnosticRun) string {
	if r := run.Retriever(); r != nil {
		return r.FallbackQuery()
	}
	return knowledge.NewRetriever(nil, knowledge.DefaultOptions()).FallbackQuery()
}
