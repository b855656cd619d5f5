package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/analysis"
)

var (
	analyzeCompany     string
	analyzeIndustry    string
	analyzeFormat      string
	analyzeConcurrency int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE...",
	Short: "Analyze one or more Terms & Conditions documents",
	Long: `Analyze reads each FILE as plain text and runs it through the two-stage
pipeline. Use "-" to read a document from standard input.

Examples:
  tcanalyze analyze ./acme-terms.txt
  tcanalyze analyze ./terms/*.txt --concurrency 8 --format json
  cat terms.txt | tcanalyze analyze - --company Acme`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCompany, "company", "", "Company the documents belong to")
	analyzeCmd.Flags().StringVar(&analyzeIndustry, "industry", "", "Industry of the company")
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "text", "Output format (text, json)")
	analyzeCmd.Flags().IntVarP(&analyzeConcurrency, "concurrency", "j", 4, "Documents analyzed in parallel")
}

// outcome is the per-document result of a batch run.
type outcome struct {
	Path    string            `json:"path"`
	Summary *analysis.Summary `json:"summary,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(strings.TrimSpace(analyzeFormat))
	if format != "text" && format != "json" {
		return fmt.Errorf("unknown format %q", analyzeFormat)
	}

	docs := make([]analysis.Document, len(args))
	for i, path := range args {
		doc, err := readDocument(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		doc.Company = analyzeCompany
		doc.Industry = analyzeIndustry
		docs[i] = doc
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	outcomes := make([]outcome, len(docs))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(1, analyzeConcurrency))
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			res, err := a.Analyze(ctx, doc)
			outcomes[i] = outcome{Path: args[i]}
			if res != nil {
				summary := res.Summary()
				outcomes[i].Summary = &summary
			}
			if err != nil {
				outcomes[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomes); err != nil {
			return err
		}
	} else {
		for _, o := range outcomes {
			writeOutcome(out, o)
		}
	}

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d document(s) failed", failed, len(outcomes))
	}
	return nil
}

func readDocument(stdin io.Reader, path string) (analysis.Document, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return analysis.Document{}, fmt.Errorf("read stdin: %w", err)
		}
		return analysis.Document{ID: "stdin", Text: string(data)}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return analysis.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return analysis.Document{ID: id, Text: string(data)}, nil
}

func writeOutcome(w io.Writer, o outcome) {
	if o.Summary == nil {
		fmt.Fprintf(w, "%s: error: %s\n", o.Path, o.Error)
		return
	}
	s := o.Summary
	source := "computed"
	if s.FromCache {
		source = "cache"
	}
	fmt.Fprintf(w, "%s: risk=%s confidence=%.2f stage=%d escalated=%t anomalies=%d cost=$%.4f efficiency=%.1f%% (%s)\n",
		o.Path, s.FinalRisk, s.FinalConfidence, s.StageReached, s.Escalated, s.AnomalyCount, s.TotalCost, s.CostEfficiency, source)
	if s.EscalationFailed {
		fmt.Fprintf(w, "  escalation failed, classifier result kept\n")
	}
	if o.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", o.Error)
	}
}
