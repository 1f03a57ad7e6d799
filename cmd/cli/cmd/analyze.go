package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dump-correlator/internal/service"
	"github.com/dump-correlator/pkg/model"
)

var (
	// Analyze command flags
	threadsInput string
	heapInput    string
	threadFormat string
	heapFormat   string
	reportFormat string
	outputFile   string
	uploadKey    string
	failOn       string
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Correlate one thread dump with one heap snapshot",
	Long: `Parse a thread dump and a heap snapshot, correlate them and print a report.

Inputs are local paths or cos://<key> URIs read through the configured
storage. Gzip and zstd compressed inputs are detected automatically.
Either input may be omitted, in which case only the rules that need the
other side run.

Large objects are the top correlation.retained_size_threshold_percent of the
heap by retained size, rounded up so that at least one object is flagged.
Set correlation.retained_size_threshold_bytes for an absolute cutoff instead.
Threads using more than correlation.high_cpu_percent of their lifetime on
CPU are reported as hot.

Report formats:
  - text   : plain text grouped by severity (default)
  - styled : colored terminal output
  - json   : machine readable document`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	binName := BinName()
	analyzeCmd.Example = `  # Correlate local captures
  ` + binName + ` analyze --threads ./jstack.txt --heap ./heap.txt

  # Colored output, fail the build on critical findings
  ` + binName + ` analyze -t ./jstack.txt -H ./heap.txt -f styled --fail-on critical

  # Write JSON and keep a copy in object storage
  ` + binName + ` analyze -t ./jstack.txt -H ./heap.txt -f json -o report.json --upload-key reports/today.json`

	analyzeCmd.Flags().StringVarP(&threadsInput, "threads", "t", "", "Thread dump path or cos://key")
	analyzeCmd.Flags().StringVarP(&heapInput, "heap", "H", "", "Heap snapshot path or cos://key")
	analyzeCmd.Flags().StringVar(&threadFormat, "thread-format", "", "Thread dump parser (default jstack)")
	analyzeCmd.Flags().StringVar(&heapFormat, "heap-format", "", "Heap snapshot parser (default heaptext)")
	analyzeCmd.Flags().StringVarP(&reportFormat, "format", "f", "text", "Report format: text, styled, json")
	analyzeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the report to a file instead of stdout")
	analyzeCmd.Flags().StringVar(&uploadKey, "upload-key", "", "Upload the rendered report to storage under this key")
	analyzeCmd.Flags().StringVar(&failOn, "fail-on", "", "Exit non-zero when a finding of this severity or higher is reported")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	log := GetLogger()

	if threadsInput == "" && heapInput == "" {
		return fmt.Errorf("at least one of --threads or --heap is required")
	}

	var threshold model.Severity
	if failOn != "" {
		sev, ok := model.ParseSeverity(failOn)
		if !ok {
			return fmt.Errorf("invalid --fail-on severity %q", failOn)
		}
		threshold = sev
	}

	svc, err := service.New(GetConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer svc.Close()

	if err := svc.Initialize(cmd.Context()); err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	res, err := svc.Analyze(cmd.Context(), service.AnalyzeRequest{
		ThreadsLocation: threadsInput,
		HeapLocation:    heapInput,
		ThreadFormat:    threadFormat,
		HeapFormat:      heapFormat,
		Format:          reportFormat,
		UploadKey:       uploadKey,
	}, out)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	doc := res.Document
	if doc.Stats != nil {
		log.Info("Run %s: %s threads, %s objects, %s shallow heap",
			doc.RunID,
			humanize.Comma(int64(doc.Stats.Threads)),
			humanize.Comma(int64(doc.Stats.Objects)),
			humanize.Bytes(uint64(doc.Stats.TotalShallow)))
	}
	if outputFile != "" {
		log.Info("Report written to %s", outputFile)
	}
	if res.UploadURL != "" {
		log.Info("Report uploaded to %s", res.UploadURL)
	}

	if failOn != "" {
		if n := countAtLeast(doc.Findings, threshold); n > 0 {
			return fmt.Errorf("%d finding(s) at %s or above", n, strings.ToLower(threshold.String()))
		}
	}
	return nil
}

func countAtLeast(findings []model.Finding, sev model.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity >= sev {
			n++
		}
	}
	return n
}
