package bench

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/radutopala/toolsee/internal/selector"
	"github.com/radutopala/toolsee/internal/toolmemory"
)

// DefaultExtraTools is how many tools beyond the expected count each case may select.
const DefaultExtraTools = 5

// CaseResult is the outcome of one selection.
type CaseResult struct {
	Query    string
	Expected []string
	Selected []string
	Success  bool    // Every expected tool was selected
	Recall   float64 // Fraction of expected tools selected
	Latency  time.Duration
	Tokens   int // Tokens of the selected tool metadata
}

// Report aggregates the results of one dataset.
type Report struct {
	Name               string
	Cases              int
	Accuracy           float64
	MeanRecall         float64
	MedianLatency      time.Duration
	MedianTokenSavings float64 // Median of (catalog - selected) / catalog tokens
	CatalogTokens      int
}

// String renders the report on one line.
func (r Report) String() string {
	return fmt.Sprintf("%s: cases=%d accuracy=%.4f recall=%.4f latency_median=%s token_savings_median=%.2f catalog_tokens=%d",
		r.Name, r.Cases, r.Accuracy, r.MeanRecall, r.MedianLatency.Round(10*time.Microsecond), r.MedianTokenSavings, r.CatalogTokens)
}

// Runner measures selection quality against a catalog stored in a tool memory.
type Runner struct {
	memory        selector.Querier
	counter       *TokenCounter
	extra         int
	catalogTokens int
	logger        *slog.Logger
}

// NewRunner creates a runner over memory. catalog is the full tool list the
// token savings are measured against.
func NewRunner(memory selector.Querier, catalog []toolmemory.ToolRecord, counter *TokenCounter, logger *slog.Logger) (*Runner, error) {
	total := 0
	for _, record := range catalog {
		n, err := counter.CountJSON(record.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to count catalog tokens for %s: %w", record.ID, err)
		}
		total += n
	}

	logger.Info("Counted catalog tokens", "tools", len(catalog), "tokens", total)

	return &Runner{
		memory:        memory,
		counter:       counter,
		extra:         DefaultExtraTools,
		catalogTokens: total,
		logger:        logger,
	}, nil
}

// Run selects tools for every case and aggregates the results.
func (r *Runner) Run(ctx context.Context, name string, cases []Case) (*Report, []CaseResult, error) {
	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		result, err := r.runCase(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		r.logger.Debug("Benchmark case", "query", c.Query, "expected", c.Tools, "selected", result.Selected, "success", result.Success)
		results = append(results, result)
	}

	report := Summarize(name, results, r.catalogTokens)
	r.logger.Info("Benchmark finished", "dataset", name, "cases", report.Cases, "accuracy", report.Accuracy,
		"median_latency_ms", float64(report.MedianLatency.Microseconds())/1000, "median_token_savings", report.MedianTokenSavings)
	return report, results, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) (CaseResult, error) {
	if len(c.Tools) == 0 {
		return CaseResult{}, fmt.Errorf("case %q has no expected tools", c.Query)
	}

	start := time.Now()
	selections, err := selector.SelectToolsForQuery(ctx, r.memory, c.Query, selector.Options{TopK: len(c.Tools) + r.extra})
	latency := time.Since(start)
	if err != nil {
		return CaseResult{}, fmt.Errorf("failed to select tools for %q: %w", c.Query, err)
	}

	selected := make([]string, len(selections))
	metadata := make([]map[string]any, len(selections))
	for i, sel := range selections {
		selected[i] = sel.ID
		metadata[i] = sel.Metadata
	}

	tokens, err := r.counter.CountJSON(metadata)
	if err != nil {
		return CaseResult{}, err
	}

	hits := 0
	for _, expected := range c.Tools {
		if slices.ContainsFunc(selected, func(s string) bool { return strings.EqualFold(s, expected) }) {
			hits++
		}
	}

	return CaseResult{
		Query:    c.Query,
		Expected: c.Tools,
		Selected: selected,
		Success:  hits == len(c.Tools),
		Recall:   float64(hits) / float64(len(c.Tools)),
		Latency:  latency,
		Tokens:   tokens,
	}, nil
}

// Summarize aggregates case results. catalogTokens of 0 reports zero savings.
func Summarize(name string, results []CaseResult, catalogTokens int) *Report {
	report := &Report{Name: name, Cases: len(results), CatalogTokens: catalogTokens}
	if len(results) == 0 {
		return report
	}

	var successes, recall float64
	latencies := make([]float64, len(results))
	savings := make([]float64, len(results))
	for i, result := range results {
		if result.Success {
			successes++
		}
		recall += result.Recall
		latencies[i] = float64(result.Latency)
		if catalogTokens > 0 {
			savings[i] = float64(catalogTokens-result.Tokens) / float64(catalogTokens)
		}
	}

	report.Accuracy = successes / float64(len(results))
	report.MeanRecall = recall / float64(len(results))
	report.MedianLatency = time.Duration(median(latencies))
	report.MedianTokenSavings = median(savings)
	return report
}

// median of values, averaging the two middle elements for even lengths.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
