package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"recap-gateway/internal/config"
	"recap-gateway/internal/models"
	providerfactory "recap-gateway/internal/provider/factory"
	"recap-gateway/internal/router"
)

const (
	defaultBenchPause  = 2 * time.Second
	defaultBenchPrompt = "Summarise the trade-offs of retrying a failed HTTP request against a different backend, in five bullet points."
)

type benchMetrics struct {
	TTFTMS          int64   `json:"ttft_ms"`
	TotalMS         int64   `json:"total_ms"`
	OutputTokens    int     `json:"output_tokens"`
	Estimated       bool    `json:"estimated,omitempty"`
	TokensPerSecond float64 `json:"tps"`
}

type benchResult struct {
	Provider        string                 `json:"provider"`
	Model           string                 `json:"model,omitempty"`
	Success         bool                   `json:"success"`
	Error           string                 `json:"error,omitempty"`
	ReasoningFormat models.ReasoningFormat `json:"reasoning_format,omitempty"`
	Content         string                 `json:"content,omitempty"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	Metrics         *benchMetrics          `json:"metrics,omitempty"`
	TestedAt        time.Time              `json:"tested_at"`
}

type benchBest struct {
	Provider string  `json:"provider"`
	Value    float64 `json:"value"`
}

type benchSummary struct {
	FastestTTFT  *benchBest `json:"fastest_ttft,omitempty"`
	FastestTotal *benchBest `json:"fastest_total,omitempty"`
	HighestTPS   *benchBest `json:"highest_tps,omitempty"`
}

type benchReport struct {
	ID       string        `json:"id"`
	TestedAt time.Time     `json:"tested_at"`
	Prompt   string        `json:"prompt"`
	Results  []benchResult `json:"results"`
	Summary  benchSummary  `json:"summary"`
}

func newBenchCommand(opts *globalOptions) *cobra.Command {
	var (
		prompt    string
		system    string
		vendors   string
		pause     time.Duration
		timeout   time.Duration
		outPath   string
		maxTokens int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark every usable vendor with one prompt",
		Long: `Stream one prompt through each vendor in turn, never in parallel, and report
time to first token, total time and throughput.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			gw, err := providerfactory.Build(cfg, opts.logger)
			if err != nil {
				return err
			}
			defer gw.Close()

			ids := config.SplitList(vendors)
			if len(ids) == 0 {
				ids = usableVendors(gw)
			}
			if len(ids) == 0 {
				return errors.New("no usable vendor to benchmark")
			}

			req := models.ChatRequest{
				Messages: chatMessages(system, prompt),
				Stream:   true,
				Options:  models.ChatOptions{MaxTokens: maxTokens, Timeout: timeout},
			}

			out := cmd.OutOrStdout()
			report := benchReport{
				ID:       uuid.NewString(),
				TestedAt: time.Now().UTC(),
				Prompt:   prompt,
			}
			report.Results = runBench(cmd.Context(), gw.Router, ids, req, pause, out)
			report.Summary = summarize(report.Results)

			printBench(out, report)
			if outPath != "" {
				if err := writeReport(outPath, report); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(out, "Report written to %s\n", outPath)
			}
			return cmd.Context().Err()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&prompt, "prompt", defaultBenchPrompt, "user prompt sent to every vendor")
	flags.StringVar(&system, "system", "", "system prompt")
	flags.StringVar(&vendors, "providers", "", "comma-separated vendors to benchmark (default: every usable vendor in priority order)")
	flags.DurationVar(&pause, "pause", defaultBenchPause, "pause between vendors")
	flags.DurationVar(&timeout, "timeout", 0, "override every vendor's deadline")
	flags.StringVarP(&outPath, "out", "o", "", "write a JSON report to this path")
	flags.IntVar(&maxTokens, "max-tokens", 0, "override the vendor's output token limit")
	return cmd
}

func chatMessages(system, prompt string) []models.Message {
	var messages []models.Message
	if system != "" {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	}
	return append(messages, models.Message{Role: models.RoleUser, Content: prompt})
}

func usableVendors(gw *providerfactory.Gateway) []string {
	var ids []string
	for _, id := range gw.Registry.PriorityList() {
		if _, usable, err := gw.Registry.Resolve(id); err == nil && usable {
			ids = append(ids, id)
		}
	}
	return ids
}

// runBench pins req to each vendor in turn and waits pause between runs.
func runBench(ctx context.Context, rt *router.Router, ids []string, req models.ChatRequest, pause time.Duration, progress io.Writer) []benchResult {
	results := make([]benchResult, 0, len(ids))

	for i, id := range ids {
		if i > 0 && pause > 0 {
			fmt.Fprintf(progress, "waiting %s before the next vendor...\n", pause)
			select {
			case <-ctx.Done():
				return results
			case <-time.After(pause):
			}
		}
		if ctx.Err() != nil {
			return results
		}

		fmt.Fprintf(progress, "benchmarking %s...\n", id)
		pinned := req
		pinned.Provider = id
		pinned.AfterProvider = ""

		entry := benchResult{Provider: id, TestedAt: time.Now().UTC()}
		result, err := rt.Stream(ctx, pinned, router.StreamOptions{})
		if result != nil {
			entry.Model = result.Model
			entry.ReasoningFormat = result.ReasoningFormat
			entry.Content = result.Content
			entry.Reasoning = result.Reasoning
			entry.Metrics = &benchMetrics{
				TTFTMS:          result.Metrics.TTFT.Milliseconds(),
				TotalMS:         result.Metrics.Elapsed.Milliseconds(),
				OutputTokens:    result.Usage.CompletionTokens,
				Estimated:       result.Usage.Estimated,
				TokensPerSecond: result.Metrics.TokensPerSecond,
			}
		}
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Success = true
		}
		results = append(results, entry)
	}
	return results
}

func summarize(results []benchResult) benchSummary {
	var s benchSummary
	for _, r := range results {
		if !r.Success || r.Metrics == nil {
			continue
		}
		m := r.Metrics
		if s.FastestTTFT == nil || float64(m.TTFTMS) < s.FastestTTFT.Value {
			s.FastestTTFT = &benchBest{Provider: r.Provider, Value: float64(m.TTFTMS)}
		}
		if s.FastestTotal == nil || float64(m.TotalMS) < s.FastestTotal.Value {
			s.FastestTotal = &benchBest{Provider: r.Provider, Value: float64(m.TotalMS)}
		}
		if s.HighestTPS == nil || m.TokensPerSecond > s.HighestTPS.Value {
			s.HighestTPS = &benchBest{Provider: r.Provider, Value: m.TokensPerSecond}
		}
	}
	return s
}

func printBench(out io.Writer, report benchReport) {
	fmt.Fprintln(out)
	color.New(color.FgBlue, color.Bold).Fprintln(out, "Benchmark results")
	fmt.Fprintf(out, "  %-16s %-10s %-10s %-10s %-10s %s\n", "VENDOR", "TTFT", "TOTAL", "TOKENS", "TPS", "STATUS")

	for _, r := range report.Results {
		if !r.Success {
			fmt.Fprintf(out, "  %-16s %-10s %-10s %-10s %-10s %s\n", r.Provider, "-", "-", "-", "-", color.RedString(r.Error))
			continue
		}
		m := r.Metrics
		tokens := fmt.Sprintf("%d", m.OutputTokens)
		if m.Estimated {
			tokens = "~" + tokens
		}
		fmt.Fprintf(out, "  %-16s %-10s %-10s %-10s %-10.2f %s\n",
			r.Provider,
			fmt.Sprintf("%dms", m.TTFTMS),
			fmt.Sprintf("%dms", m.TotalMS),
			tokens,
			m.TokensPerSecond,
			color.GreenString("ok"),
		)
	}

	fmt.Fprintln(out)
	best := color.New(color.FgYellow)
	if s := report.Summary.FastestTTFT; s != nil {
		best.Fprintf(out, "  Fastest first token: %s (%.0fms)\n", s.Provider, s.Value)
	}
	if s := report.Summary.FastestTotal; s != nil {
		best.Fprintf(out, "  Fastest total:       %s (%.0fms)\n", s.Provider, s.Value)
	}
	if s := report.Summary.HighestTPS; s != nil {
		best.Fprintf(out, "  Highest throughput:  %s (%.2f tokens/s)\n", s.Provider, s.Value)
	}
}

func writeReport(path string, report benchReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
