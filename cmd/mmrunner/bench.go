package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmrunner/internal/runner"
)

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		prompt     string
		images     []string
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Measure prefill and decode throughput over repeated runs",
		Flags: withFlags(
			commonModelFlags(),
			generationFlags(),
			loggingFlags(),
			[]cli.Flag{
				&cli.Int64Flag{
					Name:        "warmup",
					Usage:       "number of warmup runs",
					Value:       1,
					Destination: &warmupRuns,
				},
				&cli.Int64Flag{
					Name:        "runs",
					Usage:       "number of measured runs",
					Value:       3,
					Destination: &benchRuns,
				},
				&cli.StringFlag{
					Name:        "prompt",
					Aliases:     []string{"p"},
					Usage:       "prompt text for benchmarking",
					Value:       "Describe this image in one sentence.",
					Destination: &prompt,
				},
				&cli.StringSliceFlag{
					Name:        "image",
					Aliases:     []string{"i"},
					Usage:       "image file to include (repeatable)",
					Destination: &images,
				},
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyConfig(c, LoadConfig())
			if !c.IsSet("max-new-tokens") && maxNewTokens < 0 {
				maxNewTokens = 128
			}
			ctx, log := setupLogger(ctx, os.Stderr)

			inputs, err := buildInputs(prompt, images, true, int(imageSize))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			r, err := buildRunner(log, runner.WithStdout(io.Discard))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build runner: %v", err), 1)
			}

			loadStart := time.Now()
			if err := r.Load(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}

			fmt.Println("=== mmrunner bench ===")
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:       %s\n", time.Since(loadStart).Round(time.Millisecond))
			fmt.Printf("Inputs:     %d (%d images)\n", len(inputs), len(images))
			fmt.Printf("Max new:    %d tokens\n", maxNewTokens)
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n\n", benchRuns)

			results, err := benchmark(ctx, r, inputs, generationConfig(), int(warmupRuns), int(benchRuns))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			writeBenchReport(os.Stdout, results)
			return nil
		},
	}
}

// benchmark runs warmup generations and then runs measured ones, resetting
// the runner before each so every run starts from an empty cache.
func benchmark(ctx context.Context, r *runner.Runner, inputs []runner.Input, cfg runner.GenerationConfig, warmup, runs int) ([]runner.Stats, error) {
	cfg.Echo = false
	warm := cfg
	warm.Warming = true
	for i := range warmup {
		r.Reset()
		if err := r.Generate(ctx, inputs, warm, nil, nil); err != nil {
			return nil, fmt.Errorf("warmup run %d: %w", i+1, err)
		}
	}

	results := make([]runner.Stats, 0, runs)
	for i := range runs {
		r.Reset()
		var st runner.Stats
		if err := r.Generate(ctx, inputs, cfg, nil, func(s runner.Stats) { st = s }); err != nil {
			return nil, fmt.Errorf("benchmark run %d: %w", i+1, err)
		}
		results = append(results, st)
	}
	r.Reset()
	return results, nil
}

func writeBenchReport(w io.Writer, results []runner.Stats) {
	_, _ = fmt.Fprintln(w, "=== Results ===")
	_, _ = fmt.Fprintf(w, "%-6s %10s %10s %10s %10s %8s\n", "Run", "Prompt", "Decode", "TTFT", "Total", "Tokens")
	_, _ = fmt.Fprintf(w, "%-6s %10s %10s %10s %10s %8s\n", "---", "tps", "tps", "", "", "")

	var sumPrompt, sumDecode float64
	for i, st := range results {
		_, _ = fmt.Fprintf(w, "%-6d %10.2f %10.2f %10s %10s %8d\n",
			i+1, st.PromptTokensPerSecond(), st.DecodeTokensPerSecond(),
			st.TimeToFirstToken().Round(time.Millisecond), st.InferenceTime().Round(time.Millisecond),
			st.NumGeneratedTokens)
		sumPrompt += st.PromptTokensPerSecond()
		sumDecode += st.DecodeTokensPerSecond()
	}
	if len(results) == 0 {
		return
	}
	n := float64(len(results))
	_, _ = fmt.Fprintf(w, "\n%-6s %10.2f %10.2f\n", "Avg", sumPrompt/n, sumDecode/n)

	if rss := results[len(results)-1].RSSAfterGenerateBytes; rss > 0 {
		_, _ = fmt.Fprintf(w, "\nRSS: %.1f MiB\n", float64(rss)/(1024*1024))
	}
}
