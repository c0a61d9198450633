package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmrunner/internal/media"
	"github.com/samcharles93/mmrunner/internal/runner"
)

func runCmd() *cli.Command {
	var (
		prompt     string
		images     []string
		imageFirst bool
		warmup     bool
		statsJSON  bool
		cpuProfile string
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Prefill a prompt with optional images and generate text",
		Flags: withFlags(
			commonModelFlags(),
			generationFlags(),
			loggingFlags(),
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "prompt",
					Aliases:     []string{"p"},
					Usage:       "prompt text",
					Destination: &prompt,
				},
				&cli.StringSliceFlag{
					Name:        "image",
					Aliases:     []string{"i"},
					Usage:       "image file to include (repeatable)",
					Destination: &images,
				},
				&cli.BoolFlag{
					Name:        "image-first",
					Usage:       "place images before the prompt",
					Value:       true,
					Destination: &imageFirst,
				},
				&cli.BoolFlag{
					Name:        "warmup",
					Usage:       "run one silent generation first to prime caches",
					Destination: &warmup,
				},
				&cli.BoolFlag{
					Name:        "stats-json",
					Usage:       "print generation stats as JSON on stderr",
					Destination: &statsJSON,
				},
				&cli.StringFlag{
					Name:        "cpuprofile",
					Usage:       "write cpu profile to file",
					Destination: &cpuProfile,
				},
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyConfig(c, LoadConfig())
			ctx, log := setupLogger(ctx, os.Stderr)

			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("could not create CPU profile: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("could not start CPU profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}

			inputs, err := buildInputs(prompt, images, imageFirst, int(imageSize))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(inputs) == 0 {
				return cli.Exit("error: --prompt or --image is required", 1)
			}

			r, err := buildRunner(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build runner: %v", err), 1)
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			if err := r.Load(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}

			cfg := generationConfig()
			if warmup {
				warm := cfg
				warm.Warming = true
				warm.Echo = false
				if err := r.Generate(ctx, inputs, warm, nil, nil); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup: %v", err), 1)
				}
				r.Reset()
			}

			err = r.Generate(ctx, inputs, cfg, nil, func(st runner.Stats) {
				if statsJSON {
					if line, err := st.JSON(); err == nil {
						_, _ = fmt.Fprintln(os.Stderr, line)
					}
					return
				}
				printStats(os.Stderr, st)
			})
			if errors.Is(err, context.Canceled) {
				_, _ = fmt.Fprintln(os.Stderr, "\ninterrupted")
				return nil
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
			}
			return nil
		},
	}
}

// buildInputs loads images and orders them around the prompt.
func buildInputs(prompt string, imagePaths []string, imageFirst bool, maxSide int) ([]runner.Input, error) {
	imgs := make([]runner.Input, 0, len(imagePaths))
	for _, path := range imagePaths {
		img, err := media.LoadFile(path, maxSide)
		if err != nil {
			return nil, err
		}
		imgs = append(imgs, runner.ImageInput(img))
	}

	var inputs []runner.Input
	if imageFirst {
		inputs = append(inputs, imgs...)
	}
	if prompt != "" {
		inputs = append(inputs, runner.TextInput(prompt))
	}
	if !imageFirst {
		inputs = append(inputs, imgs...)
	}
	return inputs, nil
}
