package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmrunner/internal/media"
	"github.com/samcharles93/mmrunner/internal/runner"
)

const chatHelp = `commands:
  /image <path>  attach an image to the next message
  /reset         clear the conversation
  /stats         show stats for the last reply
  /quit          exit`

// chatSession keeps the conversation in the runner's cache between turns.
type chatSession struct {
	r       *runner.Runner
	cfg     runner.GenerationConfig
	out     io.Writer
	maxSide int
	pending []runner.Input
	last    *runner.Stats
	intr    *interruptHandler
}

// interruptHandler routes Ctrl+C: during a reply it stops generation,
// otherwise it ends the session.
type interruptHandler struct {
	replying atomic.Bool
	stop     func()
	quit     func()
}

func (h *interruptHandler) handle() {
	if h.replying.Load() {
		h.stop()
		return
	}
	h.quit()
}

// handleCommand runs a slash command. It reports whether the line was a
// command and whether the session should end.
func (s *chatSession) handleCommand(line string) (handled, quit bool) {
	if !strings.HasPrefix(line, "/") {
		return false, false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, true
	case "/reset":
		s.r.Reset()
		s.pending = nil
		s.last = nil
		_, _ = fmt.Fprintln(s.out, "conversation cleared")
	case "/stats":
		if s.last == nil {
			_, _ = fmt.Fprintln(s.out, "no reply yet")
			break
		}
		printStats(s.out, *s.last)
	case "/image":
		if arg == "" {
			_, _ = fmt.Fprintln(s.out, "usage: /image <path>")
			break
		}
		img, err := media.LoadFile(arg, s.maxSide)
		if err != nil {
			_, _ = fmt.Fprintf(s.out, "error: %v\n", err)
			break
		}
		s.pending = append(s.pending, runner.ImageInput(img))
		_, _ = fmt.Fprintf(s.out, "attached %dx%d image\n", img.Width, img.Height)
	default:
		_, _ = fmt.Fprintln(s.out, chatHelp)
	}
	return true, false
}

// turn sends one user message, preceded by any attached images.
func (s *chatSession) turn(ctx context.Context, text string) error {
	inputs := append(s.pending, runner.TextInput(text))
	s.pending = nil
	if s.intr != nil {
		s.intr.replying.Store(true)
		defer s.intr.replying.Store(false)
	}
	return s.r.Generate(ctx, inputs, s.cfg, nil, func(st runner.Stats) {
		s.last = &st
	})
}

func chatCmd() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive multi-turn session that keeps the cache between turns",
		Flags: withFlags(commonModelFlags(), generationFlags(), loggingFlags()),
		Action: func(ctx context.Context, c *cli.Command) error {
			applyConfig(c, LoadConfig())
			ctx, log := setupLogger(ctx, os.Stderr)

			r, err := buildRunner(log)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build runner: %v", err), 1)
			}
			if err := r.Load(ctx); err != nil {
				return cli.Exit(fmt.Sprintf("error: load: %v", err), 1)
			}

			// A raw-mode terminal reads Ctrl+C at the prompt as a key; the
			// signal only arrives during a reply or on a plain stdin.
			intr := &interruptHandler{
				stop: r.Stop,
				quit: func() {
					_, _ = fmt.Fprintln(os.Stdout)
					os.Exit(130)
				},
			}
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt)
			defer signal.Stop(sigs)
			go func() {
				for range sigs {
					intr.handle()
				}
			}()

			s := &chatSession{r: r, cfg: generationConfig(), out: os.Stdout, maxSide: int(imageSize), intr: intr}
			s.cfg.Echo = false
			_, _ = fmt.Fprintln(os.Stdout, "type /help for commands")
			for {
				line, err := readInteractiveLine("> ")
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if handled, quit := s.handleCommand(line); quit {
					return nil
				} else if handled {
					continue
				}

				if err := s.turn(ctx, line); err != nil {
					_, _ = fmt.Fprintf(os.Stdout, "\nerror: %v (try /reset)\n", err)
				}
			}
		},
	}
}
