// Package api exposes a runner over HTTP.
package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/mmrunner/internal/logger"
	"github.com/samcharles93/mmrunner/internal/runner"
)

type Server struct {
	session *Session
	store   *ResultStore
	log     logger.Logger
	metrics http.Handler
	clock   func() time.Time
}

type ServerOption func(*Server)

func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithGatherer serves gatherer on /metrics. Defaults to the Prometheus
// default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{}) }
}

func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) { s.clock = now }
}

func NewServer(session *Session, store *ResultStore, opts ...ServerOption) *Server {
	if store == nil {
		store = NewResultStore(10*time.Minute, 0)
	}
	s := &Server{
		session: session,
		store:   store,
		log:     logger.Discard(),
		metrics: promhttp.Handler(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "api")
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.POST("/v1/prefill", s.handlePrefill)
	e.POST("/v1/stop", s.handleStop)
	e.POST("/v1/reset", s.handleReset)
	e.GET("/v1/status", s.handleStatus)
	e.GET("/metrics", s.handleMetrics)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeError(c, newInvalidRequest(err.Error()))
	}
	inputs, err := toInputs(req.Inputs, s.session.maxImageSide)
	if err != nil {
		return writeError(c, err)
	}
	cfg := req.Config.apply(s.session.defaults)
	gen := Generation{ID: uuid.NewString(), CreatedAt: s.clock().Unix()}

	if req.Stream || streamParam(c) {
		return s.streamGenerate(c, inputs, cfg, gen)
	}

	ctx := c.Request().Context()
	var text strings.Builder
	err = s.session.WithRunner(ctx, func(r *runner.Runner) error {
		return r.Generate(ctx, inputs, cfg,
			func(piece string) { text.WriteString(piece) },
			func(st runner.Stats) { gen.Stats = &st },
		)
	})
	gen.Text = text.String()
	s.finish(&gen, err)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) streamGenerate(c *echo.Context, inputs []runner.Input, cfg runner.GenerationConfig, gen Generation) error {
	w, err := NewSSEStreamWriter(c)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	var text strings.Builder
	var writeErr error
	err = s.session.WithRunner(ctx, func(r *runner.Runner) error {
		return r.Generate(ctx, inputs, cfg,
			func(piece string) {
				text.WriteString(piece)
				if writeErr != nil {
					return
				}
				if writeErr = w.Token(piece); writeErr != nil {
					s.log.Warn("stream write failed, stopping generation", "id", gen.ID, "error", writeErr)
					r.Stop()
				}
			},
			func(st runner.Stats) {
				gen.Stats = &st
				_ = w.Stats(st)
			},
		)
	})
	gen.Text = text.String()
	s.finish(&gen, err)
	if err != nil {
		_ = w.Error(err)
	}
	_ = w.Done(gen)
	return nil
}

// finish records the outcome and stores the generation.
func (s *Server) finish(gen *Generation, err error) {
	if err != nil {
		gen.Status = StatusFailed
		gen.Error = errorDetail(err)
		s.log.Warn("generation failed", "id", gen.ID, "error", err)
	} else {
		gen.Status = StatusCompleted
		s.log.Debug("generation completed", "id", gen.ID, "chars", len(gen.Text))
	}
	s.store.Put(*gen)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	gen, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handlePrefill(c *echo.Context) error {
	req, err := decodeJSON[PrefillRequest](c.Request().Body)
	if err != nil {
		return writeError(c, newInvalidRequest(err.Error()))
	}
	if len(req.Inputs) == 0 {
		return writeError(c, newInvalidRequest("inputs must not be empty"))
	}
	inputs, err := toInputs(req.Inputs, s.session.maxImageSide)
	if err != nil {
		return writeError(c, err)
	}

	ctx := c.Request().Context()
	var resp PrefillResponse
	err = s.session.WithRunner(ctx, func(r *runner.Runner) error {
		tok, err := r.Prefill(ctx, inputs, req.NumBOS, req.NumEOS)
		if err != nil {
			return err
		}
		resp = PrefillResponse{Token: tok, Pos: r.Pos()}
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStop(c *echo.Context) error {
	s.session.Stop()
	return c.JSON(http.StatusAccepted, map[string]bool{"stopped": true})
}

func (s *Server) handleReset(c *echo.Context) error {
	err := s.session.WithRunner(c.Request().Context(), func(r *runner.Runner) error {
		r.Reset()
		return nil
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

func streamParam(c *echo.Context) bool {
	q := c.QueryParam("stream")
	return q == "1" || strings.EqualFold(q, "true")
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
