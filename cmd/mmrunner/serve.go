package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/mmrunner/internal/api"
	"github.com/samcharles93/mmrunner/internal/metrics"
	"github.com/samcharles93/mmrunner/internal/runner"
)

func serveCmd() *cli.Command {
	var (
		addr           string
		readTimeout    time.Duration
		resultTTL      time.Duration
		resultCapacity int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the runner over HTTP",
		Flags: withFlags(
			commonModelFlags(),
			generationFlags(),
			loggingFlags(),
			[]cli.Flag{
				&cli.StringFlag{
					Name:        "addr",
					Usage:       "listen address",
					Value:       "127.0.0.1:8080",
					Destination: &addr,
				},
				&cli.DurationFlag{
					Name:        "read-timeout",
					Usage:       "read header timeout",
					Value:       30 * time.Second,
					Destination: &readTimeout,
				},
				&cli.DurationFlag{
					Name:        "result-ttl",
					Usage:       "how long finished generations can be fetched by id",
					Value:       10 * time.Minute,
					Destination: &resultTTL,
				},
				&cli.Int64Flag{
					Name:        "result-capacity",
					Usage:       "max stored generations (0 = unbounded)",
					Value:       1024,
					Destination: &resultCapacity,
				},
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyConfig(cmd, cfg)
			if err := applyServeConfig(cmd, cfg, &addr, &resultTTL); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			ctx, log := setupLogger(ctx, os.Stderr)

			rec := metrics.New(prometheus.DefaultRegisterer)
			r, err := buildRunner(log, runner.WithRecorder(rec))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build runner: %v", err), 1)
			}

			defaults := generationConfig()
			defaults.Echo = false
			session := api.NewSession(r,
				api.WithDefaults(defaults),
				api.WithMaxImageSide(int(imageSize)),
				api.WithPositionObserver(rec),
			)
			store := api.NewResultStore(resultTTL, uint64(max(resultCapacity, 0)))
			go store.Run(ctx)

			server := api.NewServer(session, store,
				api.WithLogger(log),
				api.WithGatherer(prometheus.DefaultGatherer),
			)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "max_context", maxContext)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
