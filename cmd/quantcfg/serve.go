package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/quantcfg/internal/api"
	"github.com/samcharles93/quantcfg/internal/logger"
	"github.com/samcharles93/quantcfg/internal/metrics"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		storeCapacity int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the resolution API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "store-capacity",
				Usage:       "number of reports kept for retrieval",
				Value:       64,
				Destination: &storeCapacity,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, LoadConfig(), &addr, &storeCapacity)
			log := logger.FromContext(ctx)

			server := api.NewServer(api.NewReportStore(int(storeCapacity)), metrics.New(), log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
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
