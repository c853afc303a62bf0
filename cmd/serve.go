package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/toques-bi/toques/pkg/httpapi"
	"github.com/toques-bi/toques/pkg/pipeline"
	"github.com/toques-bi/toques/pkg/scheduler"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func Serve() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the pipeline control API and run the optional schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "the address to listen on, overrides server.address",
				EnvVars: []string{"TOQUES_ADDR"},
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "a standard cron expression that triggers a run, overrides server.schedule",
				EnvVars: []string{"TOQUES_SCHEDULE"},
			},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				errorPrinter.Printf("Failed to initialize: %v\n", err)
				return cli.Exit("", 1)
			}
			defer a.Close()

			addr := a.config.Server.Address
			if c.IsSet("addr") {
				addr = c.String("addr")
			}
			schedule := a.config.Server.Schedule
			if c.IsSet("schedule") {
				schedule = c.String("schedule")
			}

			o, err := a.orchestrator(os.Stderr)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}
			runner := pipeline.NewRunner(o, a.logger)

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return httpapi.NewServer(runner, a.logger).ListenAndServe(ctx, addr)
			})

			if schedule != "" {
				s, err := scheduler.New(schedule, runner, pipeline.Options{}, a.logger)
				if err != nil {
					errorPrinter.Printf("%v\n", err)
					return cli.Exit("", 1)
				}
				infoPrinter.Printf("Pipeline scheduled with %q, next run at %s\n", schedule, faint(s.Next(time.Now()).Format(time.DateTime)))
				g.Go(func() error { return s.Run(ctx) })
			}

			infoPrinter.Printf("Serving the pipeline API on %s\n", addr)
			if err := g.Wait(); err != nil && err != context.Canceled {
				errorPrinter.Printf("Server stopped: %v\n", err)
				return cli.Exit("", 1)
			}

			if runner.Status().Running {
				warningPrinter.Println("Waiting for the in-flight run to finish...")
				runner.Wait()
			}
			return nil
		},
	}
}
