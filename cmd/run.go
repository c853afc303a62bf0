package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/pipeline"
	"github.com/urfave/cli/v2"
)

var (
	fullRefreshFlag = &cli.BoolFlag{
		Name:    "full-refresh",
		Aliases: []string{"r"},
		Usage:   "ignore the stored cursors and extract the whole lookback window again",
		EnvVars: []string{"TOQUES_FULL_REFRESH"},
	}
	outputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "the output type, possible values are: plain, json",
		Value:   "plain",
	}
)

func Run() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the whole pipeline: extract, transform, downstream models and report",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-extract",
				Usage: "transform the raw data already landed without calling the provider API",
			},
			&cli.BoolFlag{
				Name:  "skip-dbt",
				Usage: "do not run the downstream model build and tests",
			},
			&cli.BoolFlag{
				Name:  "transform-only",
				Usage: "only run the transform and the report",
			},
			fullRefreshFlag,
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				errorPrinter.Printf("Failed to initialize: %v\n", err)
				return cli.Exit("", 1)
			}
			defer a.Close()

			opts := pipeline.Options{
				SkipExtract:    c.Bool("skip-extract"),
				SkipDownstream: c.Bool("skip-dbt"),
				TransformOnly:  c.Bool("transform-only"),
				FullRefresh:    c.Bool("full-refresh"),
			}

			o, err := a.orchestrator(os.Stderr)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}

			summary := o.Run(c.Context, uuid.NewString(), opts)
			return printSummary(os.Stdout, summary, c.String("output"))
		},
	}
}

// printSummary renders a finished run and turns any non-success status into a failing exit.
func printSummary(w io.Writer, s *pipeline.Summary, output string) error {
	if output == "json" {
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal the output")
		}
		fmt.Fprintln(w, string(out))
	} else {
		pipeline.RenderSummary(w, s)
		fmt.Fprintln(w)
		statusPrinter(s.Status).Printf("Pipeline finished with status %s in %s\n", s.Status, s.Duration.Round(time.Millisecond))
	}

	if s.Status != pipeline.StatusSuccess {
		return cli.Exit("", 1)
	}
	return nil
}

func statusPrinter(s pipeline.Status) printer {
	switch s {
	case pipeline.StatusSuccess:
		return successPrinter
	case pipeline.StatusPartialError:
		return warningPrinter
	default:
		return errorPrinter
	}
}
