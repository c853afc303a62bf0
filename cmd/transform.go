package cmd

import (
	"os"

	"github.com/google/uuid"
	"github.com/toques-bi/toques/pkg/pipeline"
	"github.com/urfave/cli/v2"
)

func Transform() *cli.Command {
	return &cli.Command{
		Name:  "transform",
		Usage: "normalize the landed raw data into the reporting tables",
		Flags: []cli.Flag{
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				errorPrinter.Printf("Failed to initialize: %v\n", err)
				return cli.Exit("", 1)
			}
			defer a.Close()

			o, err := a.orchestrator(os.Stderr)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}

			summary := o.Run(c.Context, uuid.NewString(), pipeline.Options{TransformOnly: true})
			return printSummary(os.Stdout, summary, c.String("output"))
		},
	}
}
