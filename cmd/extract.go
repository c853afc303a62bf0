package cmd

import (
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func Extract() *cli.Command {
	return &cli.Command{
		Name:  "extract",
		Usage: "land raw provider responses without transforming them",
		Flags: []cli.Flag{
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

			o, err := a.orchestrator(os.Stderr)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}

			summary := o.Extract(c.Context, uuid.NewString(), c.Bool("full-refresh"))
			return printSummary(os.Stdout, summary, c.String("output"))
		},
	}
}
