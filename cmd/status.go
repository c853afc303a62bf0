package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/pipeline"
	"github.com/toques-bi/toques/pkg/syncstate"
	"github.com/urfave/cli/v2"
)

func Status() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the extraction cursors and the last sync of every entity",
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

			entries, err := syncstate.List(c.Context, a.db)
			if err != nil {
				errorPrinter.Printf("%v\n", err)
				return cli.Exit("", 1)
			}

			if c.String("output") == "json" {
				out, err := json.MarshalIndent(entries, "", "  ")
				if err != nil {
					return errors.Wrap(err, "failed to marshal the output")
				}
				fmt.Println(string(out))
				return nil
			}

			pipeline.RenderSyncState(os.Stdout, entries)
			failed := 0
			for _, e := range entries {
				if e.Status == syncstate.StatusError {
					failed++
				}
			}
			if failed > 0 {
				warningPrinter.Printf("%d entities failed on their last sync\n", failed)
			}
			return nil
		},
	}
}
