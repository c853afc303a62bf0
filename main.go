package main

import (
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/toques-bi/toques/cmd"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	color.NoColor = false

	versionCommand := cmd.VersionCmd(commit)

	cli.VersionPrinter = func(cCtx *cli.Context) {
		err := versionCommand.Action(cCtx)
		if err != nil {
			panic(err)
		}
	}

	app := &cli.App{
		Name:     "toques",
		Version:  version,
		Usage:    "Extract messaging analytics from Indigitall and load them into the reporting database",
		Compiled: time.Now(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   cmd.DefaultConfigFile,
				Usage:   "path to the configuration file",
				EnvVars: []string{"TOQUES_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Value: false,
				Usage: "show debug information",
			},
		},
		Commands: []*cli.Command{
			cmd.Run(),
			cmd.Extract(),
			cmd.Transform(),
			cmd.Serve(),
			cmd.InitDB(),
			cmd.Status(),
			versionCommand,
		},
	}

	_ = app.Run(os.Args)
}
