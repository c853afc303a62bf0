package cmd

import (
	"github.com/urfave/cli/v2"
)

func InitDB() *cli.Command {
	return &cli.Command{
		Name:  "init-db",
		Usage: "create the raw, state and reporting tables if they do not exist",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				errorPrinter.Printf("Failed to initialize: %v\n", err)
				return cli.Exit("", 1)
			}
			defer a.Close()

			infoPrinter.Println("Applying the database schema...")
			if err := a.db.Migrate(c.Context); err != nil {
				errorPrinter.Printf("Failed to apply the schema: %v\n", err)
				return cli.Exit("", 1)
			}

			successPrinter.Println("Database schema is up to date.")
			return nil
		},
	}
}
