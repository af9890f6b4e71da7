// Command liftoffctl administers a liftoff deployment: database migrations,
// history imports and uploads, and read-only views of levels, records and stats.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "liftoffctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to config file",
		EnvVars: []string{"LIFTOFF_CONFIG"},
	}

	return &cli.App{
		Name:    "liftoffctl",
		Usage:   "manage a liftoff workout tracker",
		Version: Version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrateAction,
			},
			{
				Name:      "import",
				Usage:     "import an Alpha Progression CSV export",
				ArgsUsage: "<file.csv>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "user to import for (defaults to user.id)"},
				},
				Action: importAction,
			},
			{
				Name:      "push",
				Usage:     "upload an Alpha Progression CSV export to a running daemon",
				ArgsUsage: "<file.csv>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "url",
						Usage:   "daemon base URL (required)",
						EnvVars: []string{"LIFTOFF_URL"},
					},
					&cli.StringFlag{
						Name:    "api-key",
						Usage:   "daemon API key (auth.api_key)",
						EnvVars: []string{"LIFTOFF_AUTH_API_KEY"},
					},
				},
				Action: pushAction,
			},
			{
				Name:   "level",
				Usage:  "show the current level and XP",
				Action: levelAction,
			},
			{
				Name:   "records",
				Usage:  "list personal records",
				Action: recordsAction,
			},
			{
				Name:   "stats",
				Usage:  "show stored data totals and recent imports",
				Action: statsAction,
			},
			{
				Name:  "mcp",
				Usage: "serve MCP over stdio against a running daemon",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "url",
						Usage:   "daemon base URL, e.g. http://liftoff.tailnet.ts.net (required)",
						EnvVars: []string{"LIFTOFF_URL"},
					},
				},
				Action: mcpAction,
			},
		},
	}
}
