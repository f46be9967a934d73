// Command panelmerge consolidates survey-panel exports into one store and
// serves read queries over it.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/khg9859/Eternal/internal/config"
	"github.com/khg9859/Eternal/internal/core"
	_ "github.com/khg9859/Eternal/internal/core/sources" // Register all source kinds
	"github.com/khg9859/Eternal/internal/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("panelmerge failed", "error", err, "code", core.MapError(err).Code)
		fmt.Fprintln(os.Stderr, core.FormatUserError(err))
		os.Exit(1)
	}
}

// app carries the configuration loaded in Before to the command actions.
type app struct {
	cfg *config.Config
}

func newApp() *cli.App {
	a := &app{}
	return &cli.App{
		Name:  "panelmerge",
		Usage: "Consolidate survey-panel exports into one store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Dotenv file loaded before reading the environment",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override LOG_LEVEL (debug, info, warn, error)",
			},
		},
		Before: a.setup,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Read, parse and merge every source, or the named ones",
				Action: a.ingestCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Source kind to run (repeatable); default all",
					},
					&cli.BoolFlag{
						Name:  "skip-unchanged",
						Usage: "Skip sources whose input matches the last successful run",
					},
				},
			},
			{
				Name:   "sources",
				Usage:  "List the concrete sources and prefixes the next ingest would run",
				Action: a.sourcesCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "source",
						Aliases: []string{"s"},
						Usage:   "Source kind to list (repeatable); default all",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the read-only query API",
				Action: a.serveCommand,
			},
			{
				Name:   "profiles",
				Usage:  "Recompute respondent profile vectors from answer vectors",
				Action: a.profilesCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Profiles written per update",
						Value: 500,
					},
				},
			},
			{
				Name:   "reset",
				Usage:  "Drop all panel tables",
				Action: a.resetCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "Confirm dropping every table",
					},
				},
			},
		},
	}
}

// setup loads the dotenv file and configuration, then configures logging.
func (a *app) setup(c *cli.Context) error {
	loaded, err := config.LoadEnvFile(c.String("env-file"))
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Debug("configuration loaded",
		"env_file", loaded,
		"db_driver", cfg.Database.Driver,
		"input_driver", cfg.Input.Driver,
		"batch_size", cfg.Ingest.BatchSize,
	)
	a.cfg = cfg
	return nil
}
