package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jdhollis/mssql-lake-migrate/internal/config"
	"github.com/jdhollis/mssql-lake-migrate/internal/logging"
	"github.com/jdhollis/mssql-lake-migrate/internal/orchestrator"
	"github.com/jdhollis/mssql-lake-migrate/internal/report"
	"github.com/jdhollis/mssql-lake-migrate/internal/util"
	"github.com/jdhollis/mssql-lake-migrate/internal/version"
	"github.com/jdhollis/mssql-lake-migrate/internal/watermark"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Override log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Migrate the configured tables to the lake",
				Action: runMigration,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of tables to migrate in parallel",
					},
					&cli.StringFlag{
						Name:  "table",
						Usage: "Comma-separated list of tables to migrate (default: all)",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Compare landed partitions against the source",
				Action: validateMigration,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "table",
						Usage: "Comma-separated list of tables to validate (default: all)",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the Markdown report to this file instead of stdout",
					},
				},
			},
			{
				Name:  "watermarks",
				Usage: "Inspect or reset incremental watermarks",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "Show the stored watermark for every table",
						Action: listWatermarks,
					},
					{
						Name:      "reset",
						Usage:     "Rewind a table's watermark so the next run re-extracts everything",
						ArgsUsage: "<table>",
						Action:    resetWatermark,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setup loads the configuration, applies CLI overrides, configures
// logging, and connects the orchestrator.
func setup(c *cli.Context) (*orchestrator.Orchestrator, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("workers") {
		cfg.Migration.Workers = c.Int("workers")
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.Logging.Format)

	orch, err := orchestrator.New(c.Context, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	return orch, nil
}

// signalContext cancels on SIGINT/SIGTERM so in-flight tables stop
// cleanly. Watermarks only advance after successful loads, so an
// interrupted run resumes where it left off.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Stopping after in-flight tables...")
		cancel()
	}()

	return ctx, cancel
}

func runMigration(c *cli.Context) error {
	orch, err := setup(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	res, err := orch.Run(ctx, util.SplitCSV(c.String("table")))
	if err != nil {
		return err
	}

	if len(res.Failures) > 0 {
		for _, f := range res.Failures {
			logging.Error("Table %s failed: %v", f.Table, f.Err)
		}
		return fmt.Errorf("%d of %d tables failed", len(res.Failures), res.Tables)
	}
	return nil
}

func validateMigration(c *cli.Context) error {
	orch, err := setup(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	reports, err := orch.Validate(ctx, util.SplitCSV(c.String("table")))
	if err != nil {
		return err
	}

	doc := report.Markdown(reports)
	if out := c.String("output"); out != "" {
		if err := os.WriteFile(out, []byte(doc), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", out)
	} else {
		fmt.Print(doc)
	}

	for _, r := range reports {
		if !r.Pass() {
			return fmt.Errorf("validation failed")
		}
	}
	return nil
}

func listWatermarks(c *cli.Context) error {
	orch, err := setup(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	marks, err := orch.Watermarks()
	if err != nil {
		return err
	}
	if len(marks) == 0 {
		fmt.Println("No watermarks stored")
		return nil
	}

	names := make([]string, 0, len(marks))
	for name := range marks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ts := marks[name]
		if watermark.IsSentinel(ts) {
			fmt.Printf("%-30s (sentinel)\n", name)
			continue
		}
		fmt.Printf("%-30s %s\n", name, ts.Format(time.RFC3339))
	}
	return nil
}

func resetWatermark(c *cli.Context) error {
	table := c.Args().First()
	if table == "" {
		return fmt.Errorf("usage: watermarks reset <table>")
	}

	orch, err := setup(c)
	if err != nil {
		return err
	}
	defer orch.Close()

	if err := orch.ResetWatermark(table); err != nil {
		return err
	}
	fmt.Printf("Watermark for %s reset\n", table)
	return nil
}
