package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	liftoff "github.com/Nickostick/project-lift-off"
	"github.com/Nickostick/project-lift-off/internal/config"
	"github.com/Nickostick/project-lift-off/internal/ingest"
	"github.com/Nickostick/project-lift-off/internal/ingest/alpha"
	"github.com/Nickostick/project-lift-off/internal/leveling"
	"github.com/Nickostick/project-lift-off/internal/logging"
	"github.com/Nickostick/project-lift-off/internal/mcp"
	"github.com/Nickostick/project-lift-off/internal/metrics"
	"github.com/Nickostick/project-lift-off/internal/progression"
	"github.com/Nickostick/project-lift-off/internal/storage"
	"github.com/Nickostick/project-lift-off/internal/upload"
)

var (
	errNeedsPostgres = errors.New("this command needs database.driver: postgres")
	errNeedsURL      = errors.New("--url must not be empty")
)

// loadConfig reads --config and builds a logger writing to stderr.
func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer := logging.New(cfg.Log, os.Stderr)
	return cfg, log, closer, nil
}

// openDB loads config and connects to PostgreSQL.
func openDB(c *cli.Context) (*config.Config, *storage.DB, *slog.Logger, func(), error) {
	cfg, log, closer, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if cfg.Database.Driver != "postgres" {
		closer.Close()
		return nil, nil, nil, nil, errNeedsPostgres
	}
	db, err := storage.New(c.Context, cfg.Database.DSN())
	if err != nil {
		closer.Close()
		return nil, nil, nil, nil, err
	}
	return cfg, db, log, func() {
		db.Close()
		closer.Close()
	}, nil
}

func migrateAction(c *cli.Context) error {
	cfg, log, closer, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer closer.Close()
	if cfg.Database.Driver != "postgres" {
		return errNeedsPostgres
	}
	if err := storage.RunMigrations(cfg.Database.DSN(), cfg.Database.Migrations, liftoff.MigrationsFS); err != nil {
		return err
	}
	log.Info("migrations applied")
	pterm.Success.Println("migrations applied")
	return nil
}

func importAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	cfg, db, log, done, err := openDB(c)
	if err != nil {
		return err
	}
	defer done()

	f, err := os.Open(c.Args().First())
	if err != nil {
		return fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()

	user := c.String("user")
	if user == "" {
		user = cfg.User.ID
	}

	p := alpha.NewProvider(db, log, metrics.NewUnregistered())
	res, err := p.Ingest(c.Context, f, user)
	if err != nil {
		return err
	}

	printImportResult(c.App.Writer, res)
	return nil
}

// pushAction sends an export to a running daemon instead of writing to the
// database directly.
func pushAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	if c.String("url") == "" {
		return errNeedsURL
	}
	export, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("reading export: %w", err)
	}

	spinner, _ := pterm.DefaultSpinner.WithWriter(c.App.ErrWriter).Start("uploading " + c.Args().First())
	res, err := upload.NewClient(c.String("url"), c.String("api-key")).PushAlpha(c.Context, export)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("upload complete")

	printImportResult(c.App.Writer, res)
	return nil
}

func printImportResult(w io.Writer, res *ingest.Result) {
	printTable(w, [][]string{
		{"SESSIONS", "LOGS", "SETS", "WARMUPS SKIPPED", "RECORDS UPDATED"},
		{
			strconv.Itoa(res.SessionsReceived),
			strconv.Itoa(res.LogsWritten),
			strconv.Itoa(res.SetsWritten),
			strconv.Itoa(res.WarmupsSkipped),
			strconv.Itoa(res.RecordsUpdated),
		},
	})
}

func levelAction(c *cli.Context) error {
	cfg, db, log, done, err := openDB(c)
	if err != nil {
		return err
	}
	defer done()

	lvl, err := leveling.New(db, log).Current(c.Context, cfg.User.ID)
	if err != nil {
		return err
	}
	need := progression.XPForNextLevel(lvl.CurrentLevel)
	fmt.Fprintf(c.App.Writer, "Level %d  %d/%d XP (%.0f%%)  total %d XP\n",
		lvl.CurrentLevel, lvl.CurrentXP, need,
		progression.Progress(lvl.CurrentLevel, lvl.CurrentXP)*100, lvl.TotalXP)
	return nil
}

func recordsAction(c *cli.Context) error {
	cfg, db, _, done, err := openDB(c)
	if err != nil {
		return err
	}
	defer done()

	recs, err := db.ListPersonalRecords(c.Context, cfg.User.ID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		pterm.Info.Println("no personal records yet")
		return nil
	}

	data := [][]string{{"EXERCISE", "WEIGHT", "REPS", "ACHIEVED"}}
	for _, r := range recs {
		data = append(data, []string{
			r.ExerciseName,
			strconv.FormatFloat(r.Weight, 'f', -1, 64),
			strconv.Itoa(r.Reps),
			r.AchievedAt.Local().Format("Jan 02, 2006"),
		})
	}
	printTable(c.App.Writer, data)
	return nil
}

func statsAction(c *cli.Context) error {
	cfg, db, _, done, err := openDB(c)
	if err != nil {
		return err
	}
	defer done()

	stats, err := db.GetDataStats(c.Context, cfg.User.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "workouts %d  sets %d  records %d  range %s to %s\n",
		stats.TotalWorkouts, stats.TotalSets, stats.TotalRecords,
		formatDate(stats.EarliestData), formatDate(stats.LatestData))

	imports, err := db.QueryImportLogs(c.Context, cfg.User.ID, 10)
	if err != nil {
		return err
	}
	if len(imports) == 0 {
		return nil
	}
	data := [][]string{{"IMPORTED", "SOURCE", "STATUS", "LOGS", "SETS"}}
	for _, l := range imports {
		data = append(data, []string{
			l.CreatedAt.Local().Format("Jan 02, 2006 15:04"),
			l.Source,
			l.Status,
			strconv.Itoa(l.LogsWritten),
			strconv.Itoa(l.SetsWritten),
		})
	}
	printTable(c.App.Writer, data)
	return nil
}

func mcpAction(c *cli.Context) error {
	if c.String("url") == "" {
		return errNeedsURL
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("serving remote MCP over stdio", "url", c.String("url"))
	return mcp.ServeStdio(mcp.New(mcp.NewHTTPClient(c.String("url")), Version, log))
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

func printTable(w io.Writer, data [][]string) {
	table := pterm.DefaultTable
	table.Boxed = true

	str, err := table.WithHasHeader().WithData(data).Srender()
	if err != nil {
		pterm.Error.Printfln("Failed to render table: %s", err.Error())
		return
	}
	fmt.Fprintln(w, str)
}
