package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"site_tracker/internal/storage"
	"site_tracker/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
		fmt.Fprintln(os.Stderr, "  import-json <file>")
		fmt.Fprintln(os.Stderr, "              Copy subscriptions and access lists from a JSON store")
		os.Exit(1)
	}

	if args[0] == "import-json" {
		if len(args) < 2 {
			log.Fatal("import-json: missing JSON store path")
		}
		if err := importJSON(*dbPath, args[1]); err != nil {
			log.Fatalf("import-json: %v", err)
		}
		return
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	cmd := args[0]
	switch cmd {
	case "up":
		var results []*goose.MigrationResult
		results, err = p.Up(ctx)
		printResults(results)
	case "up-one":
		var r *goose.MigrationResult
		r, err = p.UpByOne(ctx)
		printResults([]*goose.MigrationResult{r})
	case "down":
		var r *goose.MigrationResult
		r, err = p.Down(ctx)
		printResults([]*goose.MigrationResult{r})
	case "reset":
		var results []*goose.MigrationResult
		results, err = p.DownTo(ctx, 0)
		printResults(results)
	case "status":
		var statuses []*goose.MigrationStatus
		statuses, err = p.Status(ctx)
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-8s %-20s %s\n", s.State, applied, s.Source.Path)
		}
	case "version":
		var v int64
		v, err = p.GetDBVersion(ctx)
		if err == nil {
			fmt.Printf("version %d\n", v)
		}
	default:
		log.Fatalf("unknown command: %s", cmd)
	}

	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func importJSON(dbPath, jsonPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	src, err := storage.NewJSONFile(jsonPath, logger)
	if err != nil {
		return err
	}
	dst, err := storage.NewSQLite(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	res, err := storage.Import(context.Background(), dst, src)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d subscribers, %d pages, %d sudo users, %d channels\n",
		res.Subscribers, res.Pages, res.SudoUsers, res.Channels)
	return nil
}

func printResults(results []*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Printf("%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
