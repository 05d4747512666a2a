package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"deck-updater/pkg/app"
	"deck-updater/pkg/config"
	"deck-updater/pkg/scheduler"
)

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to a .env file (optional)")
		title    = flag.String("title", "", "Refresh only this article (default: every published article)")
		dryRun   = flag.Bool("dry-run", false, "With -title: compute the new deck without saving it")
		pageSize = flag.Int("page-size", 0, "Articles per page (overrides PAGE_SIZE)")
		workers  = flag.Int("workers", 0, "Articles refreshed concurrently per page (overrides ARTICLE_WORKERS)")
		lockPath = flag.String("lock", filepath.Join(os.TempDir(), "deckupdater.lock"), "Lock file preventing concurrent full runs")
		asJSON   = flag.Bool("json", false, "Print the run summary as JSON even on a terminal")

		mongoURI = flag.String("mongo-uri", "", "MongoDB connection string (overrides MONGO_URI)")
		dbName   = flag.String("db", "", "MongoDB database name (overrides MONGO_DB)")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *pageSize > 0 {
		cfg.PageSize = *pageSize
	}
	if *workers > 0 {
		cfg.ArticleWorkers = *workers
	}
	if *mongoURI != "" {
		cfg.MongoURI = *mongoURI
	}
	if *dbName != "" {
		cfg.MongoDB = *dbName
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer components.Close(context.Background())

	start := time.Now()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *title != "" {
		log.Printf("Refreshing %q (dry-run=%v)", *title, *dryRun)
		res, err := components.Scheduler.RefreshArticle(ctx, *title, *dryRun)
		if err != nil {
			log.Fatalf("Refresh failed: %v", err)
		}
		summary := map[string]any{
			"title":         res.Article.Title,
			"slides":        len(res.Article.Slides),
			"addedSlides":   res.AddedSlides,
			"removedSlides": res.RemovedSlides,
			"reused":        res.Reused,
			"failures":      len(res.Failures),
			"unchanged":     res.Unchanged,
		}
		if err := enc.Encode(summary); err != nil {
			log.Fatalf("Failed to write summary: %v", err)
		}
		log.Printf("Done. Duration: %s", time.Since(start))
		return
	}

	if *dryRun {
		log.Fatalf("-dry-run requires -title")
	}

	lock := flock.New(*lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("Failed to acquire lock %s: %v", *lockPath, err)
	}
	if !locked {
		log.Fatalf("Another run holds %s", *lockPath)
	}
	defer lock.Unlock()

	run, err := components.Scheduler.Run(ctx)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	if !*asJSON && isTerminal(os.Stdout) {
		fmt.Println(renderRunTable(run))
	} else if err := enc.Encode(run); err != nil {
		log.Fatalf("Failed to write run summary: %v", err)
	}

	log.Printf("Done. %d updated, %d unchanged, %d failed. Duration: %s",
		run.Count(scheduler.StatusUpdated), run.Count(scheduler.StatusUnchanged), run.Count(scheduler.StatusFailed),
		time.Since(start))
	if len(run.FailedPages()) > 0 {
		lock.Unlock()
		components.Close(context.Background())
		os.Exit(1)
	}
}
