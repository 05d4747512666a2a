// Package app assembles the updater's components from configuration.
package app

import (
	"context"
	"fmt"
	"log"

	"deck-updater/pkg/config"
	"deck-updater/pkg/db"
	"deck-updater/pkg/narration"
	"deck-updater/pkg/report"
	"deck-updater/pkg/scheduler"
	"deck-updater/pkg/storage"
	"deck-updater/pkg/updater"
	"deck-updater/pkg/wiki"
)

// Components are the connected pieces a command works with.
type Components struct {
	Mongo     *db.Client
	Postgres  *db.PostgresClient // nil unless POSTGRES_DSN is set
	Bucket    *storage.AudioBucket
	Updater   *updater.Updater
	Scheduler *scheduler.Scheduler
}

// Build connects to the stores and wires the refresh pipeline:
// Mongo page → [wiki.Source] → segment/diff → [narration.Resolver] → deck → Mongo bulk write
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Components{}

	c.Mongo = db.NewClient(cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection)
	if err := c.Mongo.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := c.Mongo.EnsureIndexes(ctx); err != nil {
		log.Printf("App: ensuring mongo indexes failed: %v", err)
	}

	var recorder scheduler.Recorder
	if cfg.PostgresDSN != "" {
		c.Postgres = db.NewPostgresClient(db.PostgresConfig{
			DSN:            cfg.PostgresDSN,
			MaxConns:       cfg.PostgresMaxConns,
			ConnectTimeout: cfg.PostgresConnectTimeout,
		})
		if err := c.Postgres.Connect(ctx); err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		rec, err := report.NewRecorder(c.Postgres)
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		if err := rec.EnsureSchema(ctx); err != nil {
			c.Close(ctx)
			return nil, err
		}
		recorder = rec
	}

	var janitor scheduler.AudioJanitor
	var synth narration.Synthesizer
	if cfg.HasAudioBucket() {
		bucket, err := storage.NewAudioBucket(storage.Config{
			SupabaseURL: cfg.SupabaseURL,
			SupabaseKey: cfg.SupabaseKey,
			Bucket:      cfg.AudioBucket,
		})
		if err != nil {
			c.Close(ctx)
			return nil, err
		}
		c.Bucket = bucket
		if cfg.CleanupAudio {
			janitor = bucket
		}
		if cfg.TTSURL != "" {
			synth = narration.NewHTTPSynthesizer(cfg.TTSURL, cfg.TTSVoice, bucket)
		}
	}
	if synth == nil {
		log.Printf("App: TTS_URL or audio bucket not configured; new slides cannot be narrated and will be skipped")
	}

	var revisions updater.RevisionSource
	if cfg.CheckRevisions {
		revisions = wiki.NewRevisionChecker(cfg.WikiBaseURL)
	}

	up, err := updater.New(updater.Config{
		Source:    wiki.NewSource(cfg.WikiBaseURL),
		Revisions: revisions,
		Resolver: narration.NewResolver(narration.Config{
			Synthesizer: synth,
			Workers:     cfg.SynthesisWorkers,
			Timeout:     cfg.SynthesisTimeout,
		}),
		MaxChars:  cfg.SlideMaxChars,
		FillMedia: cfg.FillMedia,
	})
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Updater = up

	sched, err := scheduler.New(scheduler.Config{
		Store:      c.Mongo,
		Updater:    up,
		Janitor:    janitor,
		References: c.Mongo,
		Recorder:   recorder,
		PageSize:   cfg.PageSize,
		Workers:    cfg.ArticleWorkers,
	})
	if err != nil {
		c.Close(ctx)
		return nil, err
	}
	c.Scheduler = sched

	return c, nil
}

// Close disconnects from the stores.
func (c *Components) Close(ctx context.Context) {
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			log.Printf("App: closing postgres failed: %v", err)
		}
	}
	if c.Mongo != nil {
		if err := c.Mongo.Close(ctx); err != nil {
			log.Printf("App: closing mongo failed: %v", err)
		}
	}
}
