// Package scheduler walks the published corpus in fixed-size pages, refreshes
// every article on a page concurrently and persists each page with one bulk
// write.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"deck-updater/pkg/domain"
	"deck-updater/pkg/updater"
)

// DefaultPageSize is the number of articles processed per page.
const DefaultPageSize = 4

// Store is the article persistence the scheduler needs.
type Store interface {
	FindPublished(ctx context.Context, title string) (*domain.Article, error)
	CountPublished(ctx context.Context) (int64, error)
	FindPageOfPublished(ctx context.Context, skip, limit int64) ([]domain.Article, error)
	BulkUpdateSlides(ctx context.Context, updates []domain.SlideUpdate) (*domain.BulkResult, error)
}

// ArticleUpdater runs one reconciliation pass.
type ArticleUpdater interface {
	UpdateArticle(ctx context.Context, article *domain.Article) (*updater.Result, error)
}

// AudioJanitor deletes narration audio no deck refers to any more.
type AudioJanitor interface {
	Remove(ctx context.Context, locators []string) error
}

// AudioReferences counts the articles anywhere in the store whose slides use
// an audio locator. Articles may share locators, so a page alone cannot tell
// whether a file is still played.
type AudioReferences interface {
	CountAudioReferences(ctx context.Context, locator string) (int64, error)
}

// Recorder stores page summaries outside the article store.
type Recorder interface {
	RecordPage(ctx context.Context, runID string, page PageResult) error
}

// Config holds configuration for Scheduler
type Config struct {
	Store      Store
	Updater    ArticleUpdater
	Janitor    AudioJanitor    // optional; requires References
	References AudioReferences // checked before any audio is deleted
	Recorder   Recorder        // optional
	PageSize   int             // <= 0 means DefaultPageSize
	Workers    int             // concurrent articles per page; <= 0 means PageSize
}

// Scheduler runs refresh passes over the corpus.
type Scheduler struct {
	store    Store
	updater  ArticleUpdater
	janitor  AudioJanitor
	refs     AudioReferences
	recorder Recorder
	pageSize int
	workers  int
}

// New creates a new scheduler
func New(config Config) (*Scheduler, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.Updater == nil {
		return nil, errors.New("updater is required")
	}
	if config.Janitor != nil && config.References == nil {
		return nil, errors.New("audio cleanup needs a store-wide reference check")
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Scheduler{
		store:    config.Store,
		updater:  config.Updater,
		janitor:  config.Janitor,
		refs:     config.References,
		recorder: config.Recorder,
		pageSize: pageSize,
		workers:  config.Workers,
	}, nil
}

// WithPageSize returns a copy of the scheduler using a different page size.
func (s *Scheduler) WithPageSize(pageSize int) *Scheduler {
	out := *s
	if pageSize > 0 {
		out.pageSize = pageSize
	}
	return &out
}

// RunWithID is Run under a caller-chosen run ID and a one-off page size;
// pageSize <= 0 keeps the configured one.
func (s *Scheduler) RunWithID(ctx context.Context, runID string, pageSize int) (*RunResult, error) {
	return s.WithPageSize(pageSize).run(ctx, runID)
}

// PageSize returns the configured page size.
func (s *Scheduler) PageSize() int {
	return s.pageSize
}

// Run refreshes every published article, one page at a time. Pages are
// processed strictly in order and each is persisted before the next is
// fetched. Cancelling ctx stops further page fetches; a page already being
// processed still finishes and is written.
//
// Only a failure to count the corpus is returned as an error; per-page and
// per-article failures are reported in the RunResult.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	return s.run(ctx, uuid.NewString())
}

func (s *Scheduler) run(ctx context.Context, runID string) (*RunResult, error) {
	run := &RunResult{
		RunID:     runID,
		PageSize:  s.pageSize,
		StartedAt: time.Now().UTC(),
	}

	total, err := s.store.CountPublished(ctx)
	if err != nil {
		return nil, fmt.Errorf("count published articles: %w", err)
	}
	run.Total = total

	pageSize := int64(s.pageSize)
	pages := int((total + pageSize - 1) / pageSize)
	log.Printf("Scheduler: run %s: %d articles in %d pages of %d", run.RunID, total, pages, s.pageSize)

	for i := 0; i < pages; i++ {
		if ctx.Err() != nil {
			run.Cancelled = true
			break
		}

		skip := int64(i) * pageSize
		page := PageResult{Index: i, Skip: skip}

		articles, err := s.store.FindPageOfPublished(ctx, skip, pageSize)
		if err != nil {
			if ctx.Err() != nil {
				run.Cancelled = true
				break
			}
			page.setErr(fmt.Errorf("fetch page %d: %w", i, err))
			log.Printf("Scheduler: %v", page.Err)
			s.record(ctx, run.RunID, page)
			run.Pages = append(run.Pages, page)
			continue
		}

		// The page has been taken; it runs to completion even if the run is
		// cancelled meanwhile.
		page = s.processPage(context.WithoutCancel(ctx), page, articles)
		s.record(ctx, run.RunID, page)
		run.Pages = append(run.Pages, page)
	}

	run.FinishedAt = time.Now().UTC()
	log.Printf("Scheduler: run %s finished: %d updated, %d unchanged, %d failed, %d failed pages (cancelled=%v)",
		run.RunID, run.Count(StatusUpdated), run.Count(StatusUnchanged), run.Count(StatusFailed),
		len(run.FailedPages()), run.Cancelled)

	return run, nil
}

// RefreshArticle runs a single pass over one published article. Unless
// dryRun is set the result is persisted with the same bulk write the batch
// run uses.
func (s *Scheduler) RefreshArticle(ctx context.Context, title string, dryRun bool) (*updater.Result, error) {
	article, err := s.store.FindPublished(ctx, title)
	if err != nil {
		return nil, err
	}

	res, err := s.updater.UpdateArticle(ctx, article)
	if err != nil {
		return nil, err
	}
	if dryRun || res.Unchanged {
		return res, nil
	}

	if _, err := s.store.BulkUpdateSlides(ctx, []domain.SlideUpdate{slideUpdate(res)}); err != nil {
		return nil, &PersistenceError{Page: -1, Err: err}
	}
	s.removeOrphanedAudio(ctx, []*updater.Result{res})
	return res, nil
}

type articleJob struct {
	index   int
	article *domain.Article
}

type articleResult struct {
	index    int
	workerID int
	result   *updater.Result
	err      error
}

// processPage fans the page's articles out to workers, collects one outcome
// per article and writes all successful ones in a single bulk write.
func (s *Scheduler) processPage(ctx context.Context, page PageResult, articles []domain.Article) PageResult {
	start := time.Now()
	page.Outcomes = make([]ArticleOutcome, len(articles))
	if len(articles) == 0 {
		return page
	}

	jobChan := make(chan articleJob, len(articles))
	for i := range articles {
		jobChan <- articleJob{index: i, article: &articles[i]}
	}
	close(jobChan)

	resultsChan := make(chan articleResult, len(articles))

	workers := s.workers
	if workers <= 0 || workers > len(articles) {
		workers = len(articles)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobChan {
				res, err := s.updater.UpdateArticle(ctx, job.article)
				resultsChan <- articleResult{index: job.index, workerID: workerID, result: res, err: err}
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]*updater.Result, len(articles))
	for res := range resultsChan {
		a := articles[res.index]
		outcome := ArticleOutcome{ID: a.ID, Title: a.Title}

		switch {
		case res.err != nil:
			outcome.Status = StatusFailed
			outcome.Err = res.err
			outcome.Error = res.err.Error()
			log.Printf("Article worker %d: %q failed: %v", res.workerID, a.Title, res.err)
		case res.result.Unchanged || !res.result.Changed():
			outcome.Status = StatusUnchanged
		default:
			outcome.Status = StatusUpdated
		}
		if res.result != nil {
			outcome.Added = len(res.result.AddedSlides)
			outcome.Removed = len(res.result.RemovedSlides)
			outcome.SynthesisFailures = len(res.result.Failures)
		}

		page.Outcomes[res.index] = outcome
		results[res.index] = res.result
	}

	var written []*updater.Result
	updates := make([]domain.SlideUpdate, 0, len(articles))
	for _, r := range results {
		if r == nil || r.Unchanged {
			continue
		}
		written = append(written, r)
		updates = append(updates, slideUpdate(r))
	}

	if len(updates) > 0 {
		bulk, err := s.store.BulkUpdateSlides(ctx, updates)
		if err != nil {
			page.setErr(&PersistenceError{Page: page.Index, Err: err})
			log.Printf("Scheduler: %v", page.Err)
			return page
		}
		page.Persisted = true
		log.Printf("Scheduler: page %d written: %d matched, %d modified", page.Index, bulk.Matched, bulk.Modified)
		s.removeOrphanedAudio(ctx, written)
	}

	log.Printf("Scheduler: page %d (skip %d) done in %s: %d updated, %d unchanged, %d failed",
		page.Index, page.Skip, time.Since(start).Round(time.Millisecond),
		page.Count(StatusUpdated), page.Count(StatusUnchanged), page.Count(StatusFailed))
	return page
}

func slideUpdate(r *updater.Result) domain.SlideUpdate {
	return domain.SlideUpdate{
		ID:        r.Article.ID,
		Slides:    r.Article.Slides,
		Sections:  r.Article.Sections,
		UpdatedAt: r.Article.UpdatedAt,
	}
}

// removeOrphanedAudio deletes the audio of removed slides once the store,
// after the commit, holds no article that still references it. Failures are
// only logged.
func (s *Scheduler) removeOrphanedAudio(ctx context.Context, results []*updater.Result) {
	if s.janitor == nil {
		return
	}
	candidates := OrphanedAudio(results)
	if len(candidates) == 0 {
		return
	}

	locators := make([]string, 0, len(candidates))
	for _, loc := range candidates {
		n, err := s.refs.CountAudioReferences(ctx, loc)
		if err != nil {
			log.Printf("Scheduler: keeping %s, reference check failed: %v", loc, err)
			continue
		}
		if n > 0 {
			log.Printf("Scheduler: keeping %s, still used by %d articles", loc, n)
			continue
		}
		locators = append(locators, loc)
	}
	if len(locators) == 0 {
		return
	}

	if err := s.janitor.Remove(ctx, locators); err != nil {
		log.Printf("Scheduler: removing %d orphaned audio files failed: %v", len(locators), err)
	}
}

// OrphanedAudio returns the audio locators of removed slides that no
// reconciled deck in results still uses, without duplicates. These are only
// candidates; other articles may still reference them.
func OrphanedAudio(results []*updater.Result) []string {
	inUse := make(map[string]bool)
	for _, r := range results {
		for _, s := range r.Article.Slides {
			if s.Audio != "" {
				inUse[s.Audio] = true
			}
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, r := range results {
		for _, s := range r.RemovedSlides {
			if s.Audio == "" || inUse[s.Audio] || seen[s.Audio] {
				continue
			}
			seen[s.Audio] = true
			out = append(out, s.Audio)
		}
	}
	return out
}

func (s *Scheduler) record(ctx context.Context, runID string, page PageResult) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordPage(context.WithoutCancel(ctx), runID, page); err != nil {
		log.Printf("Scheduler: recording page %d failed: %v", page.Index, err)
	}
}
