package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"deck-updater/pkg/domain"
	"deck-updater/pkg/updater"
)

type fakeStore struct {
	mu        sync.Mutex
	articles  []domain.Article
	failWrite map[int]bool // by write call, starting at 0
	writes    [][]domain.SlideUpdate
	fetches   []int64
}

func newFakeStore(n int) *fakeStore {
	s := &fakeStore{}
	for i := 0; i < n; i++ {
		s.articles = append(s.articles, domain.Article{
			ID:        primitive.NewObjectID(),
			Title:     fmt.Sprintf("Article %d", i),
			Published: true,
			Slides:    []domain.Slide{{Text: "old", Position: 0, Audio: fmt.Sprintf("audio-%d", i)}},
		})
	}
	return s
}

func (s *fakeStore) FindPublished(ctx context.Context, title string) (*domain.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.articles {
		if a.Title == title {
			a := a
			return &a, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *fakeStore) CountPublished(ctx context.Context) (int64, error) {
	return int64(len(s.articles)), nil
}

func (s *fakeStore) FindPageOfPublished(ctx context.Context, skip, limit int64) ([]domain.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, skip)

	end := skip + limit
	if end > int64(len(s.articles)) {
		end = int64(len(s.articles))
	}
	return append([]domain.Article(nil), s.articles[skip:end]...), nil
}

func (s *fakeStore) BulkUpdateSlides(ctx context.Context, updates []domain.SlideUpdate) (*domain.BulkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.writes)
	s.writes = append(s.writes, updates)
	if s.failWrite[call] {
		return nil, errors.New("write concern error")
	}
	for _, u := range updates {
		for i := range s.articles {
			if s.articles[i].ID == u.ID {
				s.articles[i].Slides = u.Slides
				s.articles[i].Sections = u.Sections
				s.articles[i].UpdatedAt = u.UpdatedAt
			}
		}
	}
	return &domain.BulkResult{Matched: int64(len(updates)), Modified: int64(len(updates))}, nil
}

func (s *fakeStore) CountAudioReferences(ctx context.Context, locator string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.articles {
		for _, slide := range a.Slides {
			if slide.Audio == locator {
				n++
				break
			}
		}
	}
	return n, nil
}

// fakeUpdater replaces every deck with a single "new" slide.
type fakeUpdater struct {
	fail   map[string]bool
	onCall func(title string)
}

func (f *fakeUpdater) UpdateArticle(ctx context.Context, article *domain.Article) (*updater.Result, error) {
	if f.onCall != nil {
		f.onCall(article.Title)
	}
	if f.fail[article.Title] {
		return nil, &updater.FetchError{Title: article.Title, Err: errors.New("upstream 500")}
	}
	out := article.Copy()
	out.Slides = []domain.Slide{{Text: "new", Position: 0, Audio: "new-audio"}}
	return &updater.Result{
		Article:       out,
		AddedSlides:   out.Slides,
		RemovedSlides: article.Slides,
	}, nil
}

type fakeJanitor struct {
	mu      sync.Mutex
	removed [][]string
}

func (j *fakeJanitor) Remove(ctx context.Context, locators []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.removed = append(j.removed, locators)
	return nil
}

type fakeRecorder struct {
	pages []PageResult
}

func (r *fakeRecorder) RecordPage(ctx context.Context, runID string, page PageResult) error {
	r.pages = append(r.pages, page)
	return nil
}

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func TestRun_PagesInSequenceWithOneWriteEach(t *testing.T) {
	store := newFakeStore(5)
	rec := &fakeRecorder{}
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}, Recorder: rec, PageSize: 2})

	run, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(run.Pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(run.Pages))
	}
	if len(store.writes) != 3 {
		t.Errorf("Expected one write per page, got %d", len(store.writes))
	}
	wantSkips := []int64{0, 2, 4}
	for i, skip := range store.fetches {
		if skip != wantSkips[i] {
			t.Errorf("Fetch %d: expected skip %d, got %d", i, wantSkips[i], skip)
		}
	}
	if run.Count(StatusUpdated) != 5 {
		t.Errorf("Expected 5 updated articles, got %d", run.Count(StatusUpdated))
	}
	if len(rec.pages) != 3 {
		t.Errorf("Expected 3 recorded pages, got %d", len(rec.pages))
	}
	if run.RunID == "" {
		t.Error("Expected a run ID")
	}
}

func TestRun_DefaultPageSize(t *testing.T) {
	store := newFakeStore(9)
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}})

	run, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.PageSize != DefaultPageSize || len(run.Pages) != 3 {
		t.Errorf("Expected 3 pages of %d, got %d pages of %d", DefaultPageSize, len(run.Pages), run.PageSize)
	}
}

func TestRun_PageIsolation(t *testing.T) {
	store := newFakeStore(6)
	store.failWrite = map[int]bool{1: true}
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}, PageSize: 2})

	run, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !run.Pages[0].Persisted || run.Pages[0].Err != nil {
		t.Errorf("Page 0 should be committed, got %+v", run.Pages[0])
	}
	var pe *PersistenceError
	if !errors.As(run.Pages[1].Err, &pe) || pe.Page != 1 {
		t.Errorf("Expected PersistenceError for page 1, got %v", run.Pages[1].Err)
	}
	if run.Pages[1].Persisted {
		t.Error("Page 1 should not be marked persisted")
	}
	if !run.Pages[2].Persisted {
		t.Error("Page 2 should still run after page 1 failed")
	}
	if got := run.FailedPages(); len(got) != 1 || got[0].Index != 1 {
		t.Errorf("Expected only page 1 failed, got %+v", got)
	}
}

func TestRun_ArticleFailureIsolation(t *testing.T) {
	store := newFakeStore(4)
	up := &fakeUpdater{fail: map[string]bool{"Article 1": true}}
	s := newTestScheduler(t, Config{Store: store, Updater: up, PageSize: 4})

	run, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	page := run.Pages[0]
	if page.Outcomes[1].Status != StatusFailed || page.Outcomes[1].Error == "" {
		t.Errorf("Expected Article 1 failed, got %+v", page.Outcomes[1])
	}
	var fe *updater.FetchError
	if !errors.As(page.Outcomes[1].Err, &fe) {
		t.Errorf("Expected FetchError, got %v", page.Outcomes[1].Err)
	}
	if len(store.writes) != 1 || len(store.writes[0]) != 3 {
		t.Fatalf("Expected one write with 3 articles, got %+v", store.writes)
	}
	for _, u := range store.writes[0] {
		if u.ID == store.articles[1].ID {
			t.Error("Failed article must not be written")
		}
	}
}

func TestRun_CancellationFinishesInFlightPage(t *testing.T) {
	store := newFakeStore(6)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	up := &fakeUpdater{onCall: func(title string) {
		if title == "Article 0" {
			cancel()
		}
	}}
	s := newTestScheduler(t, Config{Store: store, Updater: up, PageSize: 2})

	run, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !run.Cancelled {
		t.Error("Expected run to be marked cancelled")
	}
	if len(run.Pages) != 1 || !run.Pages[0].Persisted {
		t.Fatalf("Expected only the in-flight page, persisted; got %+v", run.Pages)
	}
	if len(store.fetches) != 1 {
		t.Errorf("Expected no page fetch after cancellation, got %d fetches", len(store.fetches))
	}
}

func TestRun_RemovesOrphanedAudioOnlyAfterCommit(t *testing.T) {
	store := newFakeStore(4)
	store.failWrite = map[int]bool{1: true}
	janitor := &fakeJanitor{}
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}, Janitor: janitor, References: store, PageSize: 2})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(janitor.removed) != 1 {
		t.Fatalf("Expected cleanup for the committed page only, got %v", janitor.removed)
	}
	got := janitor.removed[0]
	if len(got) != 2 || got[0] != "audio-0" || got[1] != "audio-1" {
		t.Errorf("Expected [audio-0 audio-1], got %v", got)
	}
}

func TestRun_KeepsAudioSharedWithAnotherPage(t *testing.T) {
	store := newFakeStore(2)
	for i := range store.articles {
		store.articles[i].Slides = []domain.Slide{{Text: "intro", Position: 0, Audio: "shared.mp3"}}
	}
	janitor := &fakeJanitor{}
	// Article 1 keeps its old deck, so shared.mp3 stays in use after page 0.
	up := &fakeUpdater{fail: map[string]bool{"Article 1": true}}
	s := newTestScheduler(t, Config{Store: store, Updater: up, Janitor: janitor, References: store, PageSize: 1})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, batch := range janitor.removed {
		for _, loc := range batch {
			if loc == "shared.mp3" {
				t.Fatalf("Removed audio still used by Article 1: %v", janitor.removed)
			}
		}
	}
	if got := store.articles[1].Slides[0].Audio; got != "shared.mp3" {
		t.Errorf("Expected Article 1 to keep shared.mp3, got %q", got)
	}
}

func TestRun_RemovesSharedAudioOnceLastReferenceGoes(t *testing.T) {
	store := newFakeStore(2)
	for i := range store.articles {
		store.articles[i].Slides = []domain.Slide{{Text: "intro", Position: 0, Audio: "shared.mp3"}}
	}
	janitor := &fakeJanitor{}
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}, Janitor: janitor, References: store, PageSize: 1})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(janitor.removed) != 1 {
		t.Fatalf("Expected a single cleanup after the second page, got %v", janitor.removed)
	}
	if got := janitor.removed[0]; len(got) != 1 || got[0] != "shared.mp3" {
		t.Errorf("Expected [shared.mp3], got %v", got)
	}
}

type failingReferences struct{}

func (failingReferences) CountAudioReferences(ctx context.Context, locator string) (int64, error) {
	return 0, errors.New("server selection timeout")
}

func TestRun_KeepsAudioWhenReferenceCheckFails(t *testing.T) {
	store := newFakeStore(2)
	janitor := &fakeJanitor{}
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}, Janitor: janitor, References: failingReferences{}})

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(janitor.removed) != 0 {
		t.Errorf("Expected no deletes without a reference count, got %v", janitor.removed)
	}
}

func TestRefreshArticle_DryRunDoesNotWrite(t *testing.T) {
	store := newFakeStore(2)
	janitor := &fakeJanitor{}
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}, Janitor: janitor, References: store})

	res, err := s.RefreshArticle(context.Background(), "Article 1", true)
	if err != nil {
		t.Fatalf("RefreshArticle failed: %v", err)
	}
	if res.Article.Slides[0].Text != "new" {
		t.Errorf("Unexpected deck %+v", res.Article.Slides)
	}
	if len(store.writes) != 0 || len(janitor.removed) != 0 {
		t.Errorf("Dry run must not write or clean up, got %d writes", len(store.writes))
	}
}

func TestRefreshArticle_Persists(t *testing.T) {
	store := newFakeStore(2)
	s := newTestScheduler(t, Config{Store: store, Updater: &fakeUpdater{}})

	if _, err := s.RefreshArticle(context.Background(), "Article 0", false); err != nil {
		t.Fatalf("RefreshArticle failed: %v", err)
	}
	if len(store.writes) != 1 || store.writes[0][0].ID != store.articles[0].ID {
		t.Errorf("Expected a single write for Article 0, got %+v", store.writes)
	}
}

func TestOrphanedAudio(t *testing.T) {
	results := []*updater.Result{
		{
			Article: domain.Article{Slides: []domain.Slide{{Text: "moved", Audio: "a1"}}},
			RemovedSlides: []domain.Slide{
				{Text: "moved", Audio: "a1"},
				{Text: "gone", Audio: "a2"},
				{Text: "gone", Audio: "a2"},
				{Text: "silent"},
			},
		},
	}

	got := OrphanedAudio(results)
	if len(got) != 1 || got[0] != "a2" {
		t.Errorf("Expected [a2], got %v", got)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Updater: &fakeUpdater{}}); err == nil {
		t.Error("Expected error without store")
	}
	if _, err := New(Config{Store: newFakeStore(0)}); err == nil {
		t.Error("Expected error without updater")
	}
	if _, err := New(Config{Store: newFakeStore(0), Updater: &fakeUpdater{}, Janitor: &fakeJanitor{}}); err == nil {
		t.Error("Expected error for cleanup without a reference check")
	}
}
