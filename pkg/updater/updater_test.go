package updater

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"deck-updater/pkg/domain"
	"deck-updater/pkg/narration"
)

type fakeSource struct {
	sections map[string][]domain.Section
	err      error
	calls    int
}

func (f *fakeSource) FetchSections(ctx context.Context, title string) ([]domain.Section, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sections[title], nil
}

type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.fail[text] {
		return "", errors.New("tts down")
	}
	return "new:" + text, nil
}

type fakeRevisions struct {
	at  time.Time
	err error
}

func (f fakeRevisions) LastRevision(ctx context.Context, title string) (time.Time, error) {
	return f.at, f.err
}

// section builds one section whose paragraphs each become one slide.
func section(title string, paragraphs ...string) domain.Section {
	return domain.Section{Title: title, Text: strings.Join(paragraphs, "\n")}
}

func narrated(texts ...string) []domain.Slide {
	out := make([]domain.Slide, len(texts))
	for i, t := range texts {
		out[i] = domain.Slide{Text: t, Position: i, Audio: "old:" + t, Media: "img:" + t, MediaType: "image"}
	}
	return out
}

func newTestUpdater(t *testing.T, src *fakeSource, synth *fakeSynth) *Updater {
	t.Helper()
	u, err := New(Config{
		Source:   src,
		Resolver: narration.NewResolver(narration.Config{Synthesizer: synth, Workers: 3}),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return u
}

func assertTexts(t *testing.T, slides []domain.Slide, want ...string) {
	t.Helper()
	if len(slides) != len(want) {
		t.Fatalf("Expected %d slides %v, got %d: %v", len(want), want, len(slides), domain.Texts(slides))
	}
	for i, s := range slides {
		if s.Text != want[i] {
			t.Errorf("Slide %d: expected %q, got %q", i, want[i], s.Text)
		}
		if s.Position != i {
			t.Errorf("Slide %d: expected position %d, got %d", i, i, s.Position)
		}
	}
}

func TestUpdateArticle_ReusesNarrationForUnchangedSlides(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "A", "X", "C")}}}
	synth := &fakeSynth{}
	u := newTestUpdater(t, src, synth)

	article := &domain.Article{Title: "Go", Slides: narrated("A", "B", "C")}
	res, err := u.UpdateArticle(context.Background(), article)
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	assertTexts(t, res.Article.Slides, "A", "X", "C")
	if res.Article.Slides[0].Audio != "old:A" || res.Article.Slides[2].Audio != "old:C" {
		t.Errorf("Unchanged slides lost their narration: %+v", res.Article.Slides)
	}
	if res.Article.Slides[1].Audio != "new:X" {
		t.Errorf("Expected synthesized audio for X, got %q", res.Article.Slides[1].Audio)
	}
	if len(synth.calls) != 1 || synth.calls[0] != "X" {
		t.Errorf("Expected exactly one synthesis for X, got %v", synth.calls)
	}
	if len(res.RemovedSlides) != 1 || res.RemovedSlides[0].Text != "B" {
		t.Errorf("Expected B removed, got %+v", res.RemovedSlides)
	}
	if !res.Article.UpdatedAt.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected UpdatedAt %v", res.Article.UpdatedAt)
	}
}

func TestUpdateArticle_Idempotent(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {
		section("Intro", "A", "B"),
		section("History", "C", "D"),
	}}}
	synth := &fakeSynth{}
	u := newTestUpdater(t, src, synth)

	first, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go"})
	if err != nil {
		t.Fatalf("First pass failed: %v", err)
	}
	calls := len(synth.calls)

	second, err := u.UpdateArticle(context.Background(), &first.Article)
	if err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}

	if len(synth.calls) != calls {
		t.Errorf("Second pass synthesized %d more slides", len(synth.calls)-calls)
	}
	if second.Changed() {
		t.Errorf("Second pass changed the deck: +%v -%v", second.AddedSlides, second.RemovedSlides)
	}
	assertTexts(t, second.Article.Slides, "A", "B", "C", "D")
	for i := range first.Article.Slides {
		if first.Article.Slides[i] != second.Article.Slides[i] {
			t.Errorf("Slide %d differs between passes: %+v vs %+v", i, first.Article.Slides[i], second.Article.Slides[i])
		}
	}
	if got := second.Article.Sections[1]; got.NumSlides != 2 || got.SlideStartPosition != 2 {
		t.Errorf("Unexpected section annotation %+v", got)
	}
}

func TestUpdateArticle_MovedSlideKeepsNarration(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "C", "A", "B")}}}
	synth := &fakeSynth{}
	u := newTestUpdater(t, src, synth)

	res, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go", Slides: narrated("A", "B", "C")})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	assertTexts(t, res.Article.Slides, "C", "A", "B")
	if len(synth.calls) != 0 {
		t.Errorf("Moved slide should not be synthesized, got %v", synth.calls)
	}
	if res.Article.Slides[0].Audio != "old:C" || res.Article.Slides[0].Media != "img:C" {
		t.Errorf("Moved slide lost narration or media: %+v", res.Article.Slides[0])
	}
}

func TestUpdateArticle_ReorderOnlySynthesizesNewText(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "B", "A", "C")}}}
	synth := &fakeSynth{}
	u := newTestUpdater(t, src, synth)

	prior := []domain.Slide{{Text: "A", Position: 0, Audio: "audio1"}, {Text: "B", Position: 1, Audio: "audio2"}}
	res, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go", Slides: prior})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	assertTexts(t, res.Article.Slides, "B", "A", "C")
	if res.Article.Slides[0].Audio != "audio2" || res.Article.Slides[1].Audio != "audio1" {
		t.Errorf("Expected narration reused for A and B, got %+v", res.Article.Slides)
	}
	if len(synth.calls) != 1 || synth.calls[0] != "C" {
		t.Errorf("Expected synthesis only for C, got %v", synth.calls)
	}
}

func TestUpdateArticle_MultiplicityRemovesOneInstance(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "A", "B")}}}
	u := newTestUpdater(t, src, &fakeSynth{})

	res, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go", Slides: narrated("A", "A", "B")})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	assertTexts(t, res.Article.Slides, "A", "B")
	if len(res.RemovedSlides) != 1 || res.RemovedSlides[0].Text != "A" {
		t.Errorf("Expected one A removed, got %+v", res.RemovedSlides)
	}
}

func TestUpdateArticle_PartialSynthesisFailure(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {
		section("Intro", "A", "X"),
		section("More", "Y", "C"),
	}}}
	synth := &fakeSynth{fail: map[string]bool{"X": true}}
	u := newTestUpdater(t, src, synth)

	article := &domain.Article{Title: "Go", Slides: narrated("A", "C")}
	res, err := u.UpdateArticle(context.Background(), article)
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	assertTexts(t, res.Article.Slides, "A", "Y", "C")
	if len(res.Failures) != 1 || res.Failures[0].Text != "X" || res.Failures[0].Position != 1 {
		t.Errorf("Expected one failure for X at 1, got %+v", res.Failures)
	}
	if res.Article.Slides[1].Audio != "new:Y" {
		t.Errorf("Expected Y to be narrated, got %+v", res.Article.Slides[1])
	}

	intro, more := res.Article.Sections[0], res.Article.Sections[1]
	if intro.NumSlides != 1 || intro.SlideStartPosition != 0 {
		t.Errorf("Unexpected intro annotation %+v", intro)
	}
	if more.NumSlides != 2 || more.SlideStartPosition != 1 {
		t.Errorf("Unexpected second section annotation %+v", more)
	}
}

func TestUpdateArticle_FillsMediaForSynthesizedSlides(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "A", "X")}}}
	u, err := New(Config{
		Source:    src,
		Resolver:  narration.NewResolver(narration.Config{Synthesizer: &fakeSynth{}}),
		FillMedia: true,
		Picker:    func(n int) int { return 0 },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go", Slides: narrated("A")})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	if got := res.Article.Slides[1]; got.Media != "img:A" || got.MediaType != "image" {
		t.Errorf("Expected borrowed media on X, got %+v", got)
	}
	if len(res.AddedSlides) != 1 || res.AddedSlides[0].Media != "img:A" {
		t.Errorf("Diagnostics should report the final added slide, got %+v", res.AddedSlides)
	}
}

func TestUpdateArticle_FetchError(t *testing.T) {
	notFound := errors.New("missing")
	src := &fakeSource{err: notFound}
	u := newTestUpdater(t, src, &fakeSynth{})

	_, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Gone"})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fe.Title != "Gone" || !errors.Is(err, notFound) {
		t.Errorf("Unexpected fetch error %+v", fe)
	}
}

func TestUpdateArticle_DoesNotAliasInput(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "A", "X")}}}
	u := newTestUpdater(t, src, &fakeSynth{})

	article := &domain.Article{Title: "Go", Slides: narrated("A", "B")}
	res, err := u.UpdateArticle(context.Background(), article)
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}

	res.Article.Slides[0].Text = "mutated"
	if article.Slides[0].Text != "A" || article.Slides[1].Text != "B" || len(article.Slides) != 2 {
		t.Errorf("Input deck was modified: %+v", article.Slides)
	}
}

func TestUpdateArticle_SkipsUnchangedRevision(t *testing.T) {
	updated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	u, err := New(Config{Source: src, Revisions: fakeRevisions{at: updated.Add(-time.Hour)}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go", UpdatedAt: updated, Slides: narrated("A")})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}
	if !res.Unchanged {
		t.Error("Expected article to be reported unchanged")
	}
	if src.calls != 0 {
		t.Errorf("Expected no fetch, got %d", src.calls)
	}
}

func TestUpdateArticle_RevisionErrorStillRefreshes(t *testing.T) {
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "A")}}}
	u, err := New(Config{Source: src, Revisions: fakeRevisions{err: errors.New("feed down")}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := u.UpdateArticle(context.Background(), &domain.Article{Title: "Go", UpdatedAt: time.Now(), Slides: narrated("A")})
	if err != nil {
		t.Fatalf("UpdateArticle failed: %v", err)
	}
	if res.Unchanged || src.calls != 1 {
		t.Errorf("Expected a refresh, got unchanged=%v calls=%d", res.Unchanged, src.calls)
	}
}

func TestNew_RequiresSource(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error without a content source")
	}
}

func TestUpdateArticle_FailedSlidesRetriedDespiteRevisionCheck(t *testing.T) {
	lastEdit := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{sections: map[string][]domain.Section{"Go": {section("Go", "A", "B")}}}
	synth := &fakeSynth{fail: map[string]bool{"B": true}}
	u, err := New(Config{
		Source:    src,
		Revisions: fakeRevisions{at: lastEdit},
		Resolver:  narration.NewResolver(narration.Config{Synthesizer: synth}),
		Now:       func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	article := &domain.Article{Title: "Go", UpdatedAt: lastEdit.Add(-time.Hour), Slides: narrated("A")}
	first, err := u.UpdateArticle(context.Background(), article)
	if err != nil {
		t.Fatalf("First pass failed: %v", err)
	}
	if len(first.Failures) != 1 {
		t.Fatalf("Expected one failure, got %+v", first.Failures)
	}
	if !first.Article.UpdatedAt.Equal(article.UpdatedAt) {
		t.Errorf("Pass with failures must keep UpdatedAt %v, got %v", article.UpdatedAt, first.Article.UpdatedAt)
	}

	synth.fail = nil
	second, err := u.UpdateArticle(context.Background(), &first.Article)
	if err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}
	if second.Unchanged {
		t.Fatal("Article with failed slides was skipped by the revision check")
	}
	assertTexts(t, second.Article.Slides, "A", "B")
	if second.Article.Slides[1].Audio != "new:B" {
		t.Errorf("Expected B narrated on retry, got %+v", second.Article.Slides[1])
	}
	if !second.Article.UpdatedAt.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Clean pass should advance UpdatedAt, got %v", second.Article.UpdatedAt)
	}

	third, err := u.UpdateArticle(context.Background(), &second.Article)
	if err != nil {
		t.Fatalf("Third pass failed: %v", err)
	}
	if !third.Unchanged {
		t.Error("Expected the revision check to skip a fully narrated article")
	}
}
