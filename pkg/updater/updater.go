// Package updater runs one reconciliation pass over a single article: fetch
// fresh content, segment it, diff against the stored deck, resolve narration
// for new slides and rebuild the deck.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"deck-updater/pkg/deck"
	"deck-updater/pkg/diff"
	"deck-updater/pkg/domain"
	"deck-updater/pkg/narration"
	"deck-updater/pkg/segment"
)

// ContentSource fetches the current sections of an article by title.
type ContentSource interface {
	FetchSections(ctx context.Context, title string) ([]domain.Section, error)
}

// RevisionSource reports when an article last changed upstream.
type RevisionSource interface {
	LastRevision(ctx context.Context, title string) (time.Time, error)
}

// FetchError means fresh content for an article could not be obtained. The
// article is skipped for this pass.
type FetchError struct {
	Title string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch sections for %q: %v", e.Title, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a pass over one article.
type Result struct {
	// Article is a copy of the input with the reconciled slides and sections.
	Article domain.Article

	// Unchanged is set when the revision check showed nothing new upstream;
	// Article is then the untouched input copy.
	Unchanged bool

	AddedBatch    []domain.Entry
	RemovedBatch  []domain.Entry
	AddedSlides   []domain.Slide
	RemovedSlides []domain.Slide
	Reused        int
	Failures      []*narration.SynthesisError
}

// Changed reports whether the pass altered the deck.
func (r *Result) Changed() bool {
	return len(r.AddedSlides) > 0 || len(r.RemovedSlides) > 0
}

// Config holds configuration for Updater
type Config struct {
	Source    ContentSource
	Revisions RevisionSource // optional
	Resolver  *narration.Resolver
	MaxChars  int
	FillMedia bool
	Picker    deck.Picker // nil means deck.RandomPicker
	Now       func() time.Time
}

// Updater reconciles article decks with their upstream content.
type Updater struct {
	source    ContentSource
	revisions RevisionSource
	resolver  *narration.Resolver
	maxChars  int
	fillMedia bool
	picker    deck.Picker
	now       func() time.Time
}

// New creates a new updater
func New(config Config) (*Updater, error) {
	if config.Source == nil {
		return nil, errors.New("content source is required")
	}
	resolver := config.Resolver
	if resolver == nil {
		resolver = narration.NewResolver(narration.Config{})
	}
	maxChars := config.MaxChars
	if maxChars <= 0 {
		maxChars = segment.DefaultMaxChars
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Updater{
		source:    config.Source,
		revisions: config.Revisions,
		resolver:  resolver,
		maxChars:  maxChars,
		fillMedia: config.FillMedia,
		picker:    config.Picker,
		now:       now,
	}, nil
}

// UpdateArticle runs one pass over article. The input is never modified; the
// returned Result carries a reconciled copy. Only a failed fetch is an error:
// slides whose narration could not be synthesized are left out of the deck and
// listed in Result.Failures.
func (u *Updater) UpdateArticle(ctx context.Context, article *domain.Article) (*Result, error) {
	if article == nil {
		return nil, errors.New("article is nil")
	}

	if u.unchangedUpstream(ctx, article) {
		return &Result{Article: article.Copy(), Unchanged: true}, nil
	}

	sections, err := u.source.FetchSections(ctx, article.Title)
	if err != nil {
		return nil, &FetchError{Title: article.Title, Err: err}
	}

	prior := domain.CloneSlides(article.Slides)
	fresh, annotated := segment.Segment(sections, u.maxChars)
	d := diff.Compute(domain.Texts(prior), domain.Texts(fresh))

	resolution := u.resolver.Resolve(ctx, prior, d.Added)
	resolved, reused := u.collectResolved(prior, resolution)
	skipped := resolution.SkippedPositions()

	rec := deck.Reconcile(prior, d.Removed, resolved, skipped)

	out := article.Copy()
	out.Slides = rec.Slides
	out.Sections = adjustSections(annotated, skipped)
	// A pass with failed slides keeps the old timestamp so the revision check
	// cannot skip the article before those slides are retried.
	failures := resolution.Failures()
	if len(failures) == 0 {
		out.UpdatedAt = u.now().UTC()
	}

	res := &Result{
		Article:       out,
		AddedBatch:    d.Added,
		RemovedBatch:  d.Removed,
		AddedSlides:   rec.Added,
		RemovedSlides: rec.Removed,
		Reused:        reused,
		Failures:      failures,
	}

	log.Printf("Updater: %q: +%d -%d slides (%d reused, %d failed), deck now %d slides",
		article.Title, len(res.AddedSlides), len(res.RemovedSlides), reused, len(res.Failures), len(out.Slides))

	return res, nil
}

// unchangedUpstream reports whether the article can be skipped because its
// latest upstream revision is not newer than the last update. Revision lookup
// errors never skip an article.
func (u *Updater) unchangedUpstream(ctx context.Context, article *domain.Article) bool {
	if u.revisions == nil || article.UpdatedAt.IsZero() {
		return false
	}
	rev, err := u.revisions.LastRevision(ctx, article.Title)
	if err != nil {
		log.Printf("Updater: revision check for %q failed, refreshing anyway: %v", article.Title, err)
		return false
	}
	if rev.After(article.UpdatedAt) {
		return false
	}
	log.Printf("Updater: %q unchanged since %s", article.Title, article.UpdatedAt.Format(time.RFC3339))
	return true
}

// collectResolved returns the insertable slides in batch order, with media
// back-filled onto the synthesized ones when enabled.
func (u *Updater) collectResolved(prior []domain.Slide, resolution narration.Resolution) ([]domain.Slide, int) {
	resolved := make([]domain.Slide, 0, len(resolution.Outcomes))
	var synthesized []int
	reused := 0

	for _, o := range resolution.Outcomes {
		if o.Err != nil {
			continue
		}
		if o.Reused {
			reused++
		} else {
			synthesized = append(synthesized, len(resolved))
		}
		resolved = append(resolved, o.Slide)
	}

	if !u.fillMedia || len(synthesized) == 0 {
		return resolved, reused
	}

	subset := make([]domain.Slide, len(synthesized))
	for i, idx := range synthesized {
		subset[i] = resolved[idx]
	}
	filled := deck.FillMedia(prior, subset, u.picker)
	for i, idx := range synthesized {
		resolved[idx] = filled[i]
	}
	return resolved, reused
}

// adjustSections shifts section slide ranges to account for slides that were
// dropped from the deck.
func adjustSections(sections []domain.Section, skipped []int) []domain.Section {
	if len(skipped) == 0 {
		return sections
	}
	dropped := append([]int(nil), skipped...)
	sort.Ints(dropped)

	out := make([]domain.Section, len(sections))
	for i, s := range sections {
		end := s.SlideStartPosition + s.NumSlides
		before, inside := 0, 0
		for _, p := range dropped {
			switch {
			case p < s.SlideStartPosition:
				before++
			case p < end:
				inside++
			}
		}
		s.SlideStartPosition -= before
		s.NumSlides -= inside
		out[i] = s
	}
	return out
}
