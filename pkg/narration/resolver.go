// Package narration decides, per added slide, whether existing narration can be
// reused or fresh audio must be synthesized.
package narration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"deck-updater/pkg/domain"
)

// Synthesizer turns slide text into a narration audio locator.
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// SynthesisError reports a failed synthesis for one added slide.
type SynthesisError struct {
	Text     string
	Position int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize slide at position %d: %v", e.Position, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Outcome is the resolution of a single added slide. Slide is only meaningful
// when Err is nil; its Position is the target index in the new deck.
type Outcome struct {
	Entry  domain.Entry
	Slide  domain.Slide
	Reused bool
	Err    error
}

// Resolution holds one Outcome per added entry, in batch order.
type Resolution struct {
	Outcomes []Outcome
}

// Resolved returns the slides that can be inserted into the deck.
func (r Resolution) Resolved() []domain.Slide {
	out := make([]domain.Slide, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Slide)
		}
	}
	return out
}

// Failures returns the synthesis errors, in batch order.
func (r Resolution) Failures() []*SynthesisError {
	var out []*SynthesisError
	for _, o := range r.Outcomes {
		if o.Err == nil {
			continue
		}
		var se *SynthesisError
		if errors.As(o.Err, &se) {
			out = append(out, se)
		} else {
			out = append(out, &SynthesisError{Text: o.Entry.Text, Position: o.Entry.Position, Err: o.Err})
		}
	}
	return out
}

// SkippedPositions returns the target positions of slides that failed.
func (r Resolution) SkippedPositions() []int {
	var out []int
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Entry.Position)
		}
	}
	return out
}

// Synthesized counts the outcomes that required a synthesis call.
func (r Resolution) Synthesized() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Reused {
			n++
		}
	}
	return n
}

// Resolver attaches narration to added slides.
type Resolver struct {
	synth   Synthesizer
	workers int64
	timeout time.Duration
}

// Config holds configuration for Resolver
type Config struct {
	Synthesizer Synthesizer
	Workers     int           // concurrent synthesis calls per pass; <= 0 means 1
	Timeout     time.Duration // per call; <= 0 means no extra deadline
}

// NewResolver creates a new narration resolver
func NewResolver(config Config) *Resolver {
	workers := int64(config.Workers)
	if workers <= 0 {
		workers = 1
	}
	return &Resolver{
		synth:   config.Synthesizer,
		workers: workers,
		timeout: config.Timeout,
	}
}

// Resolve produces one Outcome per added entry. Entries whose text already
// appears in prior (with narration) reuse that slide's audio and media; the
// rest are synthesized concurrently. A failing slide never affects the others.
func (r *Resolver) Resolve(ctx context.Context, prior []domain.Slide, added []domain.Entry) Resolution {
	outcomes := make([]Outcome, len(added))

	existing := make(map[string]domain.Slide, len(prior))
	for _, s := range prior {
		if s.Audio == "" {
			continue
		}
		if _, ok := existing[s.Text]; !ok {
			existing[s.Text] = s
		}
	}

	// Identical new texts in one pass share a single synthesis call.
	pending := make(map[string][]int)
	var order []string

	for i, entry := range added {
		outcomes[i].Entry = entry
		if old, ok := existing[entry.Text]; ok {
			outcomes[i].Reused = true
			outcomes[i].Slide = domain.Slide{
				Text:      entry.Text,
				Position:  entry.Position,
				Audio:     old.Audio,
				Media:     old.Media,
				MediaType: old.MediaType,
			}
			continue
		}
		if _, ok := pending[entry.Text]; !ok {
			order = append(order, entry.Text)
		}
		pending[entry.Text] = append(pending[entry.Text], i)
	}

	if len(order) == 0 {
		return Resolution{Outcomes: outcomes}
	}

	audio := make([]string, len(order))
	errs := make([]error, len(order))

	if r.synth == nil {
		for k := range order {
			errs[k] = errors.New("no synthesizer configured")
		}
	} else {
		r.synthesizeAll(ctx, order, audio, errs)
	}

	for k, text := range order {
		for _, i := range pending[text] {
			entry := outcomes[i].Entry
			if errs[k] != nil {
				outcomes[i].Err = &SynthesisError{Text: text, Position: entry.Position, Err: errs[k]}
				continue
			}
			outcomes[i].Slide = domain.Slide{Text: text, Position: entry.Position, Audio: audio[k]}
		}
	}

	return Resolution{Outcomes: outcomes}
}

// synthesizeAll fans out one call per text, bounded by the worker count, and
// writes each result into its own slot.
func (r *Resolver) synthesizeAll(ctx context.Context, texts []string, audio []string, errs []error) {
	sem := semaphore.NewWeighted(r.workers)
	var wg sync.WaitGroup

	for k, text := range texts {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[k] = fmt.Errorf("waiting for synthesis slot: %w", err)
			continue
		}

		wg.Add(1)
		go func(k int, text string) {
			defer wg.Done()
			defer sem.Release(1)

			callCtx := ctx
			if r.timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}

			locator, err := r.synth.Synthesize(callCtx, text)
			if err == nil && locator == "" {
				err = errors.New("synthesizer returned an empty audio reference")
			}
			if err != nil {
				log.Printf("Narration: synthesis failed for %.40q: %v", text, err)
				errs[k] = err
				return
			}
			audio[k] = locator
		}(k, text)
	}

	wg.Wait()
}
