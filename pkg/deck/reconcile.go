// Package deck applies diff batches to an ordered slide deck.
package deck

import (
	"sort"

	"deck-updater/pkg/domain"
)

// Result is a reconciled deck plus the slides that entered and left it.
type Result struct {
	Slides  []domain.Slide `json:"slides"`
	Added   []domain.Slide `json:"addedSlides"`
	Removed []domain.Slide `json:"removedSlides"`
}

// Reconcile removes one slide per removed entry, splices the added slides at
// their target positions and renumbers the result 0..N-1. prior is not
// modified.
//
// Removal is matched by text. The slide at the entry's recorded position is
// preferred; otherwise the first remaining slide with that text goes. An entry
// with no matching slide is ignored.
//
// skipped lists target positions of additions that were dropped (failed
// synthesis); later additions are shifted left accordingly so they keep their
// place relative to the surviving slides.
func Reconcile(prior []domain.Slide, removed []domain.Entry, added []domain.Slide, skipped []int) Result {
	res := Result{
		Added:   make([]domain.Slide, 0, len(added)),
		Removed: make([]domain.Slide, 0, len(removed)),
	}

	gone := make([]bool, len(prior))
	byText := make(map[string][]int, len(prior))
	for i, s := range prior {
		byText[s.Text] = append(byText[s.Text], i)
	}

	for _, e := range removed {
		idx := -1
		if e.Position >= 0 && e.Position < len(prior) && !gone[e.Position] && prior[e.Position].Text == e.Text {
			idx = e.Position
		} else {
			for _, candidate := range byText[e.Text] {
				if !gone[candidate] {
					idx = candidate
					break
				}
			}
		}
		if idx < 0 {
			continue
		}
		gone[idx] = true
		res.Removed = append(res.Removed, prior[idx])
	}

	type slot struct {
		slide domain.Slide
		isNew bool
	}

	out := make([]slot, 0, len(prior)+len(added))
	for i, s := range prior {
		if !gone[i] {
			out = append(out, slot{slide: s})
		}
	}

	ordered := domain.CloneSlides(added)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	dropped := append([]int(nil), skipped...)
	sort.Ints(dropped)

	d := 0
	for _, s := range ordered {
		for d < len(dropped) && dropped[d] < s.Position {
			d++
		}
		at := s.Position - d
		if at < 0 {
			at = 0
		}
		if at > len(out) {
			at = len(out)
		}
		out = append(out, slot{})
		copy(out[at+1:], out[at:])
		out[at] = slot{slide: s, isNew: true}
	}

	res.Slides = make([]domain.Slide, len(out))
	for i, sl := range out {
		sl.slide.Position = i
		res.Slides[i] = sl.slide
		if sl.isNew {
			res.Added = append(res.Added, sl.slide)
		}
	}

	return res
}
