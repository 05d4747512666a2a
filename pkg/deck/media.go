package deck

import (
	"math/rand"

	"deck-updater/pkg/domain"
)

// Picker returns an index in [0, n).
type Picker func(n int) int

// RandomPicker picks uniformly at random.
func RandomPicker(n int) int {
	return rand.Intn(n)
}

// FillMedia gives every slide without media one borrowed from the prior
// deck's media pool. Slides that already carry media are left alone, as is
// everything when the prior deck has no media. The input slice is not
// modified.
func FillMedia(prior []domain.Slide, slides []domain.Slide, pick Picker) []domain.Slide {
	out := domain.CloneSlides(slides)

	type media struct{ ref, kind string }
	var pool []media
	seen := make(map[string]bool)
	for _, s := range prior {
		if s.Media == "" || seen[s.Media] {
			continue
		}
		seen[s.Media] = true
		pool = append(pool, media{ref: s.Media, kind: s.MediaType})
	}
	if len(pool) == 0 {
		return out
	}
	if pick == nil {
		pick = RandomPicker
	}

	for i := range out {
		if out[i].Media != "" {
			continue
		}
		m := pool[pick(len(pool))]
		out[i].Media = m.ref
		out[i].MediaType = m.kind
	}
	return out
}
