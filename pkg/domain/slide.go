package domain

// Slide is one narrated unit of a deck. Text is the identity used to match
// slides across reconciliation passes.
type Slide struct {
	Text      string `bson:"text" json:"text"`
	Position  int    `bson:"position" json:"position"`
	Audio     string `bson:"audio,omitempty" json:"audio,omitempty"`
	Media     string `bson:"media,omitempty" json:"media,omitempty"`
	MediaType string `bson:"mediaType,omitempty" json:"mediaType,omitempty"`
}

// Section is a span of upstream text and the run of slides derived from it.
// Sections are recomputed on every pass.
type Section struct {
	Title              string `bson:"title,omitempty" json:"title,omitempty"`
	Text               string `bson:"text" json:"text"`
	NumSlides          int    `bson:"numSlides" json:"numSlides"`
	SlideStartPosition int    `bson:"slideStartPosition" json:"slideStartPosition"`
}

// Entry is one element of a diff batch: a slide text and the index it
// occupies in the sequence it was taken from.
type Entry struct {
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// CloneSlides returns a copy of slides backed by a new array.
func CloneSlides(slides []Slide) []Slide {
	if slides == nil {
		return nil
	}
	out := make([]Slide, len(slides))
	copy(out, slides)
	return out
}

// Texts returns the text of every slide in order.
func Texts(slides []Slide) []string {
	out := make([]string, len(slides))
	for i, s := range slides {
		out[i] = s.Text
	}
	return out
}

// EntryTexts returns the texts of a diff batch in batch order.
func EntryTexts(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// HasContiguousPositions reports whether slide positions are exactly
// 0..len(slides)-1 in sequence order.
func HasContiguousPositions(slides []Slide) bool {
	for i, s := range slides {
		if s.Position != i {
			return false
		}
	}
	return true
}
