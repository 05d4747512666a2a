// Package segment turns article sections into an ordered list of slides.
package segment

import (
	"strings"
	"unicode/utf8"

	"deck-updater/pkg/domain"
)

// DefaultMaxChars is the largest slide text, in characters, produced by Segment
// when no explicit limit is given.
const DefaultMaxChars = 300

// Segment splits every section into paragraph-bounded slides of at most
// maxChars characters and numbers them across all sections in order.
// It returns the slides together with a copy of the sections annotated with
// NumSlides and SlideStartPosition.
func Segment(sections []domain.Section, maxChars int) ([]domain.Slide, []domain.Section) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	slides := make([]domain.Slide, 0)
	annotated := make([]domain.Section, len(sections))
	position := 0

	for i, section := range sections {
		var texts []string
		for _, para := range Paragraphs(section.Text) {
			texts = append(texts, Split(para, maxChars)...)
		}

		section.NumSlides = len(texts)
		section.SlideStartPosition = position
		annotated[i] = section

		for _, text := range texts {
			slides = append(slides, domain.Slide{Text: text, Position: position})
			position++
		}
	}

	return slides, annotated
}

// Paragraphs splits text on line breaks and drops blank lines.
func Paragraphs(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Split packs the words of a paragraph greedily into chunks of at most
// maxChars characters. A word is only cut when it alone exceeds maxChars.
func Split(paragraph string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var (
		chunks  []string
		current strings.Builder
		length  int
	)

	flush := func() {
		if length > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			length = 0
		}
	}

	for _, word := range strings.Fields(paragraph) {
		wordLen := utf8.RuneCountInString(word)

		if wordLen > maxChars {
			flush()
			pieces := splitWord(word, maxChars)
			chunks = append(chunks, pieces[:len(pieces)-1]...)
			last := pieces[len(pieces)-1]
			current.WriteString(last)
			length = utf8.RuneCountInString(last)
			continue
		}

		if length > 0 && length+1+wordLen > maxChars {
			flush()
		}
		if length > 0 {
			current.WriteByte(' ')
			length++
		}
		current.WriteString(word)
		length += wordLen
	}
	flush()

	return chunks
}

// splitWord cuts a single word into rune-aligned pieces of maxChars.
func splitWord(word string, maxChars int) []string {
	runes := []rune(word)
	pieces := make([]string, 0, len(runes)/maxChars+1)
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
