package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Article is a published encyclopedia article together with its slide deck.
// The store owns the record; the updater works on copies.
type Article struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title        string             `bson:"title" json:"title"`
	Slides       []Slide            `bson:"slides" json:"slides"`
	Sections     []Section          `bson:"sections" json:"sections"`
	Published    bool               `bson:"published" json:"published"`
	Version      int64              `bson:"version" json:"version"`
	Editor       string             `bson:"editor" json:"editor"`
	Contributors []string           `bson:"contributors,omitempty" json:"contributors,omitempty"`
	Reads        int64              `bson:"reads" json:"reads"`
	CreatedAt    time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updatedAt"`
}

// Copy returns a deep copy of the article's slide and section slices so the
// caller can mutate the result without touching the original.
func (a Article) Copy() Article {
	out := a
	out.Slides = CloneSlides(a.Slides)
	out.Sections = append([]Section(nil), a.Sections...)
	out.Contributors = append([]string(nil), a.Contributors...)
	return out
}

// SlideTexts returns the text of every slide in deck order.
func (a Article) SlideTexts() []string {
	return Texts(a.Slides)
}
