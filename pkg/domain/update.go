package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SlideUpdate is one entry of a bulk slide write.
type SlideUpdate struct {
	ID        primitive.ObjectID
	Slides    []Slide
	Sections  []Section
	UpdatedAt time.Time
}

// BulkResult summarises a bulk write.
type BulkResult struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
}
