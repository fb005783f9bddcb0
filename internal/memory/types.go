// Package memory implements the typed memory store: items with connections
// and vector companions, persisted per-item with atomically rewritten master
// files, retrieved by a hybrid semantic plus lexical ranking.
package memory

import (
	"fmt"
	"time"
)

// ItemType classifies a memory item and weighs its retrieval score.
type ItemType string

const (
	TypeWorking    ItemType = "working"
	TypeEpisodic   ItemType = "episodic"
	TypeSemantic   ItemType = "semantic"
	TypeProcedural ItemType = "procedural"
)

// ValidType reports whether t is one of the known item types.
func ValidType(t ItemType) bool {
	switch t {
	case TypeWorking, TypeEpisodic, TypeSemantic, TypeProcedural:
		return true
	}
	return false
}

// typeBoost weighs retrieval scores per item type.
var typeBoost = map[ItemType]float64{
	TypeWorking:    1.5,
	TypeSemantic:   1.2,
	TypeEpisodic:   1.0,
	TypeProcedural: 0.8,
}

// Item is a single unit of stored information. Connections reference other
// item ids; dangling references are dropped by maintenance.
type Item struct {
	ID          string    `json:"id"`
	Type        ItemType  `json:"type"`
	Content     string    `json:"content"`
	Importance  float64   `json:"importance"`
	Connections []string  `json:"connections,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Relevance   float64   `json:"relevance"`
}

// Validate checks the fields a caller controls.
func (i *Item) Validate() error {
	if !ValidType(i.Type) {
		return fmt.Errorf("unknown memory type %q", i.Type)
	}
	if i.Content == "" {
		return fmt.Errorf("memory content must not be empty")
	}
	if i.Importance < 0 || i.Importance > 1 {
		return fmt.Errorf("importance %v outside [0,1]", i.Importance)
	}
	return nil
}

// Vector is the embedding companion of an item. Exactly one per item;
// unit-normalized at the deployment's fixed dimension.
type Vector struct {
	ItemID    string    `json:"item_id"`
	Vector    []float64 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredItem pairs a retrieved item with its ranking score.
type ScoredItem struct {
	Item  *Item   `json:"item"`
	Score float64 `json:"score"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalItems  int              `json:"total_items"`
	ByType      map[ItemType]int `json:"by_type"`
	Connections int              `json:"connections"`
	Vectors     int              `json:"vectors"`
}
