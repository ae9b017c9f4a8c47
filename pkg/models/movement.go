package models

import "time"

// Snapshot is one immutable observation of a tracked line, recorded once
// per refresh cycle regardless of whether the line moved.
type Snapshot struct {
	CompositeKey string    `json:"composite_key"`
	GameID       string    `json:"game_id"`
	Subject      string    `json:"subject"`
	MarketKey    string    `json:"market_key"`
	BookKey      string    `json:"book_key"`
	Line         float64   `json:"line"`
	OverPrice    string    `json:"over_price"`
	UnderPrice   string    `json:"under_price"`
	ObservedAt   time.Time `json:"observed_at"`
}

// MovementState is the latest known state for one composite key.
// Opening values are write-once for the life of the key; LineLastChangedAt
// only advances when the line actually changes.
type MovementState struct {
	CompositeKey      string    `json:"composite_key"`
	GameID            string    `json:"game_id"`
	Subject           string    `json:"subject"`
	MarketKey         string    `json:"market_key"`
	BookKey           string    `json:"book_key"`
	OpeningLine       float64   `json:"opening_line"`
	OpeningOver       string    `json:"opening_over"`
	OpeningUnder      string    `json:"opening_under"`
	OpeningObservedAt time.Time `json:"opening_observed_at"`
	CurrentLine       float64   `json:"current_line"`
	CurrentOver       string    `json:"current_over"`
	CurrentUnder      string    `json:"current_under"`
	LineLastChangedAt time.Time `json:"line_last_changed_at"`
	LastEventAt       time.Time `json:"last_event_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MovementEvent is an append-only record that a tracked line changed, was
// first observed, or sat unchanged past the quiet period.
type MovementEvent struct {
	ID           int64     `json:"id,omitempty"`
	CompositeKey string    `json:"composite_key"`
	GameID       string    `json:"game_id"`
	Subject      string    `json:"subject"`
	MarketKey    string    `json:"market_key"`
	BookKey      string    `json:"book_key"`
	PreviousLine *float64  `json:"previous_line"` // nil on first observation
	NewLine      float64   `json:"new_line"`
	Delta        float64   `json:"delta"`
	RecordedAt   time.Time `json:"recorded_at"`
}
