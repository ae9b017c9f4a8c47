package models

import (
	"fmt"
	"time"
)

// PriceUnavailable is written into any price slot a source did not quote.
// Every BookmakerRow always carries all market slots, so consumers never
// need to distinguish "missing field" from "missing price".
const PriceUnavailable = "N/A"

// VariantLabel classifies a fixed-payout line level relative to the
// market-consensus baseline for the same subject and market.
type VariantLabel string

const (
	VariantNone     VariantLabel = "none"
	VariantUpward   VariantLabel = "upward"
	VariantDownward VariantLabel = "downward"
)

// GameOdds is the canonical representation of one upstream contest.
// A fresh value is produced on every refresh cycle and replaces the
// cached one wholesale; it is never mutated in place.
type GameOdds struct {
	GameID       string `json:"game_id"`
	AwayTeam     string `json:"away_team"`
	HomeTeam     string `json:"home_team"`
	CommenceTime time.Time `json:"commence_time"`

	// Bookmakers holds game-level prices in provider order.
	Bookmakers []BookmakerRow `json:"bookmakers"`

	// Props maps source name -> subject name -> market key -> line levels.
	// Multiple entries per leaf are main line plus alternates, in provider
	// order, never collapsed.
	Props map[string]map[string]map[string][]PropEntry `json:"props"`
}

// BookmakerRow is one source's game-level prices. All slots are always
// present; unresolved slots hold PriceUnavailable.
type BookmakerRow struct {
	BookKey string `json:"book_key"`

	AwayMoneyline string `json:"away_moneyline"`
	HomeMoneyline string `json:"home_moneyline"`

	AwaySpreadLine  string `json:"away_spread_line"`
	AwaySpreadPrice string `json:"away_spread_price"`
	HomeSpreadLine  string `json:"home_spread_line"`
	HomeSpreadPrice string `json:"home_spread_price"`

	TotalLine  string `json:"total_line"`
	OverPrice  string `json:"over_price"`
	UnderPrice string `json:"under_price"`
}

// PropEntry is one priced line for one subject/market/source.
type PropEntry struct {
	Line          float64      `json:"line"`
	Over          string       `json:"over"`
	Under         string       `json:"under"`
	IsFixedPayout bool         `json:"is_fixed_payout"`
	Variant       VariantLabel `json:"variant"`
}

// OddsCache is the single live cached dataset. It is replaced atomically
// on each successful refresh and never overwritten with an empty result.
type OddsCache struct {
	Games       []GameOdds `json:"games"`
	LastUpdated time.Time  `json:"last_updated"`
	NextUpdate  time.Time  `json:"next_update"`
}

// Age returns how long ago the cache was last refreshed.
func (c *OddsCache) Age(now time.Time) time.Duration {
	return now.Sub(c.LastUpdated)
}

// CompositeKey builds the identity string for one tracked price line.
// It must stay stable across refreshes for the same real-world line.
func CompositeKey(gameID, subject, marketKey, bookKey string) string {
	return fmt.Sprintf("%s|%s|%s|%s", gameID, subject, marketKey, bookKey)
}
