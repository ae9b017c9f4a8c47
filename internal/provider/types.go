package provider

// Raw provider payload shapes. The provider has shipped two wire formats:
// the current one (id/home_team/away_team/bookmakers) and a legacy one
// (game_key/teams/sites). Both are decoded into RawGame and disambiguated
// by the normalizer's parse step; unknown extra fields are ignored.

// RawGame is one contest as returned by the provider, either format.
type RawGame struct {
	// Current format.
	ID           string         `json:"id"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	CommenceTime string         `json:"commence_time"` // RFC3339
	Bookmakers   []RawBookmaker `json:"bookmakers"`

	// Legacy format.
	GameKey   string         `json:"game_key"`
	Teams     []string       `json:"teams"` // [away, home]
	StartUnix int64          `json:"start_time"`
	Sites     []RawBookmaker `json:"sites"`
}

// RawBookmaker is one source's markets for a game.
type RawBookmaker struct {
	Key     string      `json:"key"`
	SiteKey string      `json:"site_key"` // legacy name for Key
	Markets []RawMarket `json:"markets"`
}

// RawMarket is one market (h2h, spreads, totals, player_*) with its outcomes.
type RawMarket struct {
	Key      string       `json:"key"`
	Outcomes []RawOutcome `json:"outcomes"`
}

// RawOutcome is one priced side of a market. For player props the subject
// name travels in Description; for game markets Name is the participant.
type RawOutcome struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       *float64 `json:"price"`
	Point       *float64 `json:"point"`
}

// gamesPage is one page of the paginated game-odds endpoint.
type gamesPage struct {
	Events     []RawGame `json:"events"`
	NextCursor string    `json:"next_cursor"`
}
