package normalizer

// propMarketKeys maps provider prop-market identifiers to canonical stat
// keys. Alternate-line markets share the canonical key with their main
// market; their levels end up as extra entries under the same key.
// Identifiers missing from this table are dropped and counted, never
// merged into a guessed key.
var propMarketKeys = map[string]string{
	"player_points":                 "pts",
	"player_points_alternate":       "pts",
	"player_rebounds":               "reb",
	"player_rebounds_alternate":     "reb",
	"player_assists":                "ast",
	"player_assists_alternate":      "ast",
	"player_threes":                 "fg3m",
	"player_threes_alternate":       "fg3m",
	"player_steals":                 "stl",
	"player_blocks":                 "blk",
	"player_turnovers":              "tov",
	"player_points_rebounds_assists": "pra",
	"player_points_rebounds":        "pr",
	"player_points_assists":         "pa",
	"player_rebounds_assists":       "ra",
	"player_double_double":          "dd",
}

// Game-level market identifiers are shared by both provider formats.
const (
	marketMoneyline = "h2h"
	marketSpreads   = "spreads"
	marketTotals    = "totals"
)
