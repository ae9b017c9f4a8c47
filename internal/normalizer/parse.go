package normalizer

import (
	"fmt"
	"time"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/provider"
)

// parsedGame is one raw game after format disambiguation: a validated,
// format-independent view the mapping code can rely on.
type parsedGame struct {
	GameID       string
	AwayTeam     string
	HomeTeam     string
	CommenceTime time.Time
	Books        []provider.RawBookmaker
}

// ParseError marks one raw record that failed validation. The record is
// skipped and counted; it never aborts the normalization pass.
type ParseError struct {
	GameID string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable provider record %q: %s", e.GameID, e.Reason)
}

// parseGame disambiguates the two provider formats. Missing required
// fields fail closed for this one record only; unknown extra fields were
// already discarded by JSON decoding.
func parseGame(raw provider.RawGame) (*parsedGame, error) {
	switch {
	case raw.ID != "":
		if raw.HomeTeam == "" || raw.AwayTeam == "" {
			return nil, &ParseError{GameID: raw.ID, Reason: "missing team names"}
		}
		commence, err := time.Parse(time.RFC3339, raw.CommenceTime)
		if err != nil {
			return nil, &ParseError{GameID: raw.ID, Reason: "bad commence_time: " + raw.CommenceTime}
		}
		return &parsedGame{
			GameID:       raw.ID,
			AwayTeam:     raw.AwayTeam,
			HomeTeam:     raw.HomeTeam,
			CommenceTime: commence,
			Books:        raw.Bookmakers,
		}, nil

	case raw.GameKey != "":
		// Legacy format: teams as [away, home], epoch start time, "sites".
		if len(raw.Teams) != 2 {
			return nil, &ParseError{GameID: raw.GameKey, Reason: fmt.Sprintf("expected 2 teams, got %d", len(raw.Teams))}
		}
		if raw.StartUnix <= 0 {
			return nil, &ParseError{GameID: raw.GameKey, Reason: "missing start_time"}
		}
		return &parsedGame{
			GameID:       raw.GameKey,
			AwayTeam:     raw.Teams[0],
			HomeTeam:     raw.Teams[1],
			CommenceTime: time.Unix(raw.StartUnix, 0).UTC(),
			Books:        raw.Sites,
		}, nil

	default:
		return nil, &ParseError{Reason: "no recognizable game identifier"}
	}
}

// GameRef identifies one parsed game for prop-fetch scheduling.
type GameRef struct {
	GameID       string
	CommenceTime time.Time
}

// GameRefs parses just enough of each raw record to decide which games
// are eligible for prop fetching. Unparseable records are skipped here
// and counted later by Normalize.
func GameRefs(rawGames []provider.RawGame) []GameRef {
	refs := make([]GameRef, 0, len(rawGames))
	for _, raw := range rawGames {
		parsed, err := parseGame(raw)
		if err != nil {
			continue
		}
		refs = append(refs, GameRef{GameID: parsed.GameID, CommenceTime: parsed.CommenceTime})
	}
	return refs
}

// bookKey returns the source identifier regardless of format.
func bookKey(b provider.RawBookmaker) string {
	if b.Key != "" {
		return b.Key
	}
	return b.SiteKey
}
