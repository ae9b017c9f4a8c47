package normalizer

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/provider"
	"github.com/XavierBriggs/fortuna/services/odds-tracker/pkg/models"
)

// Normalizer maps heterogeneous provider payloads into canonical GameOdds.
// The two feed allow-lists are independent: a source allowed for game rows
// is not automatically allowed for props, and vice versa.
type Normalizer struct {
	gameBooks map[string]struct{}
	propBooks map[string]struct{}
	log       *logrus.Entry
}

// New creates a normalizer with the given per-feed source allow-lists.
func New(gameBooks, propBooks []string, log *logrus.Entry) *Normalizer {
	n := &Normalizer{
		gameBooks: make(map[string]struct{}, len(gameBooks)),
		propBooks: make(map[string]struct{}, len(propBooks)),
		log:       log,
	}
	for _, b := range gameBooks {
		n.gameBooks[strings.ToLower(b)] = struct{}{}
	}
	for _, b := range propBooks {
		n.propBooks[strings.ToLower(b)] = struct{}{}
	}
	return n
}

// Normalize converts raw game and prop records into canonical GameOdds.
// Malformed records and unmapped prop markets are skipped and counted;
// they never abort the pass.
func (n *Normalizer) Normalize(rawGames, rawProps []provider.RawGame) []models.GameOdds {
	var (
		games       []models.GameOdds
		byID        = make(map[string]int)
		skipped     int
		droppedMkts = make(map[string]int)
	)

	for _, raw := range rawGames {
		parsed, err := parseGame(raw)
		if err != nil {
			skipped++
			n.log.WithError(err).Debug("skipping unparseable game record")
			continue
		}

		game := models.GameOdds{
			GameID:       parsed.GameID,
			AwayTeam:     parsed.AwayTeam,
			HomeTeam:     parsed.HomeTeam,
			CommenceTime: parsed.CommenceTime,
			Props:        make(map[string]map[string]map[string][]models.PropEntry),
		}

		for _, book := range parsed.Books {
			key := strings.ToLower(bookKey(book))
			if _, ok := n.gameBooks[key]; !ok {
				continue
			}
			game.Bookmakers = append(game.Bookmakers, n.buildBookmakerRow(key, book, parsed))
		}

		byID[game.GameID] = len(games)
		games = append(games, game)
	}

	for _, raw := range rawProps {
		gameID := raw.ID
		if gameID == "" {
			gameID = raw.GameKey
		}
		idx, ok := byID[gameID]
		if !ok {
			skipped++
			continue
		}
		n.attachProps(&games[idx], raw, droppedMkts)
	}

	for i := range games {
		labelFixedPayoutEntries(games[i].Props)
	}

	if skipped > 0 {
		n.log.WithField("count", skipped).Warn("skipped malformed provider records")
	}
	if len(droppedMkts) > 0 {
		total := 0
		for _, c := range droppedMkts {
			total += c
		}
		n.log.WithFields(logrus.Fields{
			"markets": droppedMkts,
			"total":   total,
		}).Warn("dropped unmapped prop markets")
	}

	return games
}

// buildBookmakerRow maps one source's game-level markets onto the fixed
// slot set. Every slot is always present; anything the source did not
// quote stays at the unavailable sentinel.
func (n *Normalizer) buildBookmakerRow(key string, book provider.RawBookmaker, game *parsedGame) models.BookmakerRow {
	row := models.BookmakerRow{
		BookKey:         key,
		AwayMoneyline:   models.PriceUnavailable,
		HomeMoneyline:   models.PriceUnavailable,
		AwaySpreadLine:  models.PriceUnavailable,
		AwaySpreadPrice: models.PriceUnavailable,
		HomeSpreadLine:  models.PriceUnavailable,
		HomeSpreadPrice: models.PriceUnavailable,
		TotalLine:       models.PriceUnavailable,
		OverPrice:       models.PriceUnavailable,
		UnderPrice:      models.PriceUnavailable,
	}

	for _, market := range book.Markets {
		switch market.Key {
		case marketMoneyline:
			for _, outcome := range market.Outcomes {
				switch {
				case strings.EqualFold(outcome.Name, game.AwayTeam):
					row.AwayMoneyline = formatPrice(outcome.Price)
				case strings.EqualFold(outcome.Name, game.HomeTeam):
					row.HomeMoneyline = formatPrice(outcome.Price)
				}
			}

		case marketSpreads:
			for _, outcome := range market.Outcomes {
				switch {
				case strings.EqualFold(outcome.Name, game.AwayTeam):
					row.AwaySpreadLine = formatLine(outcome.Point)
					row.AwaySpreadPrice = formatPrice(outcome.Price)
				case strings.EqualFold(outcome.Name, game.HomeTeam):
					row.HomeSpreadLine = formatLine(outcome.Point)
					row.HomeSpreadPrice = formatPrice(outcome.Price)
				}
			}

		case marketTotals:
			for _, outcome := range market.Outcomes {
				switch {
				case strings.EqualFold(outcome.Name, "Over"):
					row.TotalLine = formatLine(outcome.Point)
					row.OverPrice = formatPrice(outcome.Price)
				case strings.EqualFold(outcome.Name, "Under"):
					if row.TotalLine == models.PriceUnavailable {
						row.TotalLine = formatLine(outcome.Point)
					}
					row.UnderPrice = formatPrice(outcome.Price)
				}
			}
		}
	}

	return row
}

// attachProps folds one raw prop record into the game's prop map. Entries
// are kept in provider order; alternate levels append rather than replace.
func (n *Normalizer) attachProps(game *models.GameOdds, raw provider.RawGame, droppedMkts map[string]int) {
	books := raw.Bookmakers
	if len(books) == 0 {
		books = raw.Sites
	}

	for _, book := range books {
		source := strings.ToLower(bookKey(book))
		if _, ok := n.propBooks[source]; !ok {
			continue
		}

		for _, market := range book.Markets {
			statKey, ok := propMarketKeys[market.Key]
			if !ok {
				droppedMkts[market.Key]++
				continue
			}

			for _, outcome := range market.Outcomes {
				if outcome.Description == "" || outcome.Point == nil {
					continue
				}
				n.addPropOutcome(game, source, outcome.Description, statKey, outcome)
			}
		}
	}
}

// addPropOutcome merges one Over or Under outcome into the entry list for
// its subject/market/source, pairing sides by line level.
func (n *Normalizer) addPropOutcome(game *models.GameOdds, source, subject, statKey string, outcome provider.RawOutcome) {
	if game.Props[source] == nil {
		game.Props[source] = make(map[string]map[string][]models.PropEntry)
	}
	if game.Props[source][subject] == nil {
		game.Props[source][subject] = make(map[string][]models.PropEntry)
	}

	entries := game.Props[source][subject][statKey]
	line := *outcome.Point

	side := strings.ToLower(outcome.Name)
	for i := range entries {
		if entries[i].Line == line {
			if side == "under" {
				entries[i].Under = formatPrice(outcome.Price)
			} else {
				entries[i].Over = formatPrice(outcome.Price)
			}
			game.Props[source][subject][statKey] = entries
			return
		}
	}

	entry := models.PropEntry{
		Line:    line,
		Over:    models.PriceUnavailable,
		Under:   models.PriceUnavailable,
		Variant: models.VariantNone,
	}
	if side == "under" {
		entry.Under = formatPrice(outcome.Price)
	} else {
		entry.Over = formatPrice(outcome.Price)
	}

	game.Props[source][subject][statKey] = append(entries, entry)
}
