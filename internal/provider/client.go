package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client fetches raw odds from the upstream market-data provider. Every
// call attaches the bearer credential, respects the shared rate limiter,
// and follows cursor pagination until the provider signals no more pages.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	limiter      *rate.Limiter
	gamesTimeout time.Duration
	propsTimeout time.Duration
	log          *logrus.Entry
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	APIKey            string
	GamesTimeout      time.Duration
	PropsTimeout      time.Duration
	RequestsPerSecond float64
	Burst             int
}

// New creates a provider client.
func New(opts Options, log *logrus.Entry) *Client {
	if opts.GamesTimeout <= 0 {
		opts.GamesTimeout = 15 * time.Second
	}
	if opts.PropsTimeout <= 0 {
		opts.PropsTimeout = 45 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Client{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		// Transport-level timeout stays above the per-call deadlines so
		// context cancellation is what actually fires.
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		gamesTimeout: opts.GamesTimeout,
		propsTimeout: opts.PropsTimeout,
		log:          log,
	}
}

// FetchGameOdds returns raw games for the given dates, across all pages.
// One date's failure is logged and the remaining dates proceed; the call
// errors only when every date failed. Retry policy belongs to the caller.
func (c *Client) FetchGameOdds(ctx context.Context, dates []time.Time) ([]RawGame, error) {
	var (
		games    []RawGame
		firstErr error
		failed   int
	)

	for _, date := range dates {
		endpoint := fmt.Sprintf("%s/v4/odds", c.baseURL)
		params := url.Values{}
		params.Set("date", date.Format("2006-01-02"))
		params.Set("markets", "h2h,spreads,totals")

		paged, err := c.fetchAllPages(ctx, endpoint, params, c.gamesTimeout)
		if err != nil {
			c.log.WithError(err).WithField("date", date.Format("2006-01-02")).Warn("game odds fetch failed for date")
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		games = append(games, paged...)
	}

	if len(games) == 0 && firstErr != nil {
		return nil, firstErr
	}
	if failed > 0 {
		c.log.WithFields(logrus.Fields{
			"failed": failed,
			"dates":  len(dates),
		}).Warn("partial game odds fetch")
	}

	return games, nil
}

// FetchPlayerProps returns all raw prop records for one game, across all
// pages. Prop payloads are large, so this uses the longer deadline.
func (c *Client) FetchPlayerProps(ctx context.Context, gameID string) ([]RawGame, error) {
	endpoint := fmt.Sprintf("%s/v4/odds/%s/props", c.baseURL, gameID)
	return c.fetchAllPages(ctx, endpoint, url.Values{}, c.propsTimeout)
}

// fetchAllPages follows the cursor until the provider returns an empty
// next_cursor.
func (c *Client) fetchAllPages(ctx context.Context, endpoint string, params url.Values, timeout time.Duration) ([]RawGame, error) {
	var all []RawGame
	cursor := ""

	for {
		page, err := c.fetchPage(ctx, endpoint, params, cursor, timeout)
		if err != nil {
			return nil, err
		}

		all = append(all, page.Events...)

		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// fetchPage makes one HTTP GET with the call-level deadline applied.
func (c *Client) fetchPage(ctx context.Context, endpoint string, params url.Values, cursor string, timeout time.Duration) (*gamesPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Endpoint: endpoint, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	fullURL := endpoint
	if encoded := query.Encode(); encoded != "" {
		fullURL = endpoint + "?" + encoded
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: endpoint, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", string(body)),
		}
	}

	var page gamesPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &FetchError{Endpoint: endpoint, Err: fmt.Errorf("decoding response: %w", err)}
	}

	c.log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"events":   len(page.Events),
		"has_more": page.NextCursor != "",
	}).Debug("fetched provider page")

	return &page, nil
}
