package provider_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/odds-tracker/internal/provider"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func newClient(baseURL string) *provider.Client {
	return provider.New(provider.Options{
		BaseURL:           baseURL,
		APIKey:            "test-key",
		RequestsPerSecond: 1000,
		Burst:             100,
	}, testLogger())
}

func TestFetchGameOdds_FollowsCursor(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)

		switch cursor {
		case "":
			fmt.Fprint(w, `{"events":[{"id":"g1"}],"next_cursor":"page2"}`)
		case "page2":
			fmt.Fprint(w, `{"events":[{"id":"g2"},{"id":"g3"}],"next_cursor":""}`)
		default:
			t.Errorf("unexpected cursor %q", cursor)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	games, err := newClient(server.URL).FetchGameOdds(context.Background(), []time.Time{time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(games) != 3 {
		t.Fatalf("got %d games, want 3 across both pages", len(games))
	}
	if games[0].ID != "g1" || games[2].ID != "g3" {
		t.Errorf("games out of order: %+v", games)
	}
	want := []string{"", "page2"}
	if len(cursors) != len(want) || cursors[0] != want[0] || cursors[1] != want[1] {
		t.Errorf("cursors = %v, want %v", cursors, want)
	}
}

func TestFetchGameOdds_SendsBearerAndQuery(t *testing.T) {
	var gotAuth, gotDate, gotMarkets string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.URL.Query().Get("date")
		gotMarkets = r.URL.Query().Get("markets")
		fmt.Fprint(w, `{"events":[],"next_cursor":""}`)
	}))
	defer server.Close()

	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if _, err := newClient(server.URL).FetchGameOdds(context.Background(), []time.Time{date}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-key")
	}
	if gotDate != "2026-03-14" {
		t.Errorf("date = %q, want %q", gotDate, "2026-03-14")
	}
	if gotMarkets != "h2h,spreads,totals" {
		t.Errorf("markets = %q, want %q", gotMarkets, "h2h,spreads,totals")
	}
}

func TestFetchPlayerProps_UsesGamePath(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"events":[{"id":"g1"}],"next_cursor":""}`)
	}))
	defer server.Close()

	props, err := newClient(server.URL).FetchPlayerProps(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/v4/odds/g1/props" {
		t.Errorf("path = %q, want %q", gotPath, "/v4/odds/g1/props")
	}
	if len(props) != 1 {
		t.Errorf("got %d records, want 1", len(props))
	}
}

func TestFetchGameOdds_PartialDateFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") == "2026-03-14" {
			http.Error(w, "upstream exploded", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"events":[{"id":"g1"}],"next_cursor":""}`)
	}))
	defer server.Close()

	dates := []time.Time{
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
	}
	games, err := newClient(server.URL).FetchGameOdds(context.Background(), dates)
	if err != nil {
		t.Fatalf("one failing date must not fail the call: %v", err)
	}
	if len(games) != 1 || games[0].ID != "g1" {
		t.Errorf("games = %+v, want the surviving date's game", games)
	}
}

func TestFetchGameOdds_ServerErrorIsTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newClient(server.URL).FetchGameOdds(context.Background(), []time.Time{time.Now()})
	if err == nil {
		t.Fatal("expected an error")
	}

	var fetchErr *provider.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("err = %T, want *provider.FetchError", err)
	}
	if fetchErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", fetchErr.StatusCode, http.StatusBadGateway)
	}
	if provider.IsRateLimited(err) {
		t.Error("a 502 must not classify as rate limited")
	}
}

func TestIsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newClient(server.URL).FetchPlayerProps(context.Background(), "g1")
	if !provider.IsRateLimited(err) {
		t.Errorf("IsRateLimited(%v) = false, want true", err)
	}
	if provider.IsRateLimited(nil) {
		t.Error("IsRateLimited(nil) = true, want false")
	}
	if provider.IsRateLimited(errors.New("plain")) {
		t.Error("a plain error must not classify as rate limited")
	}
}
