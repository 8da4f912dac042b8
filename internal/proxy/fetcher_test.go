package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchSendsHeaderSet(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second})
	result, err := fetcher.Fetch(context.Background(), server.URL, HeaderSet{
		Referer: "https://play.example.org/watch",
		Origin:  "https://play.example.org",
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(result.Body) != "ok" {
		t.Fatalf("body = %q", result.Body)
	}
	if got.Get("Referer") != "https://play.example.org/watch" {
		t.Fatalf("Referer = %q", got.Get("Referer"))
	}
	if got.Get("Origin") != "https://play.example.org" {
		t.Fatalf("Origin = %q", got.Get("Origin"))
	}
	if got.Get("User-Agent") == "" || got.Get("User-Agent") == "Go-http-client/1.1" {
		t.Fatalf("User-Agent = %q, want browser identity", got.Get("User-Agent"))
	}
}

func TestFetchBareAttemptOmitsIdentityHeaders(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second})
	if _, err := fetcher.Fetch(context.Background(), server.URL, HeaderSet{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Get("Referer") != "" || got.Get("Origin") != "" {
		t.Fatalf("bare attempt leaked identity headers: %v", got)
	}
}

func TestFetchNon2xxIsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second})
	_, err := fetcher.Fetch(context.Background(), server.URL, HeaderSet{})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if upstream.Status != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", upstream.Status)
	}
}

func TestFetchConnectionFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second})
	_, err := fetcher.Fetch(context.Background(), addr, HeaderSet{})
	var transport *TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
}

func TestFetchFinalURLReflectsRedirect(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			w.Write([]byte("here"))
			return
		}
		http.Redirect(w, r, server.URL+"/moved", http.StatusFound)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Timeout: time.Second})
	result, err := fetcher.Fetch(context.Background(), server.URL+"/start", HeaderSet{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if result.FinalURL.Path != "/moved" {
		t.Fatalf("FinalURL = %s, want /moved", result.FinalURL)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"missing target", ErrMissingTarget, 400},
		{"forbidden target", ErrForbiddenTarget, 403},
		{"upstream status", &UpstreamError{Status: 410}, 410},
		{"transport", &TransportError{Err: errors.New("refused")}, 502},
		{"exhausted pool", errors.Join(ErrAllHostsFailed, &UpstreamError{Status: 404}), 502},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusFor(tc.err); got != tc.want {
				t.Fatalf("StatusFor = %d, want %d", got, tc.want)
			}
		})
	}
}
