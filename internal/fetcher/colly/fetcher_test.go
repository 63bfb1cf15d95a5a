package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-summarizer/internal/summary"
)

func htmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	var gotUA, gotTrace string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotTrace = r.Header.Get("X-Trace")
		htmlHandler("<html><title>Hi</title></html>")(w, r)
	}))
	defer server.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: time.Second})
	resp, err := f.Fetch(context.Background(), summary.FetchRequest{
		URL:     server.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "<title>Hi</title>")
	require.Equal(t, server.URL+"/page", resp.URL)
	require.False(t, resp.UsedHeadless)
	require.Empty(t, resp.RobotsFallback)
	require.Equal(t, "test-agent", gotUA)
	require.Equal(t, "yes", gotTrace)

	_, err = f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/page"})
	require.NoError(t, err, "the same URL can be fetched again")
}

func TestFetchNon2xxIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/missing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
}

func TestFetchRejectsNonHTML(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.7")
	}))
	defer server.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/report.pdf"})
	require.ErrorIs(t, err, ErrNotHTML)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "User-agent: *\nDisallow: /private")
	})
	mux.HandleFunc("/", htmlHandler("<html><body>ok</body></html>"))
	server := httptest.NewServer(mux)
	defer server.Close()

	f := New(Config{RespectRobots: true, Timeout: time.Second})

	_, err := f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/private/page", RespectRobots: true})
	require.ErrorIs(t, err, ErrDisallowed)

	_, err = f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/public", RespectRobots: true})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/private/page", RespectRobots: false})
	require.NoError(t, err, "a request may opt out of robots handling")
}

func TestFetchRobotsOutageFallsBack(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/", htmlHandler("<html><body>ok</body></html>"))
	server := httptest.NewServer(mux)
	defer server.Close()

	f := New(Config{RespectRobots: true, Timeout: time.Second})
	f.backoff = []time.Duration{0, 0}

	resp, err := f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/page", RespectRobots: true})
	require.NoError(t, err)
	require.Contains(t, resp.RobotsFallback, "after 3 attempts")
	require.Contains(t, resp.RobotsFallback, "503")
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		htmlHandler("late")(w, r)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(ctx, summary.FetchRequest{URL: server.URL})
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestFetchConcurrentCallsKeepTheirOwnResults(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		htmlHandler("<title>" + strings.TrimPrefix(r.URL.Path, "/") + "</title>")(w, r)
	}))
	defer server.Close()

	f := New(Config{Timeout: time.Second})
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("page-%d", i)
			resp, err := f.Fetch(context.Background(), summary.FetchRequest{URL: server.URL + "/" + name})
			if err != nil {
				errs <- err
				return
			}
			if !strings.Contains(string(resp.Body), name) {
				errs <- fmt.Errorf("body for %s was %q", name, resp.Body)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestIsHTML(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"":                          true,
		"text/html":                 true,
		"text/html; charset=utf-8":  true,
		"application/xhtml+xml":     true,
		"application/json":          false,
		"image/png":                 false,
		"text/plain; charset=utf-8": false,
		";;;":                       false,
	}
	for ct, want := range tests {
		require.Equal(t, want, isHTML(ct), ct)
	}
}
