package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

const allowAllRobots = "User-agent: *\nAllow: /"

// robotsGuard sits between colly and the shared transport for one fetch.
// robots.txt requests that time out or hit a 5xx are retried; when every
// attempt fails that way the guard answers with an allow-all document and
// records why, so a flaky robots.txt does not block summarizing the page.
// Other requests pass straight through.
type robotsGuard struct {
	next    http.RoundTripper
	backoff []time.Duration

	mu       sync.Mutex
	fallback string
}

func newRobotsGuard(next http.RoundTripper, backoff []time.Duration) *robotsGuard {
	return &robotsGuard{next: next, backoff: backoff}
}

func (g *robotsGuard) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots guard: nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := g.next.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("round trip: %w", err)
		}
		return resp, nil
	}

	var lastProblem string
	for attempt := 0; attempt <= len(g.backoff); attempt++ {
		if attempt > 0 {
			if err := pause(req.Context(), g.backoff[attempt-1]); err != nil {
				return nil, err
			}
		}
		resp, err := g.next.RoundTrip(req.Clone(req.Context()))
		switch {
		case err == nil && resp.StatusCode < http.StatusInternalServerError:
			return resp, nil
		case err == nil:
			lastProblem = resp.Status
			drain(resp)
		case req.Context().Err() != nil:
			return nil, fmt.Errorf("fetch robots.txt: %w", req.Context().Err())
		case !transient(err):
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		default:
			lastProblem = err.Error()
		}
	}

	g.mu.Lock()
	g.fallback = fmt.Sprintf("robots.txt unavailable after %d attempts: %s", len(g.backoff)+1, lastProblem)
	g.mu.Unlock()
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}, nil
}

// fallbackReason is empty unless robots.txt was replaced by allow-all.
func (g *robotsGuard) fallbackReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fallback
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
