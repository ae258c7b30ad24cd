package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out consecutive requests to the same host.
type Throttle struct {
	delay    time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewThrottle(delay time.Duration) *Throttle {
	return &Throttle{delay: delay, limiters: make(map[string]*rate.Limiter)}
}

func (t *Throttle) Wait(ctx context.Context, host string) error {
	if t == nil || t.delay <= 0 {
		return nil
	}
	t.mu.Lock()
	l, ok := t.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(t.delay), 1)
		t.limiters[host] = l
	}
	t.mu.Unlock()
	return l.Wait(ctx)
}

type response struct {
	body        []byte
	contentType string
}

// get issues one GET bounded by timeout and the size cap. Every failure is a
// *FetchError.
func (a *Adapter) get(ctx context.Context, rawURL string, timeout time.Duration) (*response, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	if err := a.throttle.Wait(ctx, u.Host); err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if a.opts.UserAgent != "" {
		req.Header.Set("User-Agent", a.opts.UserAgent)
	}

	slog.DebugContext(ctx, "http get", "url", rawURL, "timeout", timeout)
	resp, err := a.client.Do(req) // #nosec G107 -- urls come from configured sources
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.opts.MaxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(body)) > a.opts.MaxBytes {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("response larger than %d bytes", a.opts.MaxBytes)}
	}

	return &response{body: body, contentType: resp.Header.Get("Content-Type")}, nil
}
