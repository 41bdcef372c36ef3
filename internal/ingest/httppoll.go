package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxFetchBody = 4 << 20

// httpPollAdapter fetches an endpoint immediately and then on a fixed
// interval until the connection is removed. Fetch failures are logged and
// never stop the loop.
type httpPollAdapter struct {
	endpoint string
	cacheKey string
	method   string
	deviceID string
	interval time.Duration
	client   *http.Client
	emit     emitFunc
	logger   *slog.Logger
	cancel   context.CancelFunc
}

func openHTTPPoll(cfg Config, limits Limits, emit emitFunc, logger *slog.Logger) *httpPollAdapter {
	intervalMs := cfg.PollIntervalMs
	if intervalMs <= 0 {
		intervalMs = limits.PollIntervalMs
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &httpPollAdapter{
		endpoint: cfg.Endpoint,
		cacheKey: stripQuery(cfg.Endpoint),
		method:   method,
		deviceID: cfg.DeviceID,
		interval: time.Duration(intervalMs) * time.Millisecond,
		client:   &http.Client{Timeout: 10 * time.Second},
		emit:     emit,
		logger:   logger,
		cancel:   cancel,
	}
	go a.run(ctx)
	return a
}

func (a *httpPollAdapter) run(ctx context.Context) {
	a.fetchAndLog(ctx)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.fetchAndLog(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *httpPollAdapter) fetchAndLog(ctx context.Context) {
	if err := a.FetchNow(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn("http poll fetch failed", slog.String("endpoint", a.cacheKey), slog.String("error", err.Error()))
	}
}

// FetchNow performs a single fetch of the configured endpoint and feeds the
// response through the pipeline. Also used for lazy on-demand previews.
func (a *httpPollAdapter) FetchNow(ctx context.Context) error {
	return a.FetchFrom(ctx, a.endpoint)
}

// FetchFrom fetches an explicit endpoint; rows are cached under the
// endpoint's base URL with the query string stripped.
func (a *httpPollAdapter) FetchFrom(ctx context.Context, endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = a.endpoint
	}
	target := endpoint
	if a.deviceID != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "device_id=" + url.QueryEscape(a.deviceID)
	}
	req, err := http.NewRequestWithContext(ctx, a.method, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d from %s", ErrFetch, resp.StatusCode, stripQuery(endpoint))
	}
	a.deliver(stripQuery(endpoint), body)
	return nil
}

// deliver splits a response into raw units: one per array element, one for
// an object, and scalars wrapped as a value field.
func (a *httpPollAdapter) deliver(cacheKey string, body []byte) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		a.emit(cacheKey, string(body))
		return
	}
	switch t := decoded.(type) {
	case []any:
		for _, element := range t {
			a.emit(cacheKey, wrapScalar(element))
		}
	case map[string]any:
		a.emit(cacheKey, t)
	default:
		a.emit(cacheKey, wrapScalar(t))
	}
}

func wrapScalar(v any) any {
	switch v.(type) {
	case map[string]any:
		return v
	default:
		return map[string]any{"value": v}
	}
}

func (a *httpPollAdapter) Close() error {
	a.cancel()
	return nil
}

func stripQuery(endpoint string) string {
	if idx := strings.Index(endpoint, "?"); idx >= 0 {
		return endpoint[:idx]
	}
	return endpoint
}
