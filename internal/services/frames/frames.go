// Package frames implements the image source cycler: an ordered set of
// camera endpoints polled round-robin, one frame per call, each fetch bounded
// by its own deadline.
//
// Fetch failures are evidence of nothing: they carry typed error codes and
// never reach the consolidation machine. The cycler does track per-source
// consecutive failures so the watch service can announce an outage once and
// its recovery once
package frames

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
)

// Frame is one captured image: raw bytes plus provenance
type Frame struct {
	SourceIndex int
	Bytes       []byte
	FetchedAt   time.Time
}

// Transition reports a change in a source's reachability observed by a call
// to Next, so outage alerts fire exactly once per outage
type Transition uint8

const (
	// TransitionNone means no reachability change
	TransitionNone Transition = iota
	// TransitionOffline means the source just crossed the failure bound
	TransitionOffline
	// TransitionRecovered means the source just came back after an outage
	TransitionRecovered
)

// SourceHealth is a copy of one source's reachability counters
type SourceHealth struct {
	URL                 string `json:"url"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Offline             bool   `json:"offline"`
}

// Config for the cycler
type Config struct {
	// URLs are the ordered camera endpoints, polled round-robin
	URLs []string
	// Timeout bounds each fetch
	Timeout time.Duration
	// MaxFailures is the consecutive failure count that marks a source offline
	MaxFailures int
}

// Cycler polls camera endpoints round-robin. Owned by the pipeline loop; not
// safe for concurrent use
type Cycler struct {
	urls    []string
	cursor  int
	client  *http.Client
	maxFail int
	health  []SourceHealth
	log     *logger.Logger
}

// New validates the source list and builds a Cycler
func New(cfg Config) (*Cycler, error) {
	if len(cfg.URLs) == 0 {
		return nil, perr.Configf("image source list is empty")
	}
	for i, s := range cfg.URLs {
		u, err := url.Parse(s)
		if err != nil || !u.IsAbs() {
			return nil, perr.Configf("image source %d is not an absolute URL: %q", i, s)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxFail := cfg.MaxFailures
	if maxFail <= 0 {
		maxFail = 15
	}
	health := make([]SourceHealth, len(cfg.URLs))
	for i, u := range cfg.URLs {
		health[i] = SourceHealth{URL: u}
	}
	return &Cycler{
		urls:    cfg.URLs,
		client:  &http.Client{Timeout: timeout},
		maxFail: maxFail,
		health:  health,
		log:     logger.Named("frames"),
	}, nil
}

// Count returns the number of configured sources
func (c *Cycler) Count() int { return len(c.urls) }

// URL returns the endpoint for a source index
func (c *Cycler) URL(sourceIndex int) string {
	if sourceIndex < 0 || sourceIndex >= len(c.urls) {
		return ""
	}
	return c.urls[sourceIndex]
}

// Health returns copies of all sources' reachability counters
func (c *Cycler) Health() []SourceHealth {
	out := make([]SourceHealth, len(c.health))
	copy(out, c.health)
	return out
}

// Next fetches one frame from the next source in round-robin order. The
// cursor advances exactly once per call, success or failure, so over any
// window of Count() calls every source is polled exactly once
func (c *Cycler) Next(ctx context.Context) (Frame, Transition, error) {
	idx := c.cursor
	c.cursor = (c.cursor + 1) % len(c.urls)

	data, err := c.fetch(ctx, c.urls[idx])
	if err != nil {
		return Frame{SourceIndex: idx}, c.noteFailure(idx), perr.WithSource(err, idx)
	}
	return Frame{SourceIndex: idx, Bytes: data, FetchedAt: time.Now()}, c.noteSuccess(idx), nil
}

func (c *Cycler) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeFetch, "build request for %s", target)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeFetch, "fetch %s", target)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, perr.Fetchf("fetch %s: http %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeFetch, "read body from %s", target)
	}
	if len(data) == 0 {
		return nil, perr.Decodef("empty payload from %s", target)
	}
	return data, nil
}

func (c *Cycler) noteFailure(idx int) Transition {
	h := &c.health[idx]
	h.ConsecutiveFailures++
	if !h.Offline && h.ConsecutiveFailures >= c.maxFail {
		h.Offline = true
		c.log.Warn().Int("source", idx).Int("failures", h.ConsecutiveFailures).
			Str("url", h.URL).Msg("source offline")
		return TransitionOffline
	}
	return TransitionNone
}

func (c *Cycler) noteSuccess(idx int) Transition {
	h := &c.health[idx]
	wasOffline := h.Offline
	h.ConsecutiveFailures = 0
	h.Offline = false
	if wasOffline {
		c.log.Info().Int("source", idx).Str("url", h.URL).Msg("source recovered")
		return TransitionRecovered
	}
	return TransitionNone
}
