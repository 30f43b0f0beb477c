// Package printer talks to a Moonraker-compatible printer API. The watch
// loop uses it to pause or cancel a print once a failure is confirmed; the
// status server exposes Pause/Resume/Cancel and a live status query
package printer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
)

// printer actions accepted by Moonraker's /printer/print endpoints
const (
	ActionPause  = "pause"
	ActionResume = "resume"
	ActionCancel = "cancel"
)

// Config for the client
type Config struct {
	// APIURL is the Moonraker base URL, e.g. http://printer.local:7125
	APIURL string
	// Action applied on a confirmed failure, pause or cancel
	Action string
	// Timeout bounds each request
	Timeout time.Duration
}

// Client implements domain.PrinterPort against Moonraker
type Client struct {
	cfg  Config
	base string
	http *http.Client
	log  *logger.Logger

	mu    sync.Mutex
	acted map[string]struct{} // episode IDs already acted on
}

// New validates config and builds a Client
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.APIURL)
	if err != nil || !u.IsAbs() {
		return nil, perr.Configf("printer API URL is not absolute: %q", cfg.APIURL)
	}
	if cfg.Action != ActionPause && cfg.Action != ActionCancel {
		return nil, perr.Configf("printer action must be %q or %q, got %q", ActionPause, ActionCancel, cfg.Action)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:   cfg,
		base:  strings.TrimRight(cfg.APIURL, "/"),
		http:  &http.Client{Timeout: timeout},
		log:   logger.Named("printer"),
		acted: make(map[string]struct{}),
	}, nil
}

// ActionName reports the configured failure action
func (c *Client) ActionName() string { return c.cfg.Action }

// Act applies the configured action once per episode. Repeat calls for the
// same episode ID return nil without touching the printer
func (c *Client) Act(ctx context.Context, episodeID string) error {
	c.mu.Lock()
	if _, done := c.acted[episodeID]; done {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.do(ctx, c.cfg.Action); err != nil {
		return err
	}

	c.mu.Lock()
	c.acted[episodeID] = struct{}{}
	c.mu.Unlock()
	c.log.Info().Str("action", c.cfg.Action).Str("episode_id", episodeID).Msg("printer action applied")
	return nil
}

// Pause pauses the current print
func (c *Client) Pause(ctx context.Context) error { return c.do(ctx, ActionPause) }

// Resume resumes a paused print
func (c *Client) Resume(ctx context.Context) error { return c.do(ctx, ActionResume) }

// Cancel cancels the current print
func (c *Client) Cancel(ctx context.Context) error { return c.do(ctx, ActionCancel) }

// Status queries webhooks and print_stats printer objects
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	endpoint := c.base + "/printer/objects/query?webhooks&print_stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeTransport, "build status request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeTransport, "query printer status")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, perr.Transportf("query printer status: http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeTransport, "read printer status")
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, action string) error {
	endpoint := c.base + "/printer/print/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeTransport, "build printer request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeTransport, "%s print", action)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return perr.Transportf("%s print: http %d", action, resp.StatusCode)
	}
	return nil
}
