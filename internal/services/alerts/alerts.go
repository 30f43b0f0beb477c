// Package alerts delivers webhook notifications as Discord-style rich
// embeds: failure raised, reminder, print paused, source offline, source
// recovered. Delivery uses bounded retry with exponential backoff; a failed
// delivery is reported to the caller for logging and nothing else, so the
// detection state machine never rolls back because a webhook was down
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	perr "printguard/internal/platform/errors"
	"printguard/internal/platform/logger"
	"printguard/internal/services/watch/domain"
)

// embed colors, Discord convention
const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF0000
	colorGreen  = 0x00FF00
)

const footerText = "printguard"

// attachmentName is the filename the embed references via attachment://
const attachmentName = "frame.jpg"

// Config for the dispatcher
type Config struct {
	// WebhookURL is the Discord-compatible webhook endpoint
	WebhookURL string
	// MaxRetries bounds delivery attempts beyond the first
	MaxRetries int
	// Backoff is the initial retry delay; doubles per attempt
	Backoff time.Duration
	// Timeout bounds each POST
	Timeout time.Duration
}

// Client implements domain.AlertPort over a webhook
type Client struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger
}

// New validates the webhook URL and builds a Client
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || !u.IsAbs() {
		return nil, perr.Configf("webhook URL is not absolute: %q", cfg.WebhookURL)
	}
	if cfg.MaxRetries < 0 {
		return nil, perr.Configf("alert max retries must be >= 0, got %d", cfg.MaxRetries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  logger.Named("alerts"),
	}, nil
}

type footer struct {
	Text string `json:"text"`
}

type embedImage struct {
	URL string `json:"url"`
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       uint32      `json:"color"`
	Timestamp   string      `json:"timestamp"`
	Footer      footer      `json:"footer"`
	Image       *embedImage `json:"image,omitempty"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

// NotifyFailure announces a confirmed failure episode with the confirming
// frame attached
func (c *Client) NotifyFailure(ctx context.Context, ev domain.FailureEvent) error {
	desc := fmt.Sprintf(
		"Detected **%s** print failure with **%.2f%%** confidence on camera %d\n\n"+
			"**Location:**\n• X: %.1f\n• Y: %.1f\n• Width: %.1f\n• Height: %.1f",
		ev.Label, ev.ClassProb*100, ev.SourceIndex,
		ev.Box.X, ev.Box.Y, ev.Box.W, ev.Box.H)
	return c.send(ctx, "⚠️ Print Failure Detected", desc, colorOrange, ev.Frame)
}

// NotifyReminder re-announces an ongoing episode after the cooldown elapsed
func (c *Client) NotifyReminder(ctx context.Context, ev domain.FailureEvent) error {
	desc := fmt.Sprintf(
		"**%s** print failure is still present on camera %d (episode %s). Please check the printer.",
		ev.Label, ev.SourceIndex, ev.ID)
	return c.send(ctx, "⚠️ Print Failure Ongoing", desc, colorOrange, ev.Frame)
}

// NotifyPaused announces that the printer action was applied
func (c *Client) NotifyPaused(ctx context.Context, ev domain.FailureEvent, action string) error {
	desc := fmt.Sprintf(
		"Print has been %sd after a confirmed **%s** failure on camera %d. Please check the printer.",
		action, ev.Label, ev.SourceIndex)
	return c.send(ctx, "🚨 Print "+titleCase(action)+"d", desc, colorRed, ev.Frame)
}

// NotifySourceOffline announces that a camera stopped responding
func (c *Client) NotifySourceOffline(ctx context.Context, sourceIndex int, url string, failures int) error {
	desc := fmt.Sprintf(
		"Failed to fetch image from %s after %d attempts. Monitoring of camera %d is offline!",
		url, failures, sourceIndex)
	return c.send(ctx, "🚨 CRITICAL: Camera Offline", desc, colorRed, nil)
}

// NotifySourceRecovered announces that a camera is reachable again
func (c *Client) NotifySourceRecovered(ctx context.Context, sourceIndex int, url string) error {
	desc := fmt.Sprintf("Image fetch from %s successful after connection issues; camera %d is back online.",
		url, sourceIndex)
	return c.send(ctx, "✅ RECOVERY: Camera Back Online", desc, colorGreen, nil)
}

// send posts one embed with bounded retry. When image bytes are given the
// alert goes out as a multipart form with the frame attached and the embed
// pointing at it via attachment://
func (c *Client) send(ctx context.Context, title, description string, color uint32, image []byte) error {
	e := embed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      footer{Text: footerText},
	}
	if len(image) > 0 {
		e.Image = &embedImage{URL: "attachment://" + attachmentName}
	}
	payloadJSON, err := json.Marshal(payload{Embeds: []embed{e}})
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeTransport, "marshal alert")
	}

	body := payloadJSON
	contentType := "application/json"
	if len(image) > 0 {
		body, contentType, err = multipartBody(payloadJSON, image)
		if err != nil {
			return err
		}
	}

	backoff := c.cfg.Backoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return perr.Wrapf(ctx.Err(), perr.ErrorCodeTransport, "alert cancelled")
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		lastErr = c.post(ctx, body, contentType)
		if lastErr == nil {
			return nil
		}
		c.log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("title", title).Msg("alert delivery failed")
	}
	return lastErr
}

// multipartBody wraps the embed JSON and the frame into a webhook form:
// a payload_json field plus a files[0] image part
func multipartBody(payloadJSON, image []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("payload_json", string(payloadJSON)); err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeTransport, "build alert form")
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="files[0]"; filename=%q`, attachmentName))
	hdr.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeTransport, "build alert image part")
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeTransport, "write alert image")
	}
	if err := w.Close(); err != nil {
		return nil, "", perr.Wrapf(err, perr.ErrorCodeTransport, "finalize alert form")
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) post(ctx context.Context, body []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeTransport, "build alert request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeTransport, "post alert")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return perr.Transportf("post alert: http %d", resp.StatusCode)
	}
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
