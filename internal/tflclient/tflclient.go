// Package tflclient is a thin client for the public TfL tube-status
// endpoint. It has no knowledge of caching, retries, or circuit breaking —
// those concerns are layered on top by internal/gateway. It only knows how
// to make one HTTP call and turn the response (or a non-2xx status) into a
// typed result.
package tflclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sertdev/tubestatus/internal/snapshot"
)

// StatusError represents a non-2xx HTTP response from the upstream. It
// implements resilience.StatusCoder and resilience.RetryAfterer so the
// retry executor can classify it without importing this package.
type StatusError struct {
	Code       int
	Body       string
	retryAfter time.Duration
	hasHint    bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Code)
}

func (e *StatusError) StatusCode() int { return e.Code }

func (e *StatusError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasHint
}

// Client is a pooled HTTP client for the TfL tube-status API.
type Client struct {
	http    *http.Client
	baseURL string
}

// Opts configures Client construction.
type Opts struct {
	// Timeout bounds a single HTTP round trip. Default 10s.
	Timeout time.Duration
}

// New creates a Client pointed at baseURL (e.g. "https://api.tfl.gov.uk").
func New(baseURL string, opts Opts) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		baseURL: baseURL,
	}
}

// FetchAllLines calls GET {base}/Line/Mode/tube/Status.
func (c *Client) FetchAllLines(ctx context.Context) ([]snapshot.Line, error) {
	return c.fetch(ctx, "/Line/Mode/tube/Status")
}

// FetchLineDateRange calls GET {base}/Line/{line}/Status/{from}/to/{to},
// used only by the historical read route — it never touches the cache or
// the register.
func (c *Client) FetchLineDateRange(ctx context.Context, lineID string, from, to time.Time) ([]snapshot.Line, error) {
	path := fmt.Sprintf("/Line/%s/Status/%s/to/%s", lineID, from.Format("2006-01-02"), to.Format("2006-01-02"))
	return c.fetch(ctx, path)
}

func (c *Client) fetch(ctx context.Context, path string) ([]snapshot.Line, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{Code: resp.StatusCode, Body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil {
					se.retryAfter = time.Duration(secs) * time.Second
					se.hasHint = true
				}
			}
		}
		return nil, se
	}

	var raw []rawLine
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	lines := make([]snapshot.Line, 0, len(raw))
	for _, rl := range raw {
		lines = append(lines, rl.toLine())
	}
	return lines, nil
}

// rawLine mirrors the upstream JSON shape. Unknown fields are ignored by
// default via encoding/json-compatible decoding.
type rawLine struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	LineStatuses []rawLineStatus  `json:"lineStatuses"`
}

type rawLineStatus struct {
	StatusSeverityDescription string          `json:"statusSeverityDescription"`
	Disruption                *rawDisruption  `json:"disruption"`
}

type rawDisruption struct {
	Category            string `json:"category"`
	Description         string `json:"description"`
	CategoryDescription string `json:"categoryDescription"`
	IsPlanned           *bool  `json:"isPlanned"`
}

func (rl rawLine) toLine() snapshot.Line {
	line := snapshot.Line{ID: rl.ID, Name: rl.Name}

	if len(rl.LineStatuses) > 0 {
		line.Status = rl.LineStatuses[0].StatusSeverityDescription
		line.StatusDescription = rl.LineStatuses[0].StatusSeverityDescription
	}

	for _, ls := range rl.LineStatuses {
		if ls.Disruption == nil {
			continue
		}
		line.Disruptions = append(line.Disruptions, ls.Disruption.toDisruption())
	}
	return line
}

func (d rawDisruption) toDisruption() snapshot.Disruption {
	planned := false
	switch {
	case d.IsPlanned != nil:
		planned = *d.IsPlanned
	case strings.Contains(strings.ToLower(d.Category), "plan"),
		strings.Contains(strings.ToLower(d.CategoryDescription), "plan"):
		planned = true
	}
	return snapshot.Disruption{
		Category:    d.Category,
		Description: d.Description,
		Planned:     planned,
	}
}
