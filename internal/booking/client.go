// Package booking implements the HTTP client for the schedule service.
// All methods are context-aware, respect the shared rate limiter, and retry
// on transient errors (429, 5xx).
package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rookboom/rookboom/internal/model"
)

const (
	maxRetries     = 4
	defaultBackoff = 500 * time.Millisecond
)

// Client is the schedule service HTTP client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    time.Duration
	debug      bool
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, ratePerSec float64, debug bool) *Client {
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		backoff: defaultBackoff,
		debug:   debug,
	}
}

// WithBackoff sets the delay before the first retry; later retries double it.
func (c *Client) WithBackoff(d time.Duration) *Client {
	c.backoff = d
	return c
}

// ─── Schedules ────────────────────────────────────────────────────────────────

// Rooms fetches the room schedules for q.
func (c *Client) Rooms(ctx context.Context, q model.Query) (*model.SchedulePayload, error) {
	var out model.SchedulePayload
	if err := c.get(ctx, "/schedule", q.Values(), &out); err != nil {
		return nil, fmt.Errorf("rooms: %w", err)
	}
	return &out, nil
}

// Attendees fetches the schedules of several users at once.
func (c *Client) Attendees(ctx context.Context, q model.Query, emails []string) (*model.AttendeePayload, error) {
	params := q.Values()
	params.Set("emails", strings.Join(emails, ","))
	var out model.AttendeePayload
	if err := c.get(ctx, "/schedule/users", params, &out); err != nil {
		return nil, fmt.Errorf("attendees: %w", err)
	}
	return &out, nil
}

// Attendee fetches the schedule of one user.
func (c *Client) Attendee(ctx context.Context, q model.Query, email string) (*model.Schedule, error) {
	params := q.Values()
	params.Set("email", email)
	var out model.Schedule
	if err := c.get(ctx, "/schedule/user", params, &out); err != nil {
		return nil, fmt.Errorf("attendee %s: %w", email, err)
	}
	return &out, nil
}

// TimeMask fetches the frame grid for q.
func (c *Client) TimeMask(ctx context.Context, q model.Query) (*model.TimeMaskPayload, error) {
	var out model.TimeMaskPayload
	if err := c.get(ctx, "/schedule/timemask", q.Values(), &out); err != nil {
		return nil, fmt.Errorf("time mask: %w", err)
	}
	return &out, nil
}

// RepInfo asks for the first occurrence and description of the recurrence
// carried in q.
func (c *Client) RepInfo(ctx context.Context, q model.Query) (*model.RepInfo, error) {
	var out model.RepInfo
	if err := c.get(ctx, "/schedule/rep-info", q.Values(), &out); err != nil {
		return nil, fmt.Errorf("rep info: %w", err)
	}
	return &out, nil
}

// ─── Transport ────────────────────────────────────────────────────────────────

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + endpoint + "?" + params.Encode()
	if c.debug {
		slog.Debug("schedule request", "url", reqURL)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(c.backoff))
			slog.Debug("retrying after backoff", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "rookboom-cli/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading body: %w", err)
			continue
		}

		if c.debug {
			slog.Debug("schedule response", "status", resp.StatusCode, "bytes", len(body))
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(body, &apiErr)
			if apiErr.Error != "" {
				return fmt.Errorf("API error: %s", apiErr.Error)
			}
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}
