// Package frigate is a small client for the NVR's HTTP API: detection events,
// review items, camera config and VOD reachability.
package frigate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"frigate-commander/segments"
)

const (
	DefaultRetries = 3
	DefaultBackoff = time.Second
	DefaultTimeout = 60 * time.Second
	probeTimeout   = 10 * time.Second
)

// APIError is returned once a request failed for good
type APIError struct {
	Path       string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("API request %s failed with status %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("API request %s failed: %v", e.Path, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// Event is a detection event from /api/events
type Event struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Camera    string   `json:"camera"`
	StartTime float64  `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
	TopScore  *float64 `json:"top_score"`
	Score     *float64 `json:"score"`
	Data      *struct {
		TopScore *float64 `json:"top_score"`
		Score    *float64 `json:"score"`
	} `json:"data,omitempty"`
}

// ReviewItem is a review entry from /api/review
type ReviewItem struct {
	ID        string   `json:"id"`
	Camera    string   `json:"camera"`
	StartTime *float64 `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
	EventID   *string  `json:"event_id"`
	Severity  string   `json:"severity"`
}

// Client talks to one NVR instance
type Client struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	retries    int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client with the default retry policy
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		headers:    map[string]string{},
		retries:    DefaultRetries,
		backoff:    DefaultBackoff,
		sleep:      sleepContext,
	}
}

// BaseURL returns the normalized base address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHeader adds a header sent with every request (auth proxies)
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// getJSON performs GET path?query with retries and decodes the body into out.
// 429 doubles the backoff, 5xx and transport errors back off normally, other
// statuses fail at once.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		delay := c.backoff * time.Duration(1<<uint(attempt))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &APIError{Path: path, Err: fmt.Errorf("failed to create request: %w", err)}
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return &APIError{Path: path, Err: ctx.Err()}
			}
			lastErr = &APIError{Path: path, Err: err}
			if attempt < c.retries {
				log.Printf("[Frigate] %s connection error, retrying in %s (attempt %d/%d): %v", path, delay, attempt+1, c.retries, err)
				if err := c.sleep(ctx, delay); err != nil {
					return &APIError{Path: path, Err: err}
				}
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &APIError{Path: path, StatusCode: resp.StatusCode, Err: errors.New("rate limited")}
			delay *= 2
		case resp.StatusCode >= 500:
			lastErr = &APIError{Path: path, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return &APIError{Path: path, StatusCode: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(body)))}
		case readErr != nil:
			lastErr = &APIError{Path: path, Err: fmt.Errorf("failed to read response body: %w", readErr)}
		default:
			if err := json.Unmarshal(body, out); err != nil {
				return &APIError{Path: path, Err: fmt.Errorf("failed to parse response: %w", err)}
			}
			return nil
		}

		if attempt < c.retries {
			log.Printf("[Frigate] %s: %v, retrying in %s (attempt %d/%d)", path, lastErr, delay, attempt+1, c.retries)
			if err := c.sleep(ctx, delay); err != nil {
				return &APIError{Path: path, Err: err}
			}
		}
	}
	return fmt.Errorf("API request failed after %d retries: %w", c.retries, lastErr)
}

// Events lists detection events of camera in [after, before)
func (c *Client) Events(ctx context.Context, camera string, after, before int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("camera", camera)
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("before", strconv.FormatInt(before, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var events []Event
	if err := c.getJSON(ctx, "/api/events", q, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// MotionReviews lists motion review items of camera
func (c *Client) MotionReviews(ctx context.Context, camera string, limit int) ([]ReviewItem, error) {
	q := url.Values{}
	q.Set("cameras", camera)
	q.Set("type", "motion")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var items []ReviewItem
	if err := c.getJSON(ctx, "/api/review", q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Cameras returns the sorted camera names from the NVR config
func (c *Client) Cameras(ctx context.Context) ([]string, error) {
	var cfg struct {
		Cameras map[string]json.RawMessage `json:"cameras"`
	}
	if err := c.getJSON(ctx, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cfg.Cameras))
	for name := range cfg.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Probe checks that a VOD URL answers with 2xx, trying HEAD then GET
func (c *Client) Probe(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return false
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}

// ToSegmentEvents converts API events for the segment builder
func ToSegmentEvents(events []Event) []segments.Event {
	out := make([]segments.Event, 0, len(events))
	for _, e := range events {
		se := segments.Event{Label: e.Label, StartTime: e.StartTime, EndTime: e.EndTime}
		topScore, score := e.TopScore, e.Score
		if e.Data != nil {
			if topScore == nil {
				topScore = e.Data.TopScore
			}
			if score == nil {
				score = e.Data.Score
			}
		}
		se.TopScore = topScore
		se.Score = score
		out = append(out, se)
	}
	return out
}
