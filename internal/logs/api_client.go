package logs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"finisher/internal/api"
)

var (
	ErrAPIUnavailable = errors.New("log API unavailable")
	// ErrUnauthorized means the daemon rejected the configured api_token.
	ErrUnauthorized = errors.New("log API rejected the api token")
)

// StreamClient reads /api/logs from a running daemon.
type StreamClient struct {
	endpoint string
	token    string
	http     *http.Client
}

// StreamQuery mirrors the /api/logs query parameters. Zero values are omitted.
type StreamQuery struct {
	Since     uint64
	Limit     int
	Follow    bool
	JobID     string
	Component string
}

func (q StreamQuery) encode() string {
	v := url.Values{}
	if q.Since > 0 {
		v.Set("since", strconv.FormatUint(q.Since, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Follow {
		v.Set("follow", "1")
	}
	for key, value := range map[string]string{"job": q.JobID, "component": q.Component} {
		if value = strings.TrimSpace(value); value != "" {
			v.Set(key, value)
		}
	}
	return v.Encode()
}

// NewStreamClient returns nil when bind is empty, meaning the HTTP API is off.
func NewStreamClient(bind, token string) (*StreamClient, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	u, err := url.Parse(bind)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("parse api bind %q: invalid address", bind)
	}
	endpoint := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/api/logs"}
	// Follow requests block server-side, so the client sets no timeout.
	return &StreamClient{endpoint: endpoint.String(), token: strings.TrimSpace(token), http: &http.Client{}}, nil
}

func (c *StreamClient) Fetch(ctx context.Context, q StreamQuery) (api.LogStreamResponse, error) {
	var out api.LogStreamResponse
	if c == nil {
		return out, ErrAPIUnavailable
	}
	target := c.endpoint
	if query := q.encode(); query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return out, ErrUnauthorized
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return out, fmt.Errorf("api logs returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return api.LogStreamResponse{}, fmt.Errorf("decode log stream: %w", err)
	}
	return out, nil
}

// IsAPIUnavailable reports whether err means nobody answered, as opposed to
// the daemon answering with an error.
func IsAPIUnavailable(err error) bool {
	if errors.Is(err, ErrAPIUnavailable) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
