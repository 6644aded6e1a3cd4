package a1111

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finisher/internal/services"
)

const (
	apiPrefix = "/sdapi/v1"

	defaultProcessingTimeout = 300 * time.Second
	defaultStatusTimeout     = 10 * time.Second
	defaultOptionsTimeout    = 30 * time.Second

	maxErrorBody = 4096
)

// Config captures the server location and per-call timeouts.
type Config struct {
	BaseURL           string
	ProcessingTimeout time.Duration
	StatusTimeout     time.Duration
	OptionsTimeout    time.Duration
}

// Client issues requests against a single generation server.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	location   *time.Location
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock overrides the clock used to stamp progress snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the time zone used to interpret server batch timestamps.
// The server reports them in its local time; the default is time.Local.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.location = loc
		}
	}
}

// NewClient constructs a gateway client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = defaultProcessingTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}
	if cfg.OptionsTimeout <= 0 {
		cfg.OptionsTimeout = defaultOptionsTimeout
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		now:        time.Now,
		location:   time.Local,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Img2Img submits an image-to-image generation request.
func (c *Client) Img2Img(ctx context.Context, req Img2ImgRequest) (Img2ImgResponse, error) {
	var resp Img2ImgResponse
	if err := c.do(ctx, http.MethodPost, "/img2img", req, &resp, c.cfg.ProcessingTimeout, "img2img"); err != nil {
		return Img2ImgResponse{}, err
	}
	return resp, nil
}

// ExtraSingleImage submits a single-image post-processing request.
func (c *Client) ExtraSingleImage(ctx context.Context, req ExtraSingleImageRequest) (ExtraSingleImageResponse, error) {
	var resp ExtraSingleImageResponse
	if err := c.do(ctx, http.MethodPost, "/extra-single-image", req, &resp, c.cfg.ProcessingTimeout, "extra-single-image"); err != nil {
		return ExtraSingleImageResponse{}, err
	}
	return resp, nil
}

// Progress fetches the current server activity without the preview image.
func (c *Client) Progress(ctx context.Context) (ProgressSnapshot, error) {
	var resp progressResponse
	if err := c.do(ctx, http.MethodGet, "/progress?skip_current_image=true", nil, &resp, c.cfg.StatusTimeout, "progress"); err != nil {
		return ProgressSnapshot{}, err
	}
	return resp.snapshot(c.now(), c.location), nil
}

// Interrupt asks the server to abort whatever it is currently running.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/interrupt", nil, nil, c.cfg.StatusTimeout, "interrupt")
}

// Upscalers lists upscaler names.
func (c *Client) Upscalers(ctx context.Context) ([]string, error) {
	return c.names(ctx, "/upscalers", "upscalers", false)
}

// Models lists checkpoint titles.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	return c.names(ctx, "/sd-models", "sd-models", true)
}

// Samplers lists sampler names.
func (c *Client) Samplers(ctx context.Context) ([]string, error) {
	return c.names(ctx, "/samplers", "samplers", false)
}

// Schedulers lists scheduler names.
func (c *Client) Schedulers(ctx context.Context) ([]string, error) {
	return c.names(ctx, "/schedulers", "schedulers", false)
}

// Health performs a lightweight reachability check.
func (c *Client) Health(ctx context.Context) error {
	var discard json.RawMessage
	return c.do(ctx, http.MethodGet, "/memory", nil, &discard, c.cfg.StatusTimeout, "memory")
}

func (c *Client) names(ctx context.Context, path, op string, preferTitle bool) ([]string, error) {
	var items []namedOption
	if err := c.do(ctx, http.MethodGet, path, nil, &items, c.cfg.OptionsTimeout, op); err != nil {
		return nil, err
	}
	return optionNames(items, preferTitle), nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any, timeout time.Duration, op string) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, "a1111", op, "server base url not configured", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return services.Wrap(services.ErrValidation, "a1111", op, "encode request", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.cfg.BaseURL+apiPrefix+path, body)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "a1111", op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		message := "request failed"
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			message = fmt.Sprintf("timed out after %s", timeout)
		}
		return services.Wrap(services.ErrTransport, "a1111", op, message, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &httpStatusError{StatusCode: resp.StatusCode, Message: serverMessage(data)}
		return services.Wrap(services.ErrServer, "a1111", op, "", statusErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return services.Wrap(services.ErrTransport, "a1111", op, "read response", err)
		}
		return services.Wrap(services.ErrServer, "a1111", op, "decode response", err)
	}
	return nil
}

type httpStatusError struct {
	StatusCode int
	Message    string
}

func (e *httpStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from a server error, or 0.
func StatusCode(err error) int {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// serverMessage pulls the most useful text out of an error body. FastAPI
// responses carry either "detail" (string or validation list) or "error".
func serverMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var parsed struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
		Errors string `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch detail := parsed.Detail.(type) {
		case string:
			if detail != "" {
				return detail
			}
		case []any:
			if len(detail) > 0 {
				if encoded, err := json.Marshal(detail[0]); err == nil {
					return string(encoded)
				}
			}
		}
		if parsed.Errors != "" {
			return parsed.Errors
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}
