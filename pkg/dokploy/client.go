// Package dokploy is a typed client for the platform's batched-envelope RPC
// surface.
//
// Every procedure targets /api/trpc/{procedure}?batch=1. Queries carry the
// input envelope as a URL parameter, mutations as the JSON body. Responses
// arrive as a single-element batch (or a bare envelope) that either carries a
// platform error or a result to unwrap.
package dokploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	rterrors "github.com/boltlabs/runtimed/pkg/errors"
	"github.com/boltlabs/runtimed/pkg/logger"
	"github.com/boltlabs/runtimed/pkg/telemetry"
)

const (
	// DefaultMaxRetries is the number of re-attempts after the first try.
	DefaultMaxRetries = 2

	// DefaultAttemptTimeout bounds each individual attempt.
	DefaultAttemptTimeout = 20 * time.Second

	retryInitialInterval = 200 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// retryableStatuses are the HTTP statuses worth re-attempting.
var retryableStatuses = map[int]struct{}{
	http.StatusRequestTimeout:      {}, // 408
	http.StatusTooEarly:            {}, // 425
	http.StatusTooManyRequests:     {}, // 429
	http.StatusInternalServerError: {}, // 500
	http.StatusBadGateway:          {}, // 502
	http.StatusServiceUnavailable:  {}, // 503
	http.StatusGatewayTimeout:      {}, // 504
}

// platformCodeStatus maps platform error codes to the HTTP status surfaced
// outward. Unknown codes map to 502.
var platformCodeStatus = map[string]int{
	"UNAUTHORIZED":      http.StatusUnauthorized,
	"FORBIDDEN":         http.StatusForbidden,
	"NOT_FOUND":         http.StatusNotFound,
	"BAD_REQUEST":       http.StatusBadRequest,
	"CONFLICT":          http.StatusConflict,
	"PAYLOAD_TOO_LARGE": http.StatusRequestEntityTooLarge,
	"TOO_MANY_REQUESTS": http.StatusTooManyRequests,
	"NOT_IMPLEMENTED":   http.StatusNotImplemented,
}

// Client talks to the platform API. It is stateless apart from configuration
// and safe for concurrent use.
type Client struct {
	baseURL        string
	apiKey         string
	http           *http.Client
	maxRetries     int
	attemptTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithMaxRetries sets the number of re-attempts after the first try.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

// New creates a platform client for the given base URL and API key.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		apiKey:         apiKey,
		http:           &http.Client{},
		maxRetries:     DefaultMaxRetries,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveRequestID returns the caller-supplied request id when it is safe to
// forward, or mints a fresh UUID.
func ResolveRequestID(requestID string) string {
	if requestIDPattern.MatchString(requestID) {
		return requestID
	}
	return uuid.NewString()
}

// query performs a GET procedure with the input envelope as a URL parameter.
func (c *Client) query(ctx context.Context, procedure string, input any, requestID string, out any) error {
	return c.call(ctx, procedure, false, input, requestID, out)
}

// mutate performs a POST procedure with the input envelope as the body.
func (c *Client) mutate(ctx context.Context, procedure string, input any, requestID string, out any) error {
	return c.call(ctx, procedure, true, input, requestID, out)
}

func (c *Client) call(ctx context.Context, procedure string, mutation bool, input any, requestID string, out any) error {
	reqID := ResolveRequestID(requestID)

	envelope, err := json.Marshal(map[string]any{"0": map[string]any{"json": input}})
	if err != nil {
		return rterrors.NewInternal(fmt.Sprintf("failed to encode input for %s", procedure), err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.3

	attempt := 0
	start := time.Now()
	operation := func() ([]byte, error) {
		attempt++
		raw, attemptErr := c.attempt(ctx, procedure, mutation, envelope, reqID)
		if attemptErr != nil {
			retryable := isRetryable(attemptErr)
			logAttempt(procedure, reqID, attempt, retryable, attemptErr)
			telemetry.PlatformRequests.WithLabelValues(procedure, "error").Inc()
			if !retryable {
				return nil, backoff.Permanent(attemptErr)
			}
			return nil, attemptErr
		}
		telemetry.PlatformRequests.WithLabelValues(procedure, "ok").Inc()
		return raw, nil
	}

	raw, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
	)
	telemetry.PlatformRequestDuration.WithLabelValues(procedure).Observe(time.Since(start).Seconds())
	if err != nil {
		final := finalError(err, attempt)
		logger.Errorw("platform request failed",
			"procedure", procedure, "requestId", reqID, "attempts", attempt, "error", final.Error())
		return final
	}

	logger.Debugw("platform request succeeded",
		"procedure", procedure, "requestId", reqID, "attempts", attempt)

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return rterrors.New(http.StatusBadGateway, rterrors.CodeInvalidTRPCResponse,
			fmt.Sprintf("unexpected result shape from %s", procedure), err)
	}
	return nil
}

// attempt performs a single HTTP round trip and unwraps the envelope.
func (c *Client) attempt(ctx context.Context, procedure string, mutation bool, envelope []byte, reqID string) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/trpc/%s", c.baseURL, procedure)

	var (
		req *http.Request
		err error
	)
	if mutation {
		req, err = http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint+"?batch=1", bytes.NewReader(envelope))
		if err == nil {
			req.Header.Set("content-type", "application/json")
		}
	} else {
		params := url.Values{}
		params.Set("batch", "1")
		params.Set("input", string(envelope))
		req, err = http.NewRequestWithContext(attemptCtx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return nil, rterrors.NewInternal(fmt.Sprintf("failed to build request for %s", procedure), err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-request-id", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, rterrors.New(http.StatusGatewayTimeout, rterrors.CodeTimeout,
				fmt.Sprintf("platform request %s timed out", procedure), err)
		}
		return nil, rterrors.New(http.StatusBadGateway, rterrors.CodeNetworkError,
			fmt.Sprintf("platform request %s failed", procedure), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rterrors.New(http.StatusBadGateway, rterrors.CodeNetworkError,
			fmt.Sprintf("failed to read response from %s", procedure), err)
	}

	return unwrapEnvelope(procedure, resp.StatusCode, body)
}

// unwrapEnvelope validates the batched response and extracts the result
// payload with the unwrap precedence result.data.json > result.data > result.
func unwrapEnvelope(procedure string, httpStatus int, body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, rterrors.New(http.StatusBadGateway, rterrors.CodeInvalidJSONResponse,
			fmt.Sprintf("invalid JSON response from %s", procedure), nil).
			WithDetails(map[string]any{"httpStatus": httpStatus})
	}

	parsed := gjson.ParseBytes(body)
	env := parsed
	if parsed.IsArray() {
		env = parsed.Get("0")
		if !env.Exists() {
			return nil, rterrors.New(http.StatusBadGateway, rterrors.CodeInvalidTRPCResponse,
				fmt.Sprintf("empty batch response from %s", procedure), nil)
		}
	}

	if platformErr := env.Get("error"); platformErr.Exists() {
		message := platformErr.Get("message").String()
		if message == "" {
			message = fmt.Sprintf("platform error from %s", procedure)
		}
		code := platformErr.Get("data.code").String()
		status, ok := platformCodeStatus[code]
		if !ok {
			status = http.StatusBadGateway
		}
		if code == "" {
			code = rterrors.CodeNetworkError
		}
		return nil, rterrors.New(status, code, message, nil).
			WithDetails(map[string]any{"procedure": procedure, "httpStatus": httpStatus})
	}

	result := env.Get("result")
	if !result.Exists() {
		// A non-2xx body without an envelope still counts as an upstream
		// failure; preserve retryability of the transport status.
		if httpStatus < 200 || httpStatus >= 300 {
			return nil, rterrors.New(upstreamStatus(httpStatus), rterrors.CodeNetworkError,
				fmt.Sprintf("platform returned HTTP %d for %s", httpStatus, procedure), nil)
		}
		return nil, rterrors.New(http.StatusBadGateway, rterrors.CodeInvalidTRPCResponse,
			fmt.Sprintf("response from %s is missing result", procedure), nil)
	}

	for _, path := range []string{"data.json", "data"} {
		if v := result.Get(path); v.Exists() {
			return []byte(v.Raw), nil
		}
	}
	return []byte(result.Raw), nil
}

// upstreamStatus maps a raw transport status onto the status surfaced
// outward, keeping the retryable set intact and folding everything else to 502.
func upstreamStatus(httpStatus int) int {
	if _, ok := retryableStatuses[httpStatus]; ok {
		return httpStatus
	}
	return http.StatusBadGateway
}

// isRetryable reports whether the attempt error is worth re-attempting.
func isRetryable(err error) bool {
	re := rterrors.FromError(err)
	switch re.Code {
	case rterrors.CodeTimeout, rterrors.CodeNetworkError:
		return true
	}
	_, ok := retryableStatuses[re.Status]
	return ok
}

// finalError normalizes the terminal error of the retry loop. Retryable
// platform failures that exhausted the budget surface as RETRY_EXHAUSTED;
// timeouts and network failures keep their own codes.
func finalError(err error, attempts int) *rterrors.RuntimeError {
	re := rterrors.FromError(err)
	if !isRetryable(err) {
		return re
	}
	switch re.Code {
	case rterrors.CodeTimeout, rterrors.CodeNetworkError:
		return re
	}
	return rterrors.New(http.StatusBadGateway, rterrors.CodeRetryExhausted,
		fmt.Sprintf("platform request failed after %d attempts", attempts), re)
}

func logAttempt(procedure, reqID string, attempt int, retryable bool, err error) {
	if retryable {
		logger.Warnw("platform request attempt failed",
			"procedure", procedure, "requestId", reqID, "attempt", attempt,
			"retryable", true, "error", err.Error())
		return
	}
	logger.Debugw("platform request attempt failed",
		"procedure", procedure, "requestId", reqID, "attempt", attempt,
		"retryable", false, "error", err.Error())
}

// requireFields rejects empty required string fields locally, before dispatch.
func requireFields(procedure string, fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return rterrors.NewBadRequest(
				fmt.Sprintf("%s: missing required field %s", procedure, name), nil)
		}
	}
	return nil
}
