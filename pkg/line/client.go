// Package line is the outbound side of the LINE Messaging API: reply-token
// replies and pushes addressed by user id.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"linedesk/pkg/logger"
)

const (
	DefaultBaseURL  = "https://api.line.me"
	replyPath       = "/v2/bot/message/reply"
	pushPath        = "/v2/bot/message/push"
	retryKeyHeader  = "X-Line-Retry-Key"
	requestIDHeader = "X-Line-Request-Id"
)

var ErrMissingAccessToken = errors.New("LINE_CHANNEL_ACCESS_TOKEN not configured")

// APIError is a non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Line API error: %d - %s", e.StatusCode, e.Body)
}

// SentMessage identifies one message the platform accepted.
type SentMessage struct {
	ID         string `json:"id"`
	QuoteToken string `json:"quoteToken,omitempty"`
}

// Response is a 2xx answer from the platform.
type Response struct {
	StatusCode   int           `json:"statusCode"`
	RequestID    string        `json:"requestId,omitempty"`
	SentMessages []SentMessage `json:"sentMessages,omitempty"`
}

// StatusCode extracts the upstream status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Recorder receives dispatch failures; *logsink.Sink satisfies it.
type Recorder interface {
	Error(ctx context.Context, msg string, details any)
}

type Options struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	// MaxRetries applies to push only; reply tokens are single use.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Recorder   Recorder
}

type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
	recorder    Recorder
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		accessToken: strings.TrimSpace(opts.AccessToken),
		httpClient:  httpClient,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		recorder:    opts.Recorder,
	}
}

// Configured reports whether an access token is available.
func (c *Client) Configured() bool { return c.accessToken != "" }

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyPayload struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushPayload struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

func text(s string) []textMessage {
	return []textMessage{{Type: "text", Text: s}}
}

// Reply answers an inbound event through its reply token. It is attempted
// once.
func (c *Client) Reply(ctx context.Context, replyToken, msg string) (Response, error) {
	if replyToken == "" {
		return Response{}, fmt.Errorf("line reply: empty reply token")
	}
	payload := replyPayload{ReplyToken: replyToken, Messages: text(msg)}
	return c.send(ctx, c.accessToken, replyPath, payload, 0, "")
}

// Push sends msg to userID with the configured token.
func (c *Client) Push(ctx context.Context, userID, msg string) (Response, error) {
	return c.PushWithToken(ctx, c.accessToken, userID, msg)
}

// PushWithToken is Push with an explicit access token. Retries reuse one
// X-Line-Retry-Key so the platform delivers at most once.
func (c *Client) PushWithToken(ctx context.Context, token, userID, msg string) (Response, error) {
	if userID == "" {
		return Response{}, fmt.Errorf("line push: empty user id")
	}
	payload := pushPayload{To: userID, Messages: text(msg)}
	return c.send(ctx, strings.TrimSpace(token), pushPath, payload, c.maxRetries, uuid.NewString())
}

func (c *Client) send(ctx context.Context, token, path string, payload any, maxRetries int, retryKey string) (Response, error) {
	if token == "" {
		logger.Error("line_token_missing", "path", path)
		c.record(ctx, ErrMissingAccessToken.Error(), nil)
		return Response{}, ErrMissingAccessToken
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	url := c.baseURL + path
	logger.Debug("line_request", "path", path, "token_length", len(token), "retry_key", retryKey)

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return Response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		if retryKey != "" {
			req.Header.Set(retryKeyHeader, retryKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries && ctx.Err() == nil {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return Response{}, waitErr
				}
				continue
			}
			logger.Error("line_request_failed", "path", path, "attempt", attempt+1, "error", err)
			c.record(ctx, "Line API request failed", map[string]any{"path": path, "error": err.Error()})
			return Response{}, fmt.Errorf("line %s: %w", path, err)
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		if readErr != nil {
			return Response{}, readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			out := decodeResponse(resp, respBody)
			logger.Info("line_request_ok",
				"path", path,
				"status", resp.StatusCode,
				"attempt", attempt+1,
				"request_id", out.RequestID,
				"sent_messages", len(out.SentMessages),
			)
			return out, nil
		}
		// 409 means an earlier attempt with the same retry key already landed
		if resp.StatusCode == http.StatusConflict && retryKey != "" && attempt > 0 {
			logger.Info("line_request_deduplicated", "path", path, "retry_key", retryKey)
			return Response{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(requestIDHeader)}, nil
		}
		if retryable(resp.StatusCode) && attempt < maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return Response{}, waitErr
			}
			continue
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		logger.Error("line_api_error",
			"path", path,
			"status", apiErr.StatusCode,
			"body", apiErr.Body,
			"access_token_provided", true,
			"token_length", len(token),
		)
		c.record(ctx, "Line API error", map[string]any{
			"status":              apiErr.StatusCode,
			"body":                apiErr.Body,
			"payload":             payload,
			"accessTokenProvided": true,
			"tokenLength":         len(token),
		})
		return Response{}, apiErr
	}
}

// decodeResponse reads the success body. Reply answers with {} and push with
// the accepted message ids; a body that is not JSON is logged and skipped.
func decodeResponse(resp *http.Response, body []byte) Response {
	out := Response{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(requestIDHeader)}
	if len(bytes.TrimSpace(body)) == 0 {
		return out
	}
	if err := json.Unmarshal(body, &out); err != nil {
		logger.Warn("line_response_unreadable", "status", resp.StatusCode, "body", string(body), "error", err)
	}
	out.StatusCode = resp.StatusCode
	out.RequestID = resp.Header.Get(requestIDHeader)
	return out
}

func (c *Client) record(ctx context.Context, msg string, details any) {
	if c.recorder != nil {
		c.recorder.Error(ctx, msg, details)
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
