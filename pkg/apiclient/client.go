package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/toques-bi/toques/pkg/config"
	"github.com/toques-bi/toques/pkg/helpers"
	"github.com/toques-bi/toques/pkg/logger"
	"github.com/toques-bi/toques/pkg/payload"
)

const (
	authEndpoint     = "/v1/auth"
	defaultUserAgent = "toques-extractor"
)

var (
	ErrNoCredentials  = errors.New("either a server key or an email and password are required for the provider API")
	ErrAuthentication = errors.New("authentication against the provider API failed")
)

type AuthMode string

const (
	AuthServerKey AuthMode = "server_key"
	AuthBearer    AuthMode = "bearer"
)

// CallRecord describes a single HTTP attempt against the provider.
type CallRecord struct {
	ApplicationID string
	Endpoint      string
	HTTPStatus    int
	Duration      time.Duration
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    time.Time
}

type CallLogger interface {
	LogCall(ctx context.Context, rec CallRecord) error
}

type Client struct {
	config     config.API
	httpClient *http.Client
	calls      CallLogger
	logger     logger.Logger

	mode  AuthMode
	mu    sync.RWMutex
	token string

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewClient(c config.API, calls CallLogger, l logger.Logger) (*Client, error) {
	if c.BaseURL == "" {
		return nil, errors.New("base_url is required for the provider API")
	}

	var mode AuthMode
	switch {
	case c.ServerKey != "":
		mode = AuthServerKey
	case c.Email != "" && c.Password != "":
		mode = AuthBearer
	default:
		return nil, ErrNoCredentials
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	return &Client{
		config: c,
		httpClient: &http.Client{
			Timeout: c.Timeout,
		},
		calls:  calls,
		logger: l,
		mode:   mode,
		sleep:  sleepContext,
		now:    time.Now,
	}, nil
}

func (c *Client) Mode() AuthMode { return c.mode }

// Authenticate prepares the session credential. In server-key mode there is nothing to
// exchange; in bearer mode the email and password are traded for a token.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.mode == AuthServerKey {
		c.logger.Infow("using server key authentication")
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"email":    c.config.Email,
		"password": c.config.Password,
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal the auth payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+authEndpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create auth request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logCall(ctx, "", authEndpoint, 0, started, err.Error())
		return errors.Wrapf(ErrAuthentication, "request failed: %s", helpers.TruncateMessage(err.Error()))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logCall(ctx, "", authEndpoint, resp.StatusCode, started, err.Error())
		return errors.Wrap(ErrAuthentication, "failed to read auth response")
	}

	if !isSuccess(resp.StatusCode) {
		c.logCall(ctx, "", authEndpoint, resp.StatusCode, started, string(respBody))
		return errors.Wrapf(ErrAuthentication, "status %d: %s", resp.StatusCode, helpers.TruncateMessage(string(respBody)))
	}
	c.logCall(ctx, "", authEndpoint, resp.StatusCode, started, "")

	doc, err := payload.Parse(respBody)
	if err != nil {
		return errors.Wrap(ErrAuthentication, "auth response is not valid JSON")
	}

	token := doc.Root().String("token", "accessToken", "jwt")
	if token == "" {
		token = doc.Get("data").String("token", "accessToken", "jwt")
	}
	if token == "" {
		return errors.Wrap(ErrAuthentication, "no token found in the auth response")
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	c.logger.Infow("authenticated against the provider API", "mode", string(c.mode))
	return nil
}

// Get fetches a JSON document. Non-success responses other than 429 and 401 are logged and
// yield an empty document with a nil error; transport failures are returned once the retry
// budget is exhausted.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values, applicationID string) (payload.Document, error) {
	body, err := c.do(ctx, http.MethodGet, endpoint, params, nil, applicationID)
	if err != nil || body == nil {
		return payload.Document{}, err
	}

	doc, err := payload.Parse(body)
	if err != nil {
		return payload.Document{}, errors.Wrapf(err, "invalid response from %s", endpoint)
	}
	return doc, nil
}

// Post behaves like Get for the stats endpoints that expect a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, reqBody any, params url.Values, applicationID string) (payload.Document, error) {
	var encoded []byte
	if reqBody != nil {
		var err error
		encoded, err = json.Marshal(reqBody)
		if err != nil {
			return payload.Document{}, errors.Wrap(err, "failed to marshal the request body")
		}
	}

	body, err := c.do(ctx, http.MethodPost, endpoint, params, encoded, applicationID)
	if err != nil || body == nil {
		return payload.Document{}, err
	}

	doc, err := payload.Parse(body)
	if err != nil {
		return payload.Document{}, errors.Wrapf(err, "invalid response from %s", endpoint)
	}
	return doc, nil
}

// GetText fetches a delimited text export and normalizes its character encoding.
func (c *Client) GetText(ctx context.Context, endpoint string, params url.Values, applicationID string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, endpoint, params, nil, applicationID)
	if err != nil || body == nil {
		return "", err
	}

	return NormalizeText(body), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, reqBody []byte, applicationID string) ([]byte, error) {
	target := c.config.BaseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	reauthenticated := false
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.sleep(ctx, c.config.RequestDelay); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, method, target, reqBody)
		if err != nil {
			return nil, err
		}

		started := c.now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logCall(ctx, applicationID, endpoint, 0, started, err.Error())
			if attempt == c.config.MaxRetries {
				return nil, errors.Wrapf(err, "request to %s failed after %d attempts", endpoint, attempt)
			}
			c.logger.Warnw("request failed, retrying", "endpoint", endpoint, "application_id", applicationID, "attempt", attempt, "error", helpers.TruncateMessage(err.Error()))
			if err := c.sleep(ctx, c.retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			c.logCall(ctx, applicationID, endpoint, resp.StatusCode, started, readErr.Error())
			if attempt == c.config.MaxRetries {
				return nil, errors.Wrapf(readErr, "failed to read response from %s", endpoint)
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && c.mode == AuthBearer && !reauthenticated:
			c.logCall(ctx, applicationID, endpoint, resp.StatusCode, started, "token expired, re-authenticating")
			reauthenticated = true
			if err := c.Authenticate(ctx); err != nil {
				return nil, err
			}
			// the re-authentication does not consume an attempt
			attempt--
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			c.logCall(ctx, applicationID, endpoint, resp.StatusCode, started, "rate limited, backing off")
			if attempt == c.config.MaxRetries {
				c.logger.Warnw("rate limit retries exhausted", "endpoint", endpoint, "application_id", applicationID)
				return nil, statusError(ctx, endpoint, resp.StatusCode, "rate limit retries exhausted")
			}
			if err := c.sleep(ctx, c.retryDelay(attempt)); err != nil {
				return nil, err
			}
			continue

		case !isSuccess(resp.StatusCode):
			c.logCall(ctx, applicationID, endpoint, resp.StatusCode, started, string(respBody))
			c.logger.Warnw("provider returned a non-success status", "endpoint", endpoint, "application_id", applicationID, "status", resp.StatusCode)
			return nil, statusError(ctx, endpoint, resp.StatusCode, string(respBody))
		}

		c.logCall(ctx, applicationID, endpoint, resp.StatusCode, started, "")
		if respBody == nil {
			respBody = []byte{}
		}
		return respBody, nil
	}

	return nil, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", defaultUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch c.mode {
	case AuthServerKey:
		req.Header.Set("Authorization", "ServerKey "+c.config.ServerKey)
	case AuthBearer:
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return req, nil
}

func (c *Client) retryDelay(attempt int) time.Duration {
	return c.config.BackoffBase * time.Duration(1<<attempt)
}

func (c *Client) logCall(ctx context.Context, applicationID, endpoint string, status int, started time.Time, message string) {
	if c.calls == nil {
		return
	}

	finished := c.now()
	err := c.calls.LogCall(ctx, CallRecord{
		ApplicationID: applicationID,
		Endpoint:      endpoint,
		HTTPStatus:    status,
		Duration:      finished.Sub(started),
		ErrorMessage:  helpers.TruncateMessage(message),
		StartedAt:     started,
		FinishedAt:    finished,
	})
	if err != nil {
		c.logger.Warnw("failed to record the API call", "endpoint", endpoint, "error", err)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
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
