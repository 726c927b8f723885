// File: internal/portal/envelope.go
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"mpesa-portal/internal/config"
	"mpesa-portal/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const (
	authPathPrefix = "/api/v1/auth/"
	oauthTokenPath = "/api/v1/oauth/token/"

	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
)

// Response is the uniform outcome of every portal call: the verbatim status
// code plus a body normalized to parsed JSON, raw text, or nothing.
type Response struct {
	Status int
	JSON   any    // parsed JSON body; nil when the body was not JSON or failed to parse
	Text   string // raw body when the response did not declare JSON
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// RequestOptions mirror the knobs a caller may set per request. Everything
// left zero is defaulted by Do.
type RequestOptions struct {
	Method string // defaults to GET
	Header http.Header
	Body   []byte
}

// Client is the transport envelope: it decorates every outbound call with the
// correct credential, defaults the content type, and normalizes the response.
// Session cookies ride the underlying jar implicitly and are never suppressed.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	creds    CredentialStore
	envToken string // deploy-time fallback bearer token
	log      *zerolog.Logger
}

// NewClient builds a portal client for the configured gateway. The credential
// store may be nil, in which case only the configured fallback token applies.
func NewClient(cfg config.PortalConfig, creds CredentialStore, logger *zerolog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("portal base url must be absolute: %q", cfg.BaseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	if creds == nil {
		creds = NewMemoryTokenStore()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  base,
		http:     &http.Client{Jar: jar, Timeout: timeout},
		creds:    creds,
		envToken: strings.TrimSpace(cfg.OAuthToken),
		log:      logger,
	}, nil
}

// Credentials exposes the bearer-token slot for save/clear operations.
func (c *Client) Credentials() CredentialStore { return c.creds }

// Do performs one normalized call. A returned error means the request never
// produced a status line (network failure, cancellation); every HTTP outcome,
// including 4xx/5xx, comes back as a Response instead.
func (c *Client) Do(ctx context.Context, path string, opt RequestOptions) (Response, error) {
	method := strings.ToUpper(opt.Method)
	if method == "" {
		method = http.MethodGet
	}

	ref, err := url.Parse(path)
	if err != nil {
		return Response{}, fmt.Errorf("parse path: %w", err)
	}
	target := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if len(opt.Body) > 0 {
		body = bytes.NewReader(opt.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range opt.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// Attach the stored (or configured) bearer token unless the caller set an
	// explicit Authorization header. The auth family and the token-issuance
	// endpoint never get one: the former speaks the session dialect, the
	// latter would be circular.
	if req.Header.Get("Authorization") == "" && !bearerExempt(ref.Path) {
		token := c.creds.Load()
		if token == "" {
			token = c.envToken
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	// Echo the anti-forgery cookie on state-changing methods. A missing
	// cookie is the server's problem to reject, not ours to invent.
	if unsafeMethod(method) && req.Header.Get(csrfHeaderName) == "" {
		if token := c.cookieValue(csrfCookieName); token != "" {
			req.Header.Set(csrfHeaderName, token)
		}
	}

	if len(opt.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	class := classify(ref.Path)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.IncRequestError(class)
		c.log.Warn().Str("method", method).Str("path", ref.Path).Err(err).Msg("portal request failed")
		return Response{}, err
	}
	defer resp.Body.Close()

	metrics.IncRequest(class, resp.StatusCode)
	metrics.ObserveRequestLatency(class, float64(time.Since(start).Milliseconds()))

	out := Response{Status: resp.StatusCode}
	raw, readErr := io.ReadAll(resp.Body)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if readErr == nil {
			// Parse failure leaves JSON nil rather than surfacing an error.
			_ = json.Unmarshal(raw, &out.JSON)
		}
	} else if readErr == nil {
		out.Text = string(raw)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", ref.Path).
		Int("status", out.Status).
		Dur("duration", time.Since(start)).
		Msg("portal request")
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string) (Response, error) {
	return c.Do(ctx, path, RequestOptions{})
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) (Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("encode body: %w", err)
	}
	return c.Do(ctx, path, RequestOptions{Method: http.MethodPost, Body: b})
}

// cookieValue reads a cookie previously set by the gateway out of the jar.
func (c *Client) cookieValue(name string) string {
	if c.http.Jar == nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func bearerExempt(path string) bool {
	return strings.HasPrefix(path, authPathPrefix) || path == oauthTokenPath
}

func unsafeMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func classify(path string) string {
	switch {
	case strings.HasPrefix(path, authPathPrefix):
		return "auth"
	case path == oauthTokenPath:
		return "token"
	default:
		return "api"
	}
}
