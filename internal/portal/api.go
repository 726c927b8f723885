// File: internal/portal/api.go
package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"mpesa-portal/internal/infra/logging"
)

// Gateway endpoint paths. The auth family and the token endpoint are the two
// classes exempt from automatic bearer attachment (see envelope.go).
const (
	PathCSRF         = "/api/v1/auth/csrf"
	PathLogin        = "/api/v1/auth/login"
	PathLogout       = "/api/v1/auth/logout"
	PathMe           = "/api/v1/auth/me"
	PathOAuthToken   = "/api/v1/oauth/token/"
	PathSTKPush      = "/api/v1/online/lipa"
	PathC2BRegister  = "/api/v1/c2b/register"
	PathB2CBulk      = "/api/v1/b2c/bulk"
	PathB2BBulk      = "/api/v1/b2b/bulk"
	PathTransactions = "/api/v1/transactions/all"
	PathCallbackLogs = "/api/v1/admin/logs/callbacks"
)

// EnsureCSRF primes the anti-forgery cookie before the first unsafe request.
func (c *Client) EnsureCSRF(ctx context.Context) error {
	res, err := c.getJSON(ctx, PathCSRF)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("csrf fetch: status %d", res.Status)
	}
	return nil
}

// Identity reports the gateway's view of the current session.
type Identity struct {
	Authenticated bool
	Username      string
	IsStaff       bool
}

func (c *Client) WhoAmI(ctx context.Context) (Identity, Response, error) {
	res, err := c.getJSON(ctx, PathMe)
	if err != nil {
		return Identity{}, Response{}, err
	}
	var id Identity
	if obj, ok := res.JSON.(map[string]any); ok {
		id.Authenticated, _ = obj["authenticated"].(bool)
		id.Username, _ = obj["username"].(string)
		id.IsStaff, _ = obj["is_staff"].(bool)
	}
	return id, res, nil
}

// Login establishes a staff session. The CSRF cookie is fetched first when
// the jar does not hold one yet.
func (c *Client) Login(ctx context.Context, username, password string) (Response, error) {
	defer logging.TraceDuration(c.log, "Client.Login")()
	if c.cookieValue(csrfCookieName) == "" {
		if err := c.EnsureCSRF(ctx); err != nil {
			return Response{}, err
		}
	}
	return c.postJSON(ctx, PathLogin, map[string]string{
		"username": username,
		"password": password,
	})
}

func (c *Client) Logout(ctx context.Context) (Response, error) {
	return c.postJSON(ctx, PathLogout, map[string]string{})
}

// IssueToken performs the client-credentials grant. The form content type is
// set explicitly: this endpoint does not speak JSON.
func (c *Client) IssueToken(ctx context.Context, clientID, clientSecret string) (string, Response, error) {
	defer logging.TraceDuration(c.log, "Client.IssueToken")()
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := c.Do(ctx, PathOAuthToken, RequestOptions{
		Method: http.MethodPost,
		Header: header,
		Body:   []byte(form.Encode()),
	})
	if err != nil {
		return "", Response{}, err
	}
	var token string
	if obj, ok := res.JSON.(map[string]any); ok {
		token, _ = obj["access_token"].(string)
	}
	return token, res, nil
}

// STKPushRequest is the initiation payload for a push payment.
type STKPushRequest struct {
	Amount      int64  `json:"amount"`
	PhoneNumber string `json:"phone_number"`
	PartyA      string `json:"party_a,omitempty"`
}

// STKPush initiates a push payment. On a 2xx response the returned identifier
// set holds whatever correlation fields the gateway produced; it may be empty,
// in which case no poll session can be started.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (CorrelationIDs, Response, error) {
	defer logging.TraceDuration(c.log, "Client.STKPush")()
	res, err := c.postJSON(ctx, PathSTKPush, req)
	if err != nil {
		return CorrelationIDs{}, Response{}, err
	}
	if !res.OK() {
		return CorrelationIDs{}, res, nil
	}
	return ExtractCorrelationIDs(res.JSON), res, nil
}

// RegisterC2B registers the confirmation and validation webhook URLs.
func (c *Client) RegisterC2B(ctx context.Context, confirmationURL, validationURL string) (Response, error) {
	return c.postJSON(ctx, PathC2BRegister, map[string]string{
		"confirmation_url": confirmationURL,
		"validation_url":   validationURL,
	})
}

// BulkItem is one disbursement row in a B2C or B2B batch.
type BulkItem struct {
	Amount      int64  `json:"amount"`
	PhoneNumber string `json:"phone_number,omitempty"`
	ShortCode   string `json:"short_code,omitempty"`
	Remarks     string `json:"remarks,omitempty"`
}

func (c *Client) B2CBulk(ctx context.Context, items []BulkItem) (Response, error) {
	return c.postJSON(ctx, PathB2CBulk, map[string]any{"items": items})
}

func (c *Client) B2BBulk(ctx context.Context, items []BulkItem) (Response, error) {
	return c.postJSON(ctx, PathB2BBulk, map[string]any{"items": items})
}

func (c *Client) Transactions(ctx context.Context) (Response, error) {
	return c.getJSON(ctx, PathTransactions)
}

// CallbackLogs lists stored gateway callbacks (staff session required).
func (c *Client) CallbackLogs(ctx context.Context, limit int) (Response, error) {
	path := PathCallbackLogs
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	return c.getJSON(ctx, path)
}
