package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/iliyamo/account-admin/internal/config"
)

// HTTPProvider manages users through an Auth0-style management API:
//
//	POST   /api/v2/users
//	PATCH  /api/v2/users/{id}
//	DELETE /api/v2/users/{id}
//
// Requests are authenticated with a client-credentials token that the
// oauth2 transport fetches and refreshes on its own.
type HTTPProvider struct {
	baseURL    string
	connection string
	httpClient *http.Client
}

// NewHTTPProvider builds a provider authenticated with the configured
// client credentials.
func NewHTTPProvider(cfg config.IdentityProviderConfig) *HTTPProvider {
	base := strings.TrimSuffix(cfg.Domain, "/")
	cc := clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       base + "/oauth/token",
		EndpointParams: url.Values{"audience": {cfg.Audience}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	// token requests use their own client; per-call deadlines come from ctx
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 10 * time.Second})
	return NewHTTPProviderWithClient(base, cfg.Connection, cc.Client(tokenCtx))
}

// NewHTTPProviderWithClient uses hc as is.  Tests pass a plain client
// pointed at an httptest server.
func NewHTTPProviderWithClient(baseURL, connection string, hc *http.Client) *HTTPProvider {
	return &HTTPProvider{baseURL: strings.TrimSuffix(baseURL, "/"), connection: connection, httpClient: hc}
}

type createUserReq struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Connection string `json:"connection"`
}

type updateUserReq struct {
	Email      *string `json:"email,omitempty"`
	Password   *string `json:"password,omitempty"`
	Name       *string `json:"name,omitempty"`
	Connection string  `json:"connection,omitempty"`
}

type userResp struct {
	UserID string `json:"user_id"`
}

// CreateIdentity creates the remote user and returns its user_id.
func (p *HTTPProvider) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	body := createUserReq{Email: email, Password: password, Name: displayName, Connection: p.connection}
	var out userResp
	if err := p.do(ctx, "create", http.MethodPost, "/api/v2/users", body, &out, http.StatusCreated, http.StatusOK); err != nil {
		return "", err
	}
	if out.UserID == "" {
		return "", &Error{Op: "create", Err: errors.New("empty user_id in response")}
	}
	return out.UserID, nil
}

// UpdateIdentity patches the given fields.  Email and password changes
// must name the connection they belong to.
func (p *HTTPProvider) UpdateIdentity(ctx context.Context, ref string, f Fields) error {
	if f.Empty() {
		return nil
	}
	body := updateUserReq{Email: f.Email, Password: f.Password, Name: f.DisplayName}
	if f.Email != nil || f.Password != nil {
		body.Connection = p.connection
	}
	return p.do(ctx, "update", http.MethodPatch, "/api/v2/users/"+url.PathEscape(ref), body, nil, http.StatusOK)
}

// DeleteIdentity removes the remote user.  A user that is already gone
// counts as deleted, which keeps compensation and reconciliation
// idempotent.
func (p *HTTPProvider) DeleteIdentity(ctx context.Context, ref string) error {
	err := p.do(ctx, "delete", http.MethodDelete, "/api/v2/users/"+url.PathEscape(ref), nil, nil, http.StatusNoContent, http.StatusOK)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (p *HTTPProvider) do(ctx context.Context, op, method, path string, in, out any, okStatus ...int) error {
	var rdr io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("new request: %w", err)}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := p.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer res.Body.Close()

	for _, s := range okStatus {
		if res.StatusCode == s {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(res.Body).Decode(out); err != nil {
				return &Error{Op: op, Status: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
			}
			return nil
		}
	}

	msg := readMessage(res.Body)
	switch res.StatusCode {
	case http.StatusNotFound:
		return &Error{Op: op, Status: res.StatusCode, Err: ErrNotFound}
	case http.StatusConflict:
		return &Error{Op: op, Status: res.StatusCode, Err: ErrConflict}
	}
	return &Error{Op: op, Status: res.StatusCode, Err: errors.New(msg)}
}

// readMessage pulls the "message" field of an error body, falling back to
// the raw (truncated) body.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "unexpected response"
}
