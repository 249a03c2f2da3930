package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPProviderWithClient(srv.URL+"/", "Username-Password-Authentication", srv.Client())
}

func TestHTTPProvider_CreateIdentity(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/users", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@x.com", body["email"])
		assert.Equal(t, "secret1", body["password"])
		assert.Equal(t, "alice", body["name"])
		assert.Equal(t, "Username-Password-Authentication", body["connection"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"user_id":"auth0|abc"}`))
	})

	ref, err := p.CreateIdentity(context.Background(), "a@x.com", "secret1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "auth0|abc", ref)
}

func TestHTTPProvider_CreateIdentity_Conflict(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"The user already exists."}`))
	})

	_, err := p.CreateIdentity(context.Background(), "a@x.com", "secret1", "alice")
	require.Error(t, err)
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "create", ie.Op)
	assert.Equal(t, http.StatusConflict, ie.Status)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestHTTPProvider_UpdateIdentity_SendsOnlyChangedFields(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v2/users/auth0|abc", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"email": "new@x.com", "connection": "Username-Password-Authentication"}, body)
		_, _ = w.Write([]byte(`{}`))
	})

	email := "new@x.com"
	require.NoError(t, p.UpdateIdentity(context.Background(), "auth0|abc", Fields{Email: &email}))
}

func TestHTTPProvider_UpdateIdentity_EmptyIsNoop(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	assert.NoError(t, p.UpdateIdentity(context.Background(), "auth0|abc", Fields{}))
}

func TestHTTPProvider_DeleteIdentity_MissingIsSuccess(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})
	assert.NoError(t, p.DeleteIdentity(context.Background(), "auth0|gone"))
}

func TestHTTPProvider_DeleteIdentity_ServerError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"maintenance"}`))
	})

	err := p.DeleteIdentity(context.Background(), "auth0|abc")
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, http.StatusServiceUnavailable, ie.Status)
	assert.Contains(t, err.Error(), "maintenance")
}

func TestHTTPProvider_Timeout(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.DeleteIdentity(ctx, "auth0|slow")
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Zero(t, ie.Status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
