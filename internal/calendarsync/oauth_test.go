package calendarsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func fakeTokenServer(t *testing.T, handler http.HandlerFunc) *OAuth {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOAuth(OAuthConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://agenda.example.com/oauth/google/callback",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Timeout: 2 * time.Second,
	})
}

func TestOAuth_AuthCodeURLRequestsOfflineAccess(t *testing.T) {
	o := NewOAuth(OAuthConfig{ClientID: "client", RedirectURL: "https://agenda.example.com/cb"})
	u, err := url.Parse(o.AuthCodeURL("signed-state"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "signed-state", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.True(t, q.Get("prompt") == "consent" || q.Get("approval_prompt") == "force")
	assert.Contains(t, q.Get("scope"), "calendar.events")
}

func TestOAuth_RefreshReturnsNewToken(t *testing.T) {
	o := fakeTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`))
	})

	tok, err := o.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestOAuth_InvalidGrantIsRefreshFailure(t *testing.T) {
	o := fakeTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
	})

	_, err := o.Refresh(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrTokenRefreshFailed)
	assert.False(t, IsRetryable(err))
}

func TestOAuth_ServerErrorIsRetryable(t *testing.T) {
	o := fakeTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := o.Refresh(context.Background(), "refresh-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenRefreshFailed)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.True(t, pe.Retryable())
}

func TestOAuth_MissingRefreshToken(t *testing.T) {
	_, err := NewOAuth(OAuthConfig{}).Refresh(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenRefreshFailed)
}

func TestOAuth_Exchange(t *testing.T) {
	o := fakeTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a","refresh_token":"r","token_type":"Bearer","expires_in":3600}`))
	})

	tok, err := o.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "r", tok.RefreshToken)
}
