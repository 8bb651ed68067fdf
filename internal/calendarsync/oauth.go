package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// OAuthConfig configures the Google authorization code flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides Google's endpoints; tests point it at a fake server.
	Endpoint *oauth2.Endpoint
	Timeout  time.Duration
}

// OAuth performs code exchange and refresh-token grants.
type OAuth struct {
	cfg        *oauth2.Config
	httpClient *http.Client
}

func NewOAuth(c OAuthConfig) *OAuth {
	endpoint := google.Endpoint
	if c.Endpoint != nil {
		endpoint = *c.Endpoint
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{calendar.CalendarEventsScope, calendar.CalendarReadonlyScope},
		},
		httpClient: &http.Client{Timeout: c.Timeout},
	}
}

// AuthCodeURL builds the consent URL. Offline access with forced consent
// makes Google return a refresh token on every connect.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.cfg.Exchange(o.withClient(ctx), code)
	if err != nil {
		return nil, providerErr("exchange code", err)
	}
	return tok, nil
}

// Refresh runs the refresh-token grant. A revoked or unknown refresh token
// yields ErrTokenRefreshFailed.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrTokenRefreshFailed)
	}
	src := o.cfg.TokenSource(o.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "unauthorized_client") {
			return nil, fmt.Errorf("%w: %s", ErrTokenRefreshFailed, re.ErrorCode)
		}
		return nil, providerErr("refresh token", err)
	}
	return tok, nil
}

func (o *OAuth) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

func providerErr(op string, err error) error {
	pe := &ProviderError{Op: op, Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		pe.StatusCode = re.Response.StatusCode
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		pe.Timeout = true
	}
	return pe
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
