// Package oauthflow is the client side of the authorization-code flow
// against the realm's OAuth2 provider: endpoint discovery from the
// configured issuer, code exchange, and authenticated reads of the
// configured info/profile endpoints.
package oauthflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/identigraph/assertkit/config"
)

const identityDomainHeader = "X-OAUTH-IDENTITY-DOMAIN-NAME"

// Flow holds the discovered provider configuration for one realm.
type Flow struct {
	issuer  string
	conf    *oauth2.Config
	info    string
	profile string
	domain  string
	client  *http.Client
}

type discoveryDoc struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
}

// New discovers the provider endpoints from the realm's oauthIssuer and
// builds the flow client using the configured client id and secret.
func New(ctx context.Context, cfg *config.Asserter, redirectURI string, scopes []string) (*Flow, error) {
	issuer := strings.TrimRight(cfg.OAuthIssuer(), "/")
	if issuer == "" {
		return nil, errors.New("oauthflow: oauthIssuer is not configured")
	}
	doc, err := discover(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return &Flow{
		issuer: issuer,
		conf: &oauth2.Config{
			ClientID:     cfg.OAuthClient(),
			ClientSecret: cfg.OAuthSecret(),
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  doc.AuthorizationEndpoint,
				TokenURL: doc.TokenEndpoint,
			},
		},
		info:    cfg.OAuthInfoEndpoint(),
		profile: cfg.OAuthProfileEndpoint(),
		domain:  cfg.OAuthDomain(),
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Issuer returns the issuer the flow was discovered from.
func (f *Flow) Issuer() string { return f.issuer }

// Config returns the underlying oauth2 configuration.
func (f *Flow) Config() *oauth2.Config { return f.conf }

// AuthURL builds the authorization URL for the given state.
func (f *Flow) AuthURL(state string, opts ...oauth2.AuthCodeOption) string {
	return f.conf.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a token set.
func (f *Flow) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	token, err := f.conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("oauthflow: exchange: %w", err)
	}
	return token, nil
}

// Info fetches the configured token-info endpoint with the access token.
func (f *Flow) Info(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	return f.get(ctx, f.info, token)
}

// Profile fetches the configured profile endpoint with the access token.
func (f *Flow) Profile(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	return f.get(ctx, f.profile, token)
}

func (f *Flow) get(ctx context.Context, endpoint string, token *oauth2.Token) (map[string]any, error) {
	if endpoint == "" {
		return nil, errors.New("oauthflow: endpoint is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	if f.domain != "" {
		req.Header.Set(identityDomainHeader, f.domain)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauthflow: get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oauthflow: get %s: %s", endpoint, resp.Status)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("oauthflow: decode %s: %w", endpoint, err)
	}
	return body, nil
}

func discover(ctx context.Context, issuer string) (*discoveryDoc, error) {
	url := issuer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oauthflow: discovery: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oauthflow: discovery failed: %s", resp.Status)
	}
	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	if discovered := strings.TrimRight(doc.Issuer, "/"); discovered != "" && discovered != issuer {
		return nil, fmt.Errorf("oauthflow: issuer mismatch: %s", doc.Issuer)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" {
		return nil, errors.New("oauthflow: discovery missing endpoints")
	}
	return &doc, nil
}
