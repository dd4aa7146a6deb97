// Package auth obtains bearer tokens from the platform's OpenID Connect
// token endpoint using the resource owner password grant.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
)

var ErrUnknownEnvironment = errors.New("invalid environment specified")

// Credentials of one platform user.
type Credentials struct {
	Username    string
	Password    string
	Environment string
	TenantCode  string
}

// Complete is true when there is enough to ask for a token. The environment
// defaults to prod1.
func (c Credentials) Complete() bool {
	return c.Username != "" && c.Password != "" && c.TenantCode != ""
}

type Client struct {
	http *http.Client
	cfg  model.Auth
}

func New(cfg model.Auth, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{http: hc, cfg: cfg}
}

// Token asks the realm endpoint of the environment for an access token.
// Non-2xx statuses are returned as *oauth2.RetrieveError.
func (c *Client) Token(ctx context.Context, creds Credentials) (string, error) {
	env := creds.Environment
	if env == "" {
		env = model.EnvironmentProd1
	}
	realm, ok := c.cfg.Realms[env]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}

	conf := oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  fmt.Sprintf(realm, url.PathEscape(creds.TenantCode)),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := conf.PasswordCredentialsToken(ctx, creds.Username, creds.Password)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
