package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// discoveryDocument is the subset of an OpenID Connect discovery document we need
type discoveryDocument struct {
	Issuer        string `json:"issuer"`
	TokenEndpoint string `json:"token_endpoint"`
}

// Discover fetches the token endpoint from an OpenID Connect discovery URL
func Discover(ctx context.Context, client *http.Client, discoveryURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to build discovery request", goerr.V("url", discoveryURL))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", goerr.Wrap(err, "failed to fetch discovery document", goerr.V("url", discoveryURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", goerr.New("unexpected discovery status",
			goerr.V("url", discoveryURL),
			goerr.V("status", resp.StatusCode))
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", goerr.Wrap(err, "failed to decode discovery document", goerr.V("url", discoveryURL))
	}
	if doc.TokenEndpoint == "" {
		return "", goerr.New("discovery document has no token_endpoint", goerr.V("url", discoveryURL))
	}

	return doc.TokenEndpoint, nil
}

// ClientCredentials obtains tokens with the OAuth2 client credentials grant
type ClientCredentials struct {
	cfg    clientcredentials.Config
	client *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// ClientCredentialsInput holds the settings of NewClientCredentials
type ClientCredentialsInput struct {
	DiscoveryURL string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client
}

// NewClientCredentials resolves the token endpoint and prepares the grant. No token is
// requested until the first Token call.
func NewClientCredentials(ctx context.Context, in ClientCredentialsInput) (*ClientCredentials, error) {
	if in.DiscoveryURL == "" {
		return nil, goerr.New("discovery URL is required")
	}
	if in.ClientID == "" {
		return nil, goerr.New("client ID is required")
	}

	tokenURL, err := Discover(ctx, in.HTTPClient, in.DiscoveryURL)
	if err != nil {
		return nil, err
	}

	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     in.ClientID,
			ClientSecret: in.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       in.Scopes,
		},
		client: in.HTTPClient,
	}, nil
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token.AccessToken, nil
	}
	if err := c.fetch(ctx); err != nil {
		return "", err
	}
	return c.token.AccessToken, nil
}

func (c *ClientCredentials) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetch(ctx)
}

// Expiry returns the expiry of the current token, zero if none was fetched yet
func (c *ClientCredentials) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return time.Time{}
	}
	return c.token.Expiry
}

func (c *ClientCredentials) fetch(ctx context.Context) error {
	if c.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	}
	token, err := c.cfg.Token(ctx)
	if err != nil {
		return goerr.Wrap(err, "failed to obtain access token", goerr.V("token_url", c.cfg.TokenURL))
	}
	c.token = token
	return nil
}
