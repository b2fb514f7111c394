package credential

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
)

// Transport attaches "Authorization: Bearer" to each request. A 401 or 403 response is
// turned into an error wrapping ErrAuthExpired, so the rejection stays with the request
// that caused it.
type Transport struct {
	base     http.RoundTripper
	provider Provider
}

// NewTransport wraps base (http.DefaultTransport when nil)
func NewTransport(base http.RoundTripper, provider Provider) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, provider: provider}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.provider.Token(req.Context())
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return nil, goerr.Wrap(err, "bearer token is not usable")
		}
		return nil, goerr.Wrap(err, "failed to get bearer token")
	}

	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, goerr.Wrap(ErrAuthExpired, "bearer token rejected",
			goerr.V("status", resp.StatusCode),
			goerr.V("url", req.URL.String()))
	}
	return resp, nil
}

// Refresh renews the underlying credential when the provider supports it
func (t *Transport) Refresh(ctx context.Context) error {
	if r, ok := t.provider.(Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return goerr.Wrap(err, "failed to refresh credential")
		}
	}
	return nil
}

// Client returns an http.Client using this transport
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
