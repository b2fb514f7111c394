package credential

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrAuthExpired is returned when the held token is past its validity window
	ErrAuthExpired = goerr.New("credential expired")

	errNoToken = goerr.New("no access token configured")
)

// Provider supplies the bearer token attached to gateway requests
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// Refresher replaces the held token with a fresh one
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Static holds a token obtained out-of-band. When a token file is configured, Refresh
// re-reads it so an external process can rotate the token before it expires.
type Static struct {
	mu        sync.RWMutex
	token     string
	expiry    time.Time
	tokenFile string
	validity  time.Duration
	now       func() time.Time
}

// StaticOption configures Static
type StaticOption func(*Static)

// WithExpiry sets the absolute expiry of the initial token
func WithExpiry(t time.Time) StaticOption {
	return func(s *Static) {
		s.expiry = t
	}
}

// WithTokenFile makes Refresh reload the token from path. validity is applied to each
// loaded token (zero means no local expiry check).
func WithTokenFile(path string, validity time.Duration) StaticOption {
	return func(s *Static) {
		s.tokenFile = path
		s.validity = validity
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) StaticOption {
	return func(s *Static) {
		s.now = now
	}
}

// NewStatic creates a Static provider. If token is empty and a token file is set, the
// file is read immediately.
func NewStatic(token string, opts ...StaticOption) (*Static, error) {
	s := &Static{
		token: strings.TrimSpace(token),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.token == "" && s.tokenFile != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	if s.token == "" {
		return nil, errNoToken
	}
	return s, nil
}

func (s *Static) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.expiry.IsZero() && !s.now().Before(s.expiry) {
		return "", goerr.Wrap(ErrAuthExpired, "static token expired", goerr.V("expiry", s.expiry))
	}
	return s.token, nil
}

func (s *Static) Refresh(ctx context.Context) error {
	if s.tokenFile == "" {
		return goerr.New("static token cannot be refreshed without a token file")
	}
	return s.load()
}

func (s *Static) load() error {
	raw, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return goerr.Wrap(err, "failed to read token file", goerr.V("path", s.tokenFile))
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return goerr.Wrap(errNoToken, "token file is empty", goerr.V("path", s.tokenFile))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiry = time.Time{}
	if s.validity > 0 {
		s.expiry = s.now().Add(s.validity)
	}
	return nil
}
