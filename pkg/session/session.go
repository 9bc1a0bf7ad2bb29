// Package session holds the per-connection gateway state: where the gateway
// lives, the bearer token, and the guard that keeps at most one background
// image generation in flight.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
)

type Session struct {
	ID        string
	BaseURL   string
	CreatedAt time.Time

	mu     sync.RWMutex
	token  string
	closed bool

	image *semaphore.Weighted
}

func New(baseURL string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		BaseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		CreatedAt: time.Now().UTC(),
		image:     semaphore.NewWeighted(1),
	}
}

// SetToken stores the bearer token. Only the first non-empty token is kept;
// the session is bound to one credential for its lifetime.
func (s *Session) SetToken(token string) bool {
	token = strings.TrimSpace(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || s.token != "" {
		return false
	}
	s.token = token
	return true
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) HasToken() bool {
	return s.Token() != ""
}

// TokenSource exposes the bearer token to an oauth2.Transport.
func (s *Session) TokenSource() oauth2.TokenSource {
	return tokenSource{s}
}

type tokenSource struct{ s *Session }

func (ts tokenSource) Token() (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: ts.s.Token(), TokenType: "Bearer"}, nil
}

// TryAcquireImage takes the image guard if it is free. A caller that gets
// false must drop its trigger; nothing is queued.
func (s *Session) TryAcquireImage() bool {
	return s.image.TryAcquire(1)
}

func (s *Session) ReleaseImage() {
	s.image.Release(1)
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
