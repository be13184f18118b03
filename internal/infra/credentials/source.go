package credentials

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Source serves the Replicate token. A token from the environment always
// wins; otherwise the table is re-read at most once per ttl, so a token
// written by cmd/replicatekey takes effect on running servers.
type Source struct {
	store      *Store
	configured string
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	token   string
	fetched time.Time
}

func NewSource(store *Store, configured string, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Source{store: store, configured: strings.TrimSpace(configured), ttl: ttl, now: time.Now}
}

// Token returns the current token. A failed refresh keeps serving the last
// token read and reports the error only when there is none.
func (s *Source) Token(ctx context.Context) (string, error) {
	if s.configured != "" {
		return s.configured, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.fetched.IsZero() && now.Sub(s.fetched) < s.ttl {
		return s.token, nil
	}
	token, err := s.store.Resolve(ctx, "")
	if err != nil {
		if s.token != "" {
			return s.token, nil
		}
		return "", err
	}
	s.token, s.fetched = token, now
	return token, nil
}
