package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionLifetime is how long an authenticated session stays valid.
const sessionLifetime = 72 * time.Hour

const sessionCookie = "farm_session"

// sessions tracks authenticated clients. Tokens live server-side; the
// cookie carries the token plus an HMAC over it keyed by the farm secret
// so a forged cookie never reaches the map lookup.
type sessions struct {
	mu      sync.Mutex
	secret  []byte
	expires map[string]time.Time
}

func newSessions(secret []byte) *sessions {
	return &sessions{
		secret:  secret,
		expires: map[string]time.Time{},
	}
}

// issue creates a session and returns the signed cookie value.
func (s *sessions) issue() string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for tok, exp := range s.expires {
		if exp.Before(now) {
			delete(s.expires, tok)
		}
	}
	s.expires[token] = now.Add(sessionLifetime)

	return token + "." + s.sign(token)
}

// check validates a cookie value: signature first, then server-side
// lookup and expiry.
func (s *sessions) check(value string) bool {
	token, sig, ok := strings.Cut(value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(s.sign(token))) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.expires[token]
	return ok && exp.After(time.Now())
}

func (s *sessions) sign(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}
