package notary

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/twitchtv/twirp"
	"github.com/yiplee/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	sessionTTL    = 24 * time.Hour
	challengeSkew = 5 * time.Minute
)

// Challenge is the text a nym signs to open a session.
func Challenge(notaryID, nymID string, at time.Time) string {
	return fmt.Sprintf("notary:%s:%s:%d", notaryID, nymID, at.Unix())
}

func extractBearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	return strings.TrimPrefix(token, "Bearer ")
}

// issueToken checks a signed challenge and returns a session token for
// the nym.
func (s *Server) issueToken(nymID string, at time.Time, signature string) (string, error) {
	now := s.notary.now()
	if at.Before(now.Add(-challengeSkew)) || at.After(now.Add(challengeSkew)) {
		return "", twirp.InvalidArgumentError("timestamp", "challenge out of range")
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return "", twirp.InvalidArgumentError("signature", "invalid hex")
	}

	payload := []byte(Challenge(s.notary.ID(), nymID, at))
	if err := s.notary.verifySignature(nymID, payload, sig); err != nil {
		return "", twirp.Unauthenticated.Error(err.Error())
	}

	claims := jwt.StandardClaims{
		Issuer:    s.cfg.Issuer,
		Subject:   nymID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(sessionTTL).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *Server) handleAuth() func(next http.Handler) http.Handler {
	var (
		nyms = cache.New[string, *Nym]()
		sf   singleflight.Group
	)

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := extractBearerToken(r)

			var claim jwt.StandardClaims
			if _, err := jwt.ParseWithClaims(token, &claim, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}

				return []byte(s.cfg.Secret), nil
			}); err != nil {
				_ = twirp.WriteError(w, twirp.Unauthenticated.Error(err.Error()))
				return
			}

			if claim.Issuer != s.cfg.Issuer {
				_ = twirp.WriteError(w, twirp.NewError(twirp.Unauthenticated, "auth required"))
				return
			}

			nym, err, _ := sf.Do(token, func() (interface{}, error) {
				if n, ok := nyms.Get(token); ok {
					return n, nil
				}

				n, err := s.notary.lookupNym(claim.Subject)
				if err != nil {
					return nil, err
				}

				nyms.Set(token, n)
				return n, nil
			})

			if err != nil {
				_ = twirp.WriteError(w, twirp.Unauthenticated.Error(err.Error()))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithNym(ctx, nym.(*Nym))))
		}

		return http.HandlerFunc(fn)
	}
}
