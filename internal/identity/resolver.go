package identity

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ember-chat/internal/observability"
	"ember-chat/internal/repositories"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the rate-limiting and moderation subject of a connection.
// Key is the origin identity key: the bound account when a valid token is
// presented, otherwise the network address. It is never shown to
// non-privileged viewers.
type Identity struct {
	Key           string
	Handle        string
	AccountID     string
	GuardianUntil time.Time
}

// IsGuardian reports whether the identity holds an unexpired guardian grant.
func (i Identity) IsGuardian(now time.Time) bool {
	return !i.GuardianUntil.IsZero() && now.Before(i.GuardianUntil)
}

// Anonymous reports whether no account is bound.
func (i Identity) Anonymous() bool {
	return i.AccountID == ""
}

type accountClaims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// Resolver maps a connection's network address, and optionally a bearer
// token, to an Identity.
type Resolver struct {
	secret       []byte
	entitlements repositories.EntitlementRepository
}

// NewResolver constructs a Resolver. An empty secret disables account
// binding: every connection resolves anonymously.
func NewResolver(secret string, entitlements repositories.EntitlementRepository) *Resolver {
	return &Resolver{secret: []byte(secret), entitlements: entitlements}
}

// Resolve returns the identity of a request. An invalid token is an error;
// an absent token resolves to an anonymous, address-keyed identity.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (Identity, error) {
	ip := observability.IPFromRequest(req)

	token := bearerToken(req)
	if token == "" {
		return Identity{
			Key:    "ip:" + ip,
			Handle: AnonHandle(ip),
		}, nil
	}

	claims, err := r.parseToken(token)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{
		Key:       "acct:" + claims.Subject,
		Handle:    claims.Handle,
		AccountID: claims.Subject,
	}
	if id.Handle == "" {
		id.Handle = AnonHandle(ip)
	}

	if r.entitlements != nil {
		until, err := r.entitlements.GuardianUntil(ctx, id.AccountID)
		if err != nil {
			return Identity{}, fmt.Errorf("load entitlement: %w", err)
		}
		id.GuardianUntil = until
	}
	return id, nil
}

func (r *Resolver) parseToken(token string) (*accountClaims, error) {
	if len(r.secret) == 0 {
		return nil, ErrInvalidToken
	}

	claims := &accountClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

// AnonHandle derives a stable pseudonym from a network address so repeated
// visits from one origin read as the same author without exposing the
// address itself.
func AnonHandle(ip string) string {
	h := fnv.New32a()
	h.Write([]byte(ip))
	return fmt.Sprintf("anon-%06x", h.Sum32()&0xffffff)
}
