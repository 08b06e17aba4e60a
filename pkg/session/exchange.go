package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"pocketchat/internal/usertoken"
	"pocketchat/pkg/domain"
)

const (
	defaultCredentialTTL = time.Hour
	// storeAudience and storeRole are what the message store's row policies
	// expect on an end-user credential.
	storeAudience = "authenticated"
	storeRole     = "authenticated"
)

// ErrExchange marks a rejected ID token or a failed credential mint.
var ErrExchange = errors.New("token exchange failed")

// IDTokenVerifier validates identity-provider ID tokens.
type IDTokenVerifier interface {
	Verify(ctx context.Context, token string) (usertoken.Claims, error)
}

// ExchangerConfig configures the token hand-off.
type ExchangerConfig struct {
	Verifier IDTokenVerifier
	// Secret signs store credentials (HS256), shared with the message store.
	Secret string
	// Issuer is the iss claim of minted credentials.
	Issuer string
	TTL    time.Duration
}

// Exchanger turns a verified identity-provider ID token into a message-store
// session and installs it in a Holder.
type Exchanger struct {
	verifier IDTokenVerifier
	secret   []byte
	issuer   string
	ttl      time.Duration
	holder   *Holder
	now      func() time.Time
}

// NewExchanger validates cfg and binds the exchanger to holder.
func NewExchanger(cfg ExchangerConfig, holder *Holder) (*Exchanger, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("id token verifier required")
	}
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("store jwt secret required")
	}
	if holder == nil {
		return nil, errors.New("session holder required")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = "pocketchat"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCredentialTTL
	}
	return &Exchanger{
		verifier: cfg.Verifier,
		secret:   []byte(secret),
		issuer:   issuer,
		ttl:      ttl,
		holder:   holder,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// SignIn verifies idToken, mints the store credential and installs the session.
func (e *Exchanger) SignIn(ctx context.Context, idToken string) (domain.Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return domain.Identity{}, fmt.Errorf("%w: id token required", ErrExchange)
	}
	claims, err := e.verifier.Verify(ctx, idToken)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	ownerID := OwnerIDForSubject(claims.Subject)
	now := e.now()
	expiresAt := now.Add(e.ttl)
	// Never outlive the upstream token.
	if !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(expiresAt) {
		expiresAt = claims.ExpiresAt
	}
	credential, err := e.mint(ownerID, claims.Email, now, expiresAt)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: mint credential: %v", ErrExchange, err)
	}
	identity := domain.Identity{OwnerID: ownerID, Credential: credential}
	e.holder.Set(identity, expiresAt)
	return identity, nil
}

// SignOut clears the session.
func (e *Exchanger) SignOut() {
	e.holder.Clear()
}

type storeClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (e *Exchanger) mint(ownerID, email string, now, expiresAt time.Time) (string, error) {
	claims := storeClaims{
		Email: email,
		Role:  storeRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    e.issuer,
			Subject:   ownerID,
			Audience:  jwt.ClaimStrings{storeAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
}

// OwnerIDForSubject maps an identity-provider subject to a stable uuid owner id.
func OwnerIDForSubject(subject string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("pocketchat:subject:"+subject)).String()
}
