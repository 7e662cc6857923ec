package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/notify-core/internal/infrastructure/mqtt"
)

// BackendSubject is the principal the service itself uses on the broker.
// Broker events carrying it are the service's own traffic.
const BackendSubject = "backend"

// defaultBrokerTokenTTL applies when the issuer is built with a zero TTL.
const defaultBrokerTokenTTL = time.Hour

// ACL actions and permissions as understood by the broker's JWT
// authorisation (EMQX "acl" claim, rule-list form).
const (
	ActionSubscribe = "subscribe"
	ActionPublish   = "publish"

	PermissionAllow = "allow"
	PermissionDeny  = "deny"
)

// ACLRule is one entry of the "acl" claim.
type ACLRule struct {
	Permission string `json:"permission"`
	Action     string `json:"action"`
	Topic      string `json:"topic"`
}

// BrokerClaims is the JWT payload presented to the broker as the MQTT
// password. Field order is fixed so the encoding is reproducible.
type BrokerClaims struct {
	jwt.RegisteredClaims
	Username string    `json:"username"`
	ACL      []ACLRule `json:"acl"`
}

// Token is a signed broker credential. Components other than the issuer
// treat Raw as an opaque string.
type Token struct {
	Raw       string
	Subject   string
	ACL       []ACLRule
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// String returns the encoded token.
func (t Token) String() string { return t.Raw }

// Expired reports whether the token is no longer valid at now.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenIssuer mints and validates broker tokens with a shared HMAC key.
// The same key, claims and issuance instant always produce the same token.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer signing with secret. A zero ttl falls
// back to one hour.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = defaultBrokerTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// IssueBackendToken returns full-access credentials for the service's own
// broker connection: subscribe and publish on every topic.
func (i *TokenIssuer) IssueBackendToken() (Token, error) {
	return i.issue(BackendSubject, []ACLRule{
		{Permission: PermissionAllow, Action: ActionSubscribe, Topic: "#"},
		{Permission: PermissionAllow, Action: ActionPublish, Topic: "#"},
	})
}

// IssueUserToken returns device credentials for userID: subscribe within
// the user's own namespace, publish nowhere.
func (i *TokenIssuer) IssueUserToken(userID string) (Token, error) {
	if userID == "" {
		return Token{}, ErrInvalidSubject
	}
	return i.issue(userID, []ACLRule{
		{Permission: PermissionAllow, Action: ActionSubscribe, Topic: mqtt.Topics{}.UserNamespace(userID)},
		{Permission: PermissionDeny, Action: ActionPublish, Topic: "#"},
	})
}

func (i *TokenIssuer) issue(subject string, acl []ACLRule) (Token, error) {
	// Second precision keeps the encoded iat/exp identical to the struct.
	issued := i.now().UTC().Truncate(time.Second)
	expires := issued.Add(i.ttl)

	claims := BrokerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Username: subject,
		ACL:      acl,
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("signing broker token: %w", err)
	}

	return Token{Raw: raw, Subject: subject, ACL: acl, IssuedAt: issued, ExpiresAt: expires}, nil
}

// ParseBrokerToken validates signature and expiry of raw and returns the
// decoded token.
func (i *TokenIssuer) ParseBrokerToken(raw string) (Token, error) {
	var claims BrokerClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Token{}, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return Token{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return Token{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	tok := Token{Raw: raw, Subject: claims.Subject, ACL: claims.ACL, ExpiresAt: claims.ExpiresAt.Time}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	return tok, nil
}

// BackendCredentials caches the backend token and reissues it only once it
// has expired. Its Credentials method satisfies the broker client's
// credentials provider.
type BackendCredentials struct {
	issuer *TokenIssuer

	mu     sync.Mutex
	cached Token
}

// NewBackendCredentials wraps issuer for use by the broker client.
func NewBackendCredentials(issuer *TokenIssuer) *BackendCredentials {
	return &BackendCredentials{issuer: issuer}
}

// Credentials returns the MQTT username and password for the backend
// connection. The broker client calls it before every connection attempt.
func (c *BackendCredentials) Credentials() (username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached.Raw == "" || c.cached.Expired(c.issuer.now()) {
		tok, err := c.issuer.IssueBackendToken()
		if err != nil {
			// HS256 signing with a []byte key does not fail in practice;
			// an empty password makes the broker reject the attempt.
			return BackendSubject, ""
		}
		c.cached = tok
	}
	return BackendSubject, c.cached.Raw
}
