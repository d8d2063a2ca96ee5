package resilientbridge

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/pkcs12"
	"golang.org/x/oauth2"

	"github.com/SynergyMesh-master/KeyStonOps-sub004/internal/clock"
)

// Credential supplies the authentication header for an outbound call. Token
// acquisition and refresh belong to the implementation; the transport only
// sees the resulting header.
type Credential interface {
	AuthHeader(ctx context.Context) (name, value string, err error)
}

// BearerToken sends "Authorization: Bearer <token>".
type BearerToken string

func (t BearerToken) AuthHeader(context.Context) (string, string, error) {
	return "Authorization", "Bearer " + string(t), nil
}

// BasicAuth sends RFC 7617 basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) AuthHeader(context.Context) (string, string, error) {
	raw := b.Username + ":" + b.Password
	return "Authorization", "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// DefaultAPIKeyHeader is used when APIKey.Header is empty.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey sends a static key in a named header, optionally prefixed.
type APIKey struct {
	Header string
	Prefix string
	Key    string
}

func (k APIKey) AuthHeader(context.Context) (string, string, error) {
	header := k.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	if k.Prefix != "" {
		return header, k.Prefix + " " + k.Key, nil
	}
	return header, k.Key, nil
}

// OAuth2Credential reads the current token from an external token source.
type OAuth2Credential struct {
	source oauth2.TokenSource
}

// NewOAuth2Credential wraps src so a valid token is reused until it expires.
func NewOAuth2Credential(src oauth2.TokenSource) *OAuth2Credential {
	return &OAuth2Credential{source: oauth2.ReuseTokenSource(nil, src)}
}

func (o *OAuth2Credential) AuthHeader(context.Context) (string, string, error) {
	tok, err := o.source.Token()
	if err != nil {
		return "", "", fmt.Errorf("oauth2 token: %w", err)
	}
	return "Authorization", tok.Type() + " " + tok.AccessToken, nil
}

// JWTCredential mints short-lived self-signed bearer tokens, as used by app
// style integrations (for example GitHub Apps). A token is reused until less
// than a fifth of its lifetime remains.
type JWTCredential struct {
	Key      any
	Method   jwt.SigningMethod
	Issuer   string
	Subject  string
	Audience string
	TTL      time.Duration
	Clock    clock.Clock

	mu      sync.Mutex
	token   string
	expires time.Time
}

func (j *JWTCredential) AuthHeader(context.Context) (string, string, error) {
	tok, err := j.current()
	if err != nil {
		return "", "", err
	}
	return "Authorization", "Bearer " + tok, nil
}

func (j *JWTCredential) current() (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	clk := clock.OrReal(j.Clock)
	now := clk.Now()
	ttl := j.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if j.token != "" && j.expires.Sub(now) > ttl/5 {
		return j.token, nil
	}

	method := j.Method
	if method == nil {
		method = jwt.SigningMethodRS256
	}
	claims := jwt.RegisteredClaims{
		Issuer: j.Issuer,
		// Backdated to tolerate clock drift on the verifying side.
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        fmt.Sprintf("%d", now.UnixNano()),
	}
	if j.Subject != "" {
		claims.Subject = j.Subject
	}
	if j.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.Audience}
	}

	signed, err := jwt.NewWithClaims(method, claims).SignedString(j.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %w", err)
	}
	j.token = signed
	j.expires = now.Add(ttl)
	return signed, nil
}

// LoadRSASigningKey reads an RSA private key for JWTCredential from PEM data,
// or from a PKCS#12 bundle when password is non-empty.
func LoadRSASigningKey(data []byte, password string) (*rsa.PrivateKey, error) {
	if password == "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PEM key: %w", err)
		}
		return key, nil
	}

	privateKey, _, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pkcs12: %w", err)
	}
	rsaKey, ok := privateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}
