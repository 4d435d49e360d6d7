// Package testkit provides a mock token issuer for tests: an in-process
// HTTP server publishing a JWK set plus helpers minting tokens signed by
// the matching private key. It lets processor, store, and mechanism
// tests exercise the real remote-JWKS round trip without an auth server.
//
//	issuer := testkit.NewIssuer("test-audience")
//	defer issuer.Close()
//	cfg.SetSigningLocation(issuer.JWKSURL())
//	token := issuer.Token("jane.doe", nil)
package testkit

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const keyID = "testkit-1"

// Issuer serves a JWK set at /.well-known/jwks.json and signs tokens
// that validate against it.
type Issuer struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	audience string
}

// NewIssuer generates a fresh RSA key pair and starts the JWKS server.
// Call Close when done.
func NewIssuer(audience string) *Issuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("testkit: generate RSA key: " + err.Error())
	}
	issuer := &Issuer{key: key, audience: audience}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", issuer.handleJWKS)
	issuer.server = httptest.NewServer(mux)
	return issuer
}

// URL returns the issuer's base URL, used as the iss claim.
func (i *Issuer) URL() string { return i.server.URL }

// JWKSURL returns the address of the published key set.
func (i *Issuer) JWKSURL() string { return i.server.URL + "/.well-known/jwks.json" }

// Audience returns the audience minted into tokens by default.
func (i *Issuer) Audience() string { return i.audience }

// Close shuts down the JWKS server.
func (i *Issuer) Close() { i.server.Close() }

// Token mints a signed token for subject with the standard claim set
// (iss, sub, aud, iat, jti, exp one hour out). Entries in extra are
// merged over the standard claims, so tests can override exp or drop in
// custom claims.
func (i *Issuer) Token(subject string, extra map[string]any) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": i.URL(),
		"sub": subject,
		"aud": i.audience,
		"iat": now.Unix(),
		"jti": uuid.NewString(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for name, value := range extra {
		if value == nil {
			delete(claims, name)
			continue
		}
		claims[name] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	signed, err := token.SignedString(i.key)
	if err != nil {
		panic("testkit: sign token: " + err.Error())
	}
	return signed
}

// handleJWKS writes the JWK set for the issuer's public key.
func (i *Issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := &i.key.PublicKey
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": keyID,
			"n":   base64URL(pub.N),
			"e":   base64URL(big.NewInt(int64(pub.E))),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func base64URL(i *big.Int) string {
	b := i.Bytes()
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
