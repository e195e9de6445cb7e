// Package credential manages the upstream session credential: the value type,
// the durable store with lock-free reads, and the de-duplicated refresh path.
package credential

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Source records how a credential was obtained.
type Source string

const (
	// SourceExtracted marks credentials pulled out of an automated browser login.
	SourceExtracted Source = "extracted"
	// SourceManual marks credentials supplied by an operator at runtime.
	SourceManual Source = "manual"
	// SourcePreconfigured marks credentials read from configuration.
	SourcePreconfigured Source = "preconfigured"
)

// Credential is the session token used to authenticate against the upstream
// chat service, plus its validity metadata. Values are replaced, never
// mutated in place.
type Credential struct {
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
	Source     Source    `json:"source"`
}

// New builds a Credential for token acquired now, decoding the expiry from
// the token when possible.
func New(token string, source Source) Credential {
	return Credential{
		Token:      token,
		AcquiredAt: time.Now(),
		ExpiresAt:  DecodeExpiry(token),
		Source:     source,
	}
}

// DecodeExpiry extracts the expiry timestamp from a JWT session token. The
// token is parsed without signature verification: the gateway is a consumer
// of the token, not its verifier, and only needs the exp claim to schedule
// refreshes. Returns the zero time when the token is not a JWT or carries
// no exp claim.
func DecodeExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
