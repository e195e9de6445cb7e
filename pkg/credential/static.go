package credential

import "context"

// StaticAcquirer yields a preconfigured token. It exists so deployments with
// a manually supplied credential go through the same refresh machinery as
// browser-extracted ones; a refresh re-yields the configured token, and the
// gateway surfaces upstream-unavailable if the upstream rejects it again.
type StaticAcquirer struct {
	token string
}

// NewStaticAcquirer creates an acquirer for a preconfigured token.
func NewStaticAcquirer(token string) *StaticAcquirer {
	return &StaticAcquirer{token: token}
}

// Acquire returns the configured token as a fresh Credential.
func (a *StaticAcquirer) Acquire(_ context.Context) (*Credential, error) {
	if a.token == "" {
		return nil, &AuthenticationError{Reason: "no preconfigured token available"}
	}
	cred := New(a.token, SourcePreconfigured)
	return &cred, nil
}
