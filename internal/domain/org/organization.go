package org

import (
	"time"

	"github.com/finlake/finsync/internal/domain/provider"
)

// Organization is a tenant. Organizations are created and managed outside the
// sync core; the core only reads them.
type Organization struct {
	ID   int64
	Name string
}

// Integration binds an organization to one provider with its credentials.
// Settings is an opaque map that includes the per-provider credential keys.
type Integration struct {
	ID       int64
	OrgID    int64
	Kind     provider.Kind
	Settings map[string]string
}

// HasCredentials reports whether the integration carries a complete credential
// set for its provider kind.
func (i Integration) HasCredentials() bool {
	return provider.CredentialsPresent(i.Kind, i.Settings)
}

// AccessToken is a short-lived bearer token for one (integration, provider)
// pair. Rotated on refresh.
type AccessToken struct {
	IntegrationID int64
	Kind          provider.Kind
	Token         string
	ExpiresAt     time.Time
}

// ExpiresWithin reports whether the token expires inside the safety window
// measured from now.
func (t AccessToken) ExpiresWithin(window time.Duration, now time.Time) bool {
	return !t.ExpiresAt.After(now.Add(window))
}
