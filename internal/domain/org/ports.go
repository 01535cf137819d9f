package org

import "context"

// OrganizationRepository reads tenant organizations.
type OrganizationRepository interface {
	// ListSyncable returns organizations that have at least one integration,
	// in stable ascending ID order.
	ListSyncable(ctx context.Context) ([]Organization, error)
	FindByID(ctx context.Context, id int64) (*Organization, error)
}

// IntegrationRepository reads provider integrations.
type IntegrationRepository interface {
	ListByOrg(ctx context.Context, orgID int64) ([]Integration, error)
	ListAll(ctx context.Context) ([]Integration, error)
	FindByID(ctx context.Context, id int64) (*Integration, error)
}

// TokenRepository stores provider access tokens per integration.
type TokenRepository interface {
	Find(ctx context.Context, integrationID int64) (*AccessToken, error)
	Save(ctx context.Context, token *AccessToken) error
}
