// Package registry binds provider kinds to their importer pipelines. The
// binding is a static table fixed at startup; supporting a new provider means
// adding a row here and recompiling.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/persistence"
	accountingapi "github.com/finlake/finsync/internal/adapters/providers/accounting"
	erpapi "github.com/finlake/finsync/internal/adapters/providers/erp"
	posapi "github.com/finlake/finsync/internal/adapters/providers/pos"
	accountingimp "github.com/finlake/finsync/internal/application/importers/accounting"
	erpimp "github.com/finlake/finsync/internal/application/importers/erp"
	posimp "github.com/finlake/finsync/internal/application/importers/pos"
	"github.com/finlake/finsync/internal/application/tokens"
	"github.com/finlake/finsync/internal/domain/org"
	"github.com/finlake/finsync/internal/domain/provider"
)

// Factory builds an importer for one integration and date window. A nil
// heartbeat is allowed.
type Factory func(integration org.Integration, since, until time.Time, heartbeat func(ctx context.Context)) provider.Importer

// Registry is the static provider table.
type Registry struct {
	factories map[provider.Kind]Factory
}

// Deps carries everything the importer factories close over.
type Deps struct {
	Accounting *accountingapi.Client
	ERP        *erpapi.Client
	POS        *posapi.Client
	Warehouse  *persistence.Warehouse
	Tokens     *tokens.Manager
	Logger     zerolog.Logger
}

// New builds the registry. The table is complete here; nothing registers
// later.
func New(deps Deps) *Registry {
	return &Registry{
		factories: map[provider.Kind]Factory{
			provider.KindAccounting: func(integration org.Integration, since, until time.Time, heartbeat func(ctx context.Context)) provider.Importer {
				return accountingimp.New(
					deps.Accounting,
					deps.Warehouse,
					deps.Tokens.Source(integration),
					integration.Settings["accounting_tenant_id"],
					integration.OrgID,
					since, until, heartbeat,
					deps.Logger,
				)
			},
			provider.KindERP: func(integration org.Integration, since, until time.Time, heartbeat func(ctx context.Context)) provider.Importer {
				return erpimp.New(
					deps.ERP,
					deps.Warehouse,
					deps.Tokens.Source(integration),
					integration.OrgID,
					since, until, heartbeat,
					deps.Logger,
				)
			},
			provider.KindPOS: func(integration org.Integration, since, until time.Time, heartbeat func(ctx context.Context)) provider.Importer {
				return posimp.New(
					deps.POS,
					deps.Warehouse,
					deps.Tokens.Source(integration),
					integration.Settings["pos_location_guid"],
					integration.OrgID,
					since, until, heartbeat,
					deps.Logger,
				)
			},
		},
	}
}

// Importer builds the pipeline for an integration's provider kind.
func (r *Registry) Importer(integration org.Integration, since, until time.Time, heartbeat func(ctx context.Context)) (provider.Importer, error) {
	factory, ok := r.factories[integration.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q", integration.Kind)
	}
	return factory(integration, since, until, heartbeat), nil
}

// Supported reports whether the kind has a registered pipeline.
func (r *Registry) Supported(kind provider.Kind) bool {
	_, ok := r.factories[kind]
	return ok
}

// Authenticators returns the per-kind credential exchange functions used by
// the token manager. Lives here so the provider table stays in one file.
func Authenticators(accounting *accountingapi.Client, erp *erpapi.Client, pos *posapi.Client) map[provider.Kind]tokens.AuthenticateFunc {
	return map[provider.Kind]tokens.AuthenticateFunc{
		provider.KindAccounting: func(ctx context.Context, integration org.Integration) (string, time.Time, error) {
			return accounting.Authenticate(ctx,
				integration.Settings["accounting_client_id"],
				integration.Settings["accounting_client_secret"])
		},
		provider.KindERP: func(ctx context.Context, integration org.Integration) (string, time.Time, error) {
			return erp.Authenticate(ctx,
				integration.Settings["erp_account_id"],
				integration.Settings["erp_consumer_key"],
				integration.Settings["erp_consumer_secret"])
		},
		provider.KindPOS: func(ctx context.Context, integration org.Integration) (string, time.Time, error) {
			return pos.Authenticate(ctx,
				integration.Settings["pos_client_id"],
				integration.Settings["pos_client_secret"])
		},
	}
}
