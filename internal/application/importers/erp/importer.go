// Package erp pulls ERP provider data into the warehouse. Reference tables
// reload whole; transactions and their lines stream through a keyset cursor.
package erp

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/persistence"
	providerapi "github.com/finlake/finsync/internal/adapters/providers/erp"
	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/domain/provider"
)

// Importer is the ERP provider pipeline for one integration and one date
// window.
type Importer struct {
	client    *providerapi.Client
	warehouse *persistence.Warehouse
	tokens    rest.TokenSource
	orgID     int64
	since     time.Time
	until     time.Time
	heartbeat func(ctx context.Context)
	logger    zerolog.Logger
}

// New creates the importer. until of zero means no upper bound; heartbeat may
// be nil.
func New(client *providerapi.Client, warehouse *persistence.Warehouse, tokens rest.TokenSource, orgID int64, since, until time.Time, heartbeat func(ctx context.Context), logger zerolog.Logger) *Importer {
	if heartbeat == nil {
		heartbeat = func(context.Context) {}
	}
	return &Importer{
		client:    client,
		warehouse: warehouse,
		tokens:    tokens,
		orgID:     orgID,
		since:     since,
		until:     until,
		heartbeat: heartbeat,
		logger:    logger.With().Str("provider", "erp").Int64("org_id", orgID).Logger(),
	}
}

// Kind identifies the provider.
func (i *Importer) Kind() provider.Kind { return provider.KindERP }

// Modules returns the pipeline in execution order. Subsidiaries and
// classifications are small enough to reload whole; transaction lines run
// last and with the reduced batch size.
func (i *Importer) Modules() []provider.Module {
	return []provider.Module{
		{Name: "subsidiaries", Run: i.importSubsidiaries},
		{Name: "classifications", Run: i.importClassifications},
		{Name: "accounts", Run: i.importAccounts},
		{Name: "vendors", Run: i.importVendors},
		{Name: "transactions", Run: i.importTransactions},
		{Name: "transaction_lines", Run: i.importTransactionLines},
	}
}

func (i *Importer) importSubsidiaries(ctx context.Context) (int, error) {
	records, err := i.client.ListSubsidiaries(ctx, i.tokens)
	if err != nil {
		return 0, err
	}
	rows := make([]persistence.ErpSubsidiaryModel, len(records))
	for n, r := range records {
		rows[n] = persistence.ErpSubsidiaryModel{
			OrgID:    i.orgID,
			RemoteID: r.ID,
			Name:     r.Name,
			Currency: r.Currency,
		}
	}
	if err := i.warehouse.Replace(ctx, &persistence.ErpSubsidiaryModel{}, i.orgID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (i *Importer) importClassifications(ctx context.Context) (int, error) {
	records, err := i.client.ListClassifications(ctx, i.tokens)
	if err != nil {
		return 0, err
	}
	rows := make([]persistence.ErpClassificationModel, len(records))
	for n, r := range records {
		rows[n] = persistence.ErpClassificationModel{
			OrgID:    i.orgID,
			RemoteID: r.ID,
			Name:     r.Name,
		}
	}
	if err := i.warehouse.Replace(ctx, &persistence.ErpClassificationModel{}, i.orgID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (i *Importer) importAccounts(ctx context.Context) (int, error) {
	records, err := i.client.ListAccounts(ctx, i.tokens)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]persistence.ErpAccountModel, len(records))
	for n, r := range records {
		rows[n] = persistence.ErpAccountModel{
			OrgID:    i.orgID,
			RemoteID: r.ID,
			Number:   r.Number,
			Name:     r.Name,
			Type:     r.Type,
		}
	}
	if err := i.warehouse.Upsert(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (i *Importer) importVendors(ctx context.Context) (int, error) {
	records, err := i.client.ListVendors(ctx, i.tokens)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	rows := make([]persistence.ErpVendorModel, len(records))
	for n, r := range records {
		rows[n] = persistence.ErpVendorModel{
			OrgID:    i.orgID,
			RemoteID: r.ID,
			Name:     r.Name,
			Email:    r.Email,
		}
	}
	if err := i.warehouse.Upsert(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (i *Importer) importTransactions(ctx context.Context) (int, error) {
	total := 0
	batches := 0
	every := i.warehouse.HeartbeatEvery()
	var cursor *providerapi.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		records, next, err := i.client.ListTransactions(ctx, i.tokens, i.since, i.until, cursor)
		if err != nil {
			return total, err
		}
		if len(records) > 0 {
			rows := make([]persistence.ErpTransactionModel, len(records))
			for n, r := range records {
				rows[n] = persistence.ErpTransactionModel{
					OrgID:        i.orgID,
					RemoteID:     r.ID,
					TranType:     r.TranType,
					TranDate:     r.TranDate,
					Amount:       r.Amount,
					LastModified: r.LastModified,
				}
			}
			if err := i.warehouse.Upsert(ctx, rows); err != nil {
				return total, err
			}
			total += len(rows)
		}

		batches++
		if every > 0 && batches%every == 0 {
			i.heartbeat(ctx)
		}
		if next == nil {
			return total, nil
		}
		cursor = next
	}
}

func (i *Importer) importTransactionLines(ctx context.Context) (int, error) {
	total := 0
	batches := 0
	every := i.warehouse.HeartbeatEvery()
	var cursor *providerapi.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		records, next, err := i.client.ListTransactionLines(ctx, i.tokens, i.since, i.until, cursor)
		if err != nil {
			return total, err
		}
		if len(records) > 0 {
			rows := make([]persistence.ErpTransactionLineModel, len(records))
			for n, r := range records {
				rows[n] = persistence.ErpTransactionLineModel{
					OrgID:         i.orgID,
					RemoteID:      r.ID,
					TransactionID: r.TransactionID,
					AccountID:     r.AccountID,
					Amount:        r.Amount,
					LastModified:  r.LastModified,
				}
			}
			if err := i.warehouse.UpsertHeavy(ctx, rows); err != nil {
				return total, err
			}
			total += len(rows)
		}

		batches++
		if every > 0 && batches%every == 0 {
			i.heartbeat(ctx)
		}
		if next == nil {
			return total, nil
		}
		cursor = next
	}
}
