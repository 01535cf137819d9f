// Package accounting pulls ledger provider data into the warehouse, module by
// module.
package accounting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/persistence"
	providerapi "github.com/finlake/finsync/internal/adapters/providers/accounting"
	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/domain/provider"
)

// Importer is the accounting provider pipeline for one integration and one
// date window.
type Importer struct {
	client    *providerapi.Client
	warehouse *persistence.Warehouse
	tokens    rest.TokenSource
	tenantID  string
	orgID     int64
	since     time.Time
	until     time.Time
	heartbeat func(ctx context.Context)
	logger    zerolog.Logger
}

// New creates the importer. until of zero means no upper bound; heartbeat may
// be nil.
func New(client *providerapi.Client, warehouse *persistence.Warehouse, tokens rest.TokenSource, tenantID string, orgID int64, since, until time.Time, heartbeat func(ctx context.Context), logger zerolog.Logger) *Importer {
	if heartbeat == nil {
		heartbeat = func(context.Context) {}
	}
	return &Importer{
		client:    client,
		warehouse: warehouse,
		tokens:    tokens,
		tenantID:  tenantID,
		orgID:     orgID,
		since:     since,
		until:     until,
		heartbeat: heartbeat,
		logger:    logger.With().Str("provider", "accounting").Int64("org_id", orgID).Logger(),
	}
}

// Kind identifies the provider.
func (i *Importer) Kind() provider.Kind { return provider.KindAccounting }

// Modules returns the pipeline in execution order: reference data first so
// transactional rows land against known accounts and contacts.
func (i *Importer) Modules() []provider.Module {
	return []provider.Module{
		{Name: "accounts", Run: i.importAccounts},
		{Name: "contacts", Run: i.importContacts},
		{Name: "invoices", Run: i.importInvoices},
		{Name: "bank_transactions", Run: i.importBankTransactions},
		{Name: "journals", Run: i.importJournals},
		{Name: "payments", Run: i.importPayments},
	}
}

// inWindow reports whether a record's remote modification time falls inside
// the import window. The lower bound travels as If-Modified-Since; the upper
// bound is applied here.
func (i *Importer) inWindow(updatedAt time.Time) bool {
	if i.until.IsZero() {
		return true
	}
	return updatedAt.Before(i.until)
}

// paginate drives one collection: fetch pages until a short or empty page,
// write each batch, heartbeat between batches. fetch reports how many records
// the page carried and how many survived the window filter; pagination
// terminates on fetched, the module total counts stored rows only.
func (i *Importer) paginate(ctx context.Context, fetch func(page int) (fetched, stored int, err error)) (int, error) {
	total := 0
	batches := 0
	every := i.warehouse.HeartbeatEvery()
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		fetched, stored, err := fetch(page)
		if err != nil {
			return total, err
		}
		total += stored

		batches++
		if every > 0 && batches%every == 0 {
			i.heartbeat(ctx)
		}
		if fetched < i.client.PageSize() {
			return total, nil
		}
	}
}

func (i *Importer) importAccounts(ctx context.Context) (int, error) {
	return i.paginate(ctx, func(page int) (int, int, error) {
		records, err := i.client.ListAccounts(ctx, i.tokens, i.tenantID, i.since, page)
		if err != nil || len(records) == 0 {
			return 0, 0, err
		}
		rows := make([]persistence.LedgerAccountModel, 0, len(records))
		for _, r := range records {
			if !i.inWindow(r.UpdatedAt) {
				continue
			}
			rows = append(rows, persistence.LedgerAccountModel{
				OrgID:     i.orgID,
				RemoteID:  r.ID,
				Code:      r.Code,
				Name:      r.Name,
				Type:      r.Type,
				UpdatedAt: r.UpdatedAt,
			})
		}
		if len(rows) == 0 {
			return len(records), 0, nil
		}
		if err := i.warehouse.Upsert(ctx, rows); err != nil {
			return 0, 0, err
		}
		return len(records), len(rows), nil
	})
}

func (i *Importer) importContacts(ctx context.Context) (int, error) {
	return i.paginate(ctx, func(page int) (int, int, error) {
		records, err := i.client.ListContacts(ctx, i.tokens, i.tenantID, i.since, page)
		if err != nil || len(records) == 0 {
			return 0, 0, err
		}
		rows := make([]persistence.LedgerContactModel, 0, len(records))
		for _, r := range records {
			if !i.inWindow(r.UpdatedAt) {
				continue
			}
			rows = append(rows, persistence.LedgerContactModel{
				OrgID:     i.orgID,
				RemoteID:  r.ID,
				Name:      r.Name,
				Email:     r.Email,
				UpdatedAt: r.UpdatedAt,
			})
		}
		if len(rows) == 0 {
			return len(records), 0, nil
		}
		if err := i.warehouse.Upsert(ctx, rows); err != nil {
			return 0, 0, err
		}
		return len(records), len(rows), nil
	})
}

func (i *Importer) importInvoices(ctx context.Context) (int, error) {
	return i.paginate(ctx, func(page int) (int, int, error) {
		records, err := i.client.ListInvoices(ctx, i.tokens, i.tenantID, i.since, page)
		if err != nil || len(records) == 0 {
			return 0, 0, err
		}
		rows := make([]persistence.LedgerInvoiceModel, 0, len(records))
		for _, r := range records {
			if !i.inWindow(r.UpdatedAt) {
				continue
			}
			rows = append(rows, persistence.LedgerInvoiceModel{
				OrgID:      i.orgID,
				RemoteID:   r.ID,
				ContactID:  r.ContactID,
				Status:     r.Status,
				Currency:   r.Currency,
				Total:      r.Total,
				IssuedDate: r.IssuedDate,
				UpdatedAt:  r.UpdatedAt,
			})
		}
		if len(rows) == 0 {
			return len(records), 0, nil
		}
		if err := i.warehouse.Upsert(ctx, rows); err != nil {
			return 0, 0, err
		}
		return len(records), len(rows), nil
	})
}

func (i *Importer) importBankTransactions(ctx context.Context) (int, error) {
	return i.paginate(ctx, func(page int) (int, int, error) {
		records, err := i.client.ListBankTransactions(ctx, i.tokens, i.tenantID, i.since, page)
		if err != nil || len(records) == 0 {
			return 0, 0, err
		}
		rows := make([]persistence.LedgerBankTransactionModel, 0, len(records))
		for _, r := range records {
			if !i.inWindow(r.UpdatedAt) {
				continue
			}
			rows = append(rows, persistence.LedgerBankTransactionModel{
				OrgID:     i.orgID,
				RemoteID:  r.ID,
				AccountID: r.AccountID,
				Type:      r.Type,
				Amount:    r.Amount,
				Date:      r.Date,
				UpdatedAt: r.UpdatedAt,
			})
		}
		if len(rows) == 0 {
			return len(records), 0, nil
		}
		if err := i.warehouse.Upsert(ctx, rows); err != nil {
			return 0, 0, err
		}
		return len(records), len(rows), nil
	})
}

func (i *Importer) importJournals(ctx context.Context) (int, error) {
	return i.paginate(ctx, func(page int) (int, int, error) {
		records, err := i.client.ListJournals(ctx, i.tokens, i.tenantID, i.since, page)
		if err != nil || len(records) == 0 {
			return 0, 0, err
		}
		rows := make([]persistence.LedgerJournalModel, 0, len(records))
		for _, r := range records {
			if !i.inWindow(r.UpdatedAt) {
				continue
			}
			rows = append(rows, persistence.LedgerJournalModel{
				OrgID:       i.orgID,
				RemoteID:    r.ID,
				JournalDate: r.JournalDate,
				Narration:   r.Narration,
				UpdatedAt:   r.UpdatedAt,
			})
		}
		if len(rows) == 0 {
			return len(records), 0, nil
		}
		if err := i.warehouse.Upsert(ctx, rows); err != nil {
			return 0, 0, err
		}
		return len(records), len(rows), nil
	})
}

func (i *Importer) importPayments(ctx context.Context) (int, error) {
	return i.paginate(ctx, func(page int) (int, int, error) {
		records, err := i.client.ListPayments(ctx, i.tokens, i.tenantID, i.since, page)
		if err != nil || len(records) == 0 {
			return 0, 0, err
		}
		rows := make([]persistence.LedgerPaymentModel, 0, len(records))
		for _, r := range records {
			if !i.inWindow(r.UpdatedAt) {
				continue
			}
			rows = append(rows, persistence.LedgerPaymentModel{
				OrgID:     i.orgID,
				RemoteID:  r.ID,
				InvoiceID: r.InvoiceID,
				Amount:    r.Amount,
				Date:      r.Date,
				UpdatedAt: r.UpdatedAt,
			})
		}
		if len(rows) == 0 {
			return len(records), 0, nil
		}
		if err := i.warehouse.Upsert(ctx, rows); err != nil {
			return 0, 0, err
		}
		return len(records), len(rows), nil
	})
}
