// Package pos pulls POS provider data into the warehouse. Restaurants and
// menus reload whole; orders and payments stream through a keyset cursor.
package pos

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/persistence"
	providerapi "github.com/finlake/finsync/internal/adapters/providers/pos"
	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/domain/provider"
)

// Importer is the POS provider pipeline for one integration and one date
// window.
type Importer struct {
	client       *providerapi.Client
	warehouse    *persistence.Warehouse
	tokens       rest.TokenSource
	locationGuid string
	orgID        int64
	since        time.Time
	until        time.Time
	heartbeat    func(ctx context.Context)
	logger       zerolog.Logger
}

// New creates the importer. until of zero means no upper bound; heartbeat may
// be nil.
func New(client *providerapi.Client, warehouse *persistence.Warehouse, tokens rest.TokenSource, locationGuid string, orgID int64, since, until time.Time, heartbeat func(ctx context.Context), logger zerolog.Logger) *Importer {
	if heartbeat == nil {
		heartbeat = func(context.Context) {}
	}
	return &Importer{
		client:       client,
		warehouse:    warehouse,
		tokens:       tokens,
		locationGuid: locationGuid,
		orgID:        orgID,
		since:        since,
		until:        until,
		heartbeat:    heartbeat,
		logger:       logger.With().Str("provider", "pos").Int64("org_id", orgID).Logger(),
	}
}

// Kind identifies the provider.
func (i *Importer) Kind() provider.Kind { return provider.KindPOS }

// Modules returns the pipeline in execution order.
func (i *Importer) Modules() []provider.Module {
	return []provider.Module{
		{Name: "restaurants", Run: i.importRestaurants},
		{Name: "menus", Run: i.importMenus},
		{Name: "orders", Run: i.importOrders},
		{Name: "payments", Run: i.importPayments},
	}
}

func (i *Importer) importRestaurants(ctx context.Context) (int, error) {
	records, err := i.client.ListRestaurants(ctx, i.tokens, i.locationGuid)
	if err != nil {
		return 0, err
	}
	rows := make([]persistence.PosRestaurantModel, len(records))
	for n, r := range records {
		rows[n] = persistence.PosRestaurantModel{
			OrgID:    i.orgID,
			Guid:     r.Guid,
			Name:     r.Name,
			Timezone: r.Timezone,
			Address:  r.Address,
		}
	}
	if err := i.warehouse.Replace(ctx, &persistence.PosRestaurantModel{}, i.orgID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (i *Importer) importMenus(ctx context.Context) (int, error) {
	records, err := i.client.ListMenus(ctx, i.tokens, i.locationGuid)
	if err != nil {
		return 0, err
	}
	rows := make([]persistence.PosMenuModel, len(records))
	for n, r := range records {
		rows[n] = persistence.PosMenuModel{
			OrgID:          i.orgID,
			Guid:           r.Guid,
			RestaurantGuid: r.RestaurantGuid,
			Name:           r.Name,
		}
	}
	if err := i.warehouse.Replace(ctx, &persistence.PosMenuModel{}, i.orgID, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (i *Importer) importOrders(ctx context.Context) (int, error) {
	total := 0
	batches := 0
	every := i.warehouse.HeartbeatEvery()
	var cursor *providerapi.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		records, next, err := i.client.ListOrders(ctx, i.tokens, i.locationGuid, i.since, i.until, cursor)
		if err != nil {
			return total, err
		}
		if len(records) > 0 {
			rows := make([]persistence.PosOrderModel, len(records))
			for n, r := range records {
				rows[n] = persistence.PosOrderModel{
					OrgID:          i.orgID,
					Guid:           r.Guid,
					RestaurantGuid: r.RestaurantGuid,
					OpenedAt:       r.OpenedAt,
					ClosedAt:       r.ClosedAt,
					Total:          r.Total,
					Modified:       r.Modified,
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

func (i *Importer) importPayments(ctx context.Context) (int, error) {
	total := 0
	batches := 0
	every := i.warehouse.HeartbeatEvery()
	var cursor *providerapi.Cursor
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		records, next, err := i.client.ListPayments(ctx, i.tokens, i.locationGuid, i.since, i.until, cursor)
		if err != nil {
			return total, err
		}
		if len(records) > 0 {
			rows := make([]persistence.PosPaymentModel, len(records))
			for n, r := range records {
				rows[n] = persistence.PosPaymentModel{
					OrgID:     i.orgID,
					Guid:      r.Guid,
					OrderGuid: r.OrderGuid,
					Type:      r.Type,
					Amount:    r.Amount,
					PaidAt:    r.PaidAt,
					Modified:  r.Modified,
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
