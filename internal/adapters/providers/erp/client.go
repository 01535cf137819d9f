// Package erp is the client for the ERP provider. All reads go through its
// SQL-shaped query endpoint; large tables use a keyset cursor over
// (lastmodifieddate, id).
package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
)

// Subsidiary is one legal entity.
type Subsidiary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Classification is one reporting classification.
type Classification struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Account is one general ledger account.
type Account struct {
	ID     string `json:"id"`
	Number string `json:"acctnumber"`
	Name   string `json:"accountsearchdisplayname"`
	Type   string `json:"accttype"`
}

// Vendor is one vendor record.
type Vendor struct {
	ID    string `json:"id"`
	Name  string `json:"entityid"`
	Email string `json:"email"`
}

// Transaction is one transaction header.
type Transaction struct {
	ID           string    `json:"id"`
	TranType     string    `json:"type"`
	TranDate     time.Time `json:"trandate"`
	Amount       float64   `json:"foreigntotal"`
	LastModified time.Time `json:"lastmodifieddate"`
}

// TransactionLine is one transaction line.
type TransactionLine struct {
	ID            string    `json:"uniquekey"`
	TransactionID string    `json:"transaction"`
	AccountID     string    `json:"account"`
	Amount        float64   `json:"amount"`
	LastModified  time.Time `json:"linelastmodifieddate"`
}

// Cursor is the keyset position inside one large table pull.
type Cursor struct {
	Modified time.Time
	ID       string
}

// Client calls the ERP provider's query endpoint.
type Client struct {
	rest     *rest.Client
	pageSize int
	logger   zerolog.Logger
}

// NewClient creates an ERP provider client.
func NewClient(cfg config.ProviderConfig, clock shared.Clock, logger zerolog.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		rest:     rest.NewClient(cfg, clock, logger.With().Str("provider", "erp").Logger()),
		pageSize: pageSize,
		logger:   logger,
	}
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int { return c.pageSize }

// Authenticate exchanges account credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, accountID, consumerKey, consumerSecret string) (string, time.Time, error) {
	var response struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	req := rest.Request{
		Method: http.MethodPost,
		Path:   "/auth/token",
		Body: map[string]string{
			"account":         accountID,
			"consumer_key":    consumerKey,
			"consumer_secret": consumerSecret,
		},
	}
	if _, err := c.rest.Do(ctx, req, rest.StaticToken(""), &response); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to authenticate with erp provider: %w", err)
	}
	expiresAt := time.Now().UTC().Add(time.Duration(response.ExpiresIn) * time.Second)
	return response.AccessToken, expiresAt, nil
}

// queryPage executes one query with offset paging and decodes the item array.
type queryResponse struct {
	Items   []json.RawMessage `json:"items"`
	HasMore bool              `json:"hasMore"`
}

// Query executes one query page. Offset paging is only used within small
// reference tables; large tables advance the keyset cursor instead and always
// query from offset zero.
func (c *Client) Query(ctx context.Context, tokens rest.TokenSource, query string, offset int) ([]json.RawMessage, bool, error) {
	var response queryResponse
	req := rest.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/query?limit=%d&offset=%d", c.pageSize, offset),
		Body:   map[string]string{"q": query},
	}
	if _, err := c.rest.Do(ctx, req, tokens, &response); err != nil {
		return nil, false, fmt.Errorf("query failed: %w", err)
	}
	return response.Items, response.HasMore, nil
}

// queryAll drains offset paging for one query into a decoded slice.
func queryAll[T any](ctx context.Context, c *Client, tokens rest.TokenSource, query string) ([]T, error) {
	var all []T
	offset := 0
	for {
		items, hasMore, err := c.Query(ctx, tokens, query, offset)
		if err != nil {
			return nil, err
		}
		for _, raw := range items {
			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("failed to decode query item: %w", err)
			}
			all = append(all, item)
		}
		if !hasMore {
			return all, nil
		}
		offset += len(items)
	}
}

// ListSubsidiaries returns the full subsidiary set.
func (c *Client) ListSubsidiaries(ctx context.Context, tokens rest.TokenSource) ([]Subsidiary, error) {
	query := NewQuery("subsidiary", "id", "name", "currency").Build()
	return queryAll[Subsidiary](ctx, c, tokens, query)
}

// ListClassifications returns the full classification set.
func (c *Client) ListClassifications(ctx context.Context, tokens rest.TokenSource) ([]Classification, error) {
	query := NewQuery("classification", "id", "name").Build()
	return queryAll[Classification](ctx, c, tokens, query)
}

// ListAccounts returns the full account set.
func (c *Client) ListAccounts(ctx context.Context, tokens rest.TokenSource) ([]Account, error) {
	query := NewQuery("account", "id", "acctnumber", "accountsearchdisplayname", "accttype").Build()
	return queryAll[Account](ctx, c, tokens, query)
}

// ListVendors returns the full vendor set.
func (c *Client) ListVendors(ctx context.Context, tokens rest.TokenSource) ([]Vendor, error) {
	query := NewQuery("vendor", "id", "entityid", "email").Build()
	return queryAll[Vendor](ctx, c, tokens, query)
}

// ListTransactions returns one keyset page of transactions modified inside
// [since, until). A nil cursor starts from the window's lower bound; the
// returned cursor resumes after the last row, or nil when the window is
// drained.
func (c *Client) ListTransactions(ctx context.Context, tokens rest.TokenSource, since, until time.Time, cursor *Cursor) ([]Transaction, *Cursor, error) {
	q := NewQuery("transaction", "id", "type", "trandate", "foreigntotal", "lastmodifieddate").
		WhereModifiedSince("lastmodifieddate", since)
	if !until.IsZero() {
		q.WhereModifiedBefore("lastmodifieddate", until)
	}
	if cursor != nil {
		q.AfterCursor("lastmodifieddate", "id", cursor.Modified, cursor.ID)
	}
	q.OrderByCursor("lastmodifieddate", "id")

	items, _, err := c.Query(ctx, tokens, q.Build(), 0)
	if err != nil {
		return nil, nil, err
	}

	transactions := make([]Transaction, 0, len(items))
	for _, raw := range items {
		var t Transaction
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		transactions = append(transactions, t)
	}

	if len(transactions) < c.pageSize {
		return transactions, nil, nil
	}
	last := transactions[len(transactions)-1]
	return transactions, &Cursor{Modified: last.LastModified, ID: last.ID}, nil
}

// ListTransactionLines returns one keyset page of transaction lines modified
// inside [since, until).
func (c *Client) ListTransactionLines(ctx context.Context, tokens rest.TokenSource, since, until time.Time, cursor *Cursor) ([]TransactionLine, *Cursor, error) {
	q := NewQuery("transactionline", "uniquekey", "transaction", "account", "amount", "linelastmodifieddate").
		WhereModifiedSince("linelastmodifieddate", since)
	if !until.IsZero() {
		q.WhereModifiedBefore("linelastmodifieddate", until)
	}
	if cursor != nil {
		q.AfterCursor("linelastmodifieddate", "uniquekey", cursor.Modified, cursor.ID)
	}
	q.OrderByCursor("linelastmodifieddate", "uniquekey")

	items, _, err := c.Query(ctx, tokens, q.Build(), 0)
	if err != nil {
		return nil, nil, err
	}

	lines := make([]TransactionLine, 0, len(items))
	for _, raw := range items {
		var l TransactionLine
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, nil, fmt.Errorf("failed to decode transaction line: %w", err)
		}
		lines = append(lines, l)
	}

	if len(lines) < c.pageSize {
		return lines, nil, nil
	}
	last := lines[len(lines)-1]
	return lines, &Cursor{Modified: last.LastModified, ID: last.ID}, nil
}
