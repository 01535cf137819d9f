// Package accounting is the client for the ledger provider. Page-numbered
// pagination, conditional requests via If-Modified-Since.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/finlake/finsync/internal/adapters/providers/rest"
	"github.com/finlake/finsync/internal/domain/shared"
	"github.com/finlake/finsync/internal/infrastructure/config"
)

// Account is one chart-of-accounts entry.
type Account struct {
	ID        string    `json:"accountID"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	UpdatedAt time.Time `json:"updatedDateUTC"`
}

// Contact is one customer or supplier.
type Contact struct {
	ID        string    `json:"contactID"`
	Name      string    `json:"name"`
	Email     string    `json:"emailAddress"`
	UpdatedAt time.Time `json:"updatedDateUTC"`
}

// Invoice is one sales or purchase invoice header.
type Invoice struct {
	ID         string    `json:"invoiceID"`
	ContactID  string    `json:"contactID"`
	Status     string    `json:"status"`
	Currency   string    `json:"currencyCode"`
	Total      float64   `json:"total"`
	IssuedDate time.Time `json:"date"`
	UpdatedAt  time.Time `json:"updatedDateUTC"`
}

// BankTransaction is one bank feed line.
type BankTransaction struct {
	ID        string    `json:"bankTransactionID"`
	AccountID string    `json:"bankAccountID"`
	Type      string    `json:"type"`
	Amount    float64   `json:"total"`
	Date      time.Time `json:"date"`
	UpdatedAt time.Time `json:"updatedDateUTC"`
}

// Journal is one manual journal header.
type Journal struct {
	ID          string    `json:"journalID"`
	JournalDate time.Time `json:"journalDate"`
	Narration   string    `json:"narration"`
	UpdatedAt   time.Time `json:"updatedDateUTC"`
}

// Payment is one payment applied to an invoice.
type Payment struct {
	ID        string    `json:"paymentID"`
	InvoiceID string    `json:"invoiceID"`
	Amount    float64   `json:"amount"`
	Date      time.Time `json:"date"`
	UpdatedAt time.Time `json:"updatedDateUTC"`
}

// Client calls the ledger provider API for one integration's tenant.
type Client struct {
	rest     *rest.Client
	pageSize int
}

// NewClient creates an accounting provider client.
func NewClient(cfg config.ProviderConfig, clock shared.Clock, logger zerolog.Logger) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		rest:     rest.NewClient(cfg, clock, logger.With().Str("provider", "accounting").Logger()),
		pageSize: pageSize,
	}
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int { return c.pageSize }

// Authenticate exchanges client credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context, clientID, clientSecret string) (string, time.Time, error) {
	var response struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	req := rest.Request{
		Method: http.MethodPost,
		Path:   "/oauth/token",
		Body: map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     clientID,
			"client_secret": clientSecret,
		},
	}
	if _, err := c.rest.Do(ctx, req, rest.StaticToken(""), &response); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to authenticate with accounting provider: %w", err)
	}
	expiresAt := time.Now().UTC().Add(time.Duration(response.ExpiresIn) * time.Second)
	return response.AccessToken, expiresAt, nil
}

// listPage fetches one page of a collection. modifiedSince of zero means no
// conditional header. A 304 reads as an empty final page.
func (c *Client) listPage(ctx context.Context, tokens rest.TokenSource, tenantID, path string, modifiedSince time.Time, page int, result interface{}) (bool, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(c.pageSize))

	header := http.Header{}
	header.Set("X-Tenant-Id", tenantID)
	if !modifiedSince.IsZero() {
		header.Set("If-Modified-Since", modifiedSince.UTC().Format(http.TimeFormat))
	}

	_, err := c.rest.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
		Header: header,
	}, tokens, result)
	if errors.Is(err, rest.ErrNotModified) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListAccounts fetches one page of accounts. An empty slice means the end of
// the collection or a 304 on the conditional request.
func (c *Client) ListAccounts(ctx context.Context, tokens rest.TokenSource, tenantID string, modifiedSince time.Time, page int) ([]Account, error) {
	var response struct {
		Accounts []Account `json:"accounts"`
	}
	fetched, err := c.listPage(ctx, tokens, tenantID, "/accounts", modifiedSince, page, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts (page %d): %w", page, err)
	}
	if !fetched {
		return nil, nil
	}
	return response.Accounts, nil
}

// ListContacts fetches one page of contacts.
func (c *Client) ListContacts(ctx context.Context, tokens rest.TokenSource, tenantID string, modifiedSince time.Time, page int) ([]Contact, error) {
	var response struct {
		Contacts []Contact `json:"contacts"`
	}
	fetched, err := c.listPage(ctx, tokens, tenantID, "/contacts", modifiedSince, page, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts (page %d): %w", page, err)
	}
	if !fetched {
		return nil, nil
	}
	return response.Contacts, nil
}

// ListInvoices fetches one page of invoices.
func (c *Client) ListInvoices(ctx context.Context, tokens rest.TokenSource, tenantID string, modifiedSince time.Time, page int) ([]Invoice, error) {
	var response struct {
		Invoices []Invoice `json:"invoices"`
	}
	fetched, err := c.listPage(ctx, tokens, tenantID, "/invoices", modifiedSince, page, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices (page %d): %w", page, err)
	}
	if !fetched {
		return nil, nil
	}
	return response.Invoices, nil
}

// ListBankTransactions fetches one page of bank transactions.
func (c *Client) ListBankTransactions(ctx context.Context, tokens rest.TokenSource, tenantID string, modifiedSince time.Time, page int) ([]BankTransaction, error) {
	var response struct {
		BankTransactions []BankTransaction `json:"bankTransactions"`
	}
	fetched, err := c.listPage(ctx, tokens, tenantID, "/banktransactions", modifiedSince, page, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transactions (page %d): %w", page, err)
	}
	if !fetched {
		return nil, nil
	}
	return response.BankTransactions, nil
}

// ListJournals fetches one page of manual journals.
func (c *Client) ListJournals(ctx context.Context, tokens rest.TokenSource, tenantID string, modifiedSince time.Time, page int) ([]Journal, error) {
	var response struct {
		Journals []Journal `json:"manualJournals"`
	}
	fetched, err := c.listPage(ctx, tokens, tenantID, "/manualjournals", modifiedSince, page, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to list journals (page %d): %w", page, err)
	}
	if !fetched {
		return nil, nil
	}
	return response.Journals, nil
}

// ListPayments fetches one page of payments.
func (c *Client) ListPayments(ctx context.Context, tokens rest.TokenSource, tenantID string, modifiedSince time.Time, page int) ([]Payment, error) {
	var response struct {
		Payments []Payment `json:"payments"`
	}
	fetched, err := c.listPage(ctx, tokens, tenantID, "/payments", modifiedSince, page, &response)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments (page %d): %w", page, err)
	}
	if !fetched {
		return nil, nil
	}
	return response.Payments, nil
}
