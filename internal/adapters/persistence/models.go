package persistence

import (
	"time"
)

// OrganizationModel represents the organizations table. Organizations are
// written by the admin surface; the sync core only reads them.
type OrganizationModel struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;not null"`
}

func (OrganizationModel) TableName() string {
	return "organizations"
}

// IntegrationModel represents the integrations table. Settings is an opaque
// JSON map including per-provider credentials.
type IntegrationModel struct {
	ID           int64              `gorm:"column:id;primaryKey;autoIncrement"`
	OrgID        int64              `gorm:"column:org_id;not null;index"`
	Organization *OrganizationModel `gorm:"foreignKey:OrgID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ProviderKind string             `gorm:"column:provider_kind;size:1;not null"`
	Settings     string             `gorm:"column:settings;type:text"` // JSON as text
}

func (IntegrationModel) TableName() string {
	return "integrations"
}

/// AccessTokenModel represents the access_tokens table: one bearer token per
// (integration, provider) pair, rotated on refresh.
type AccessTokenModel struct {
	IntegrationID int64     `gorm:"column:integration_id;primaryKey"`
	ProviderKind  string    `gorm:"column:provider_kind;size:1;not null"`
	Token         string    `gorm:"column:token;not null"`
	ExpiresAt     time.Time `gorm:"column:expires_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (AccessTokenModel) TableName() string {
	return "access_tokens"
}

// HighPriorityTaskModel represents the high_priority_tasks table.
// Lifecycle flags only ever advance: processed is terminal.
type HighPriorityTaskModel struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement"`
	IntegrationID   int64      `gorm:"column:integration_id;not null;index"`
	ProviderKind    string     `gorm:"column:provider_kind;size:1;not null"`
	SinceDate       time.Time  `gorm:"column:since_date;not null"`
	UntilDate       *time.Time `gorm:"column:until_date"`
	SelectedModules string     `gorm:"column:selected_modules;type:text"` // JSON array as text
	CreatedAt       time.Time  `gorm:"column:created_at;not null"`
	InProgress      bool       `gorm:"column:in_progress;not null;default:false"`
	InProgressSince *time.Time `gorm:"column:in_progress_since"`
	Processed       bool       `gorm:"column:processed;not null;default:false;index"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
}

func (HighPriorityTaskModel) TableName() string {
	return "high_priority_tasks"
}

// SyncLogModel represents the sync_log_events table (append-only audit).
type SyncLogModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TaskName     string    `gorm:"column:task_name;not null;index:idx_task_status"`
	ProviderKind string    `gorm:"column:provider_kind;size:1"`
	OrgID        int64     `gorm:"column:org_id"`
	Status       string    `gorm:"column:status;not null;index:idx_task_status"`
	Detail       string    `gorm:"column:detail;type:text"`
	Timestamp    time.Time `gorm:"column:timestamp;not null;index"`
}

func (SyncLogModel) TableName() string {
	return "sync_log_events"
}

// Warehouse models below hold raw provider records scoped by organization.
// Natural keys are composite (org_id, remote id) so replays upsert in place.

// LedgerAccountModel represents the ledger_accounts table (provider X).
type LedgerAccountModel struct {
	OrgID     int64     `gorm:"column:org_id;primaryKey"`
	RemoteID  string    `gorm:"column:remote_id;primaryKey;size:64"`
	Code      string    `gorm:"column:code;size:32"`
	Name      string    `gorm:"column:name;not null"`
	Type      string    `gorm:"column:type;size:32"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LedgerAccountModel) TableName() string { return "ledger_accounts" }

// LedgerContactModel represents the ledger_contacts table (provider X).
type LedgerContactModel struct {
	OrgID     int64     `gorm:"column:org_id;primaryKey"`
	RemoteID  string    `gorm:"column:remote_id;primaryKey;size:64"`
	Name      string    `gorm:"column:name;not null"`
	Email     string    `gorm:"column:email"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LedgerContactModel) TableName() string { return "ledger_contacts" }

// LedgerInvoiceModel represents the ledger_invoices table (provider X).
type LedgerInvoiceModel struct {
	OrgID      int64     `gorm:"column:org_id;primaryKey"`
	RemoteID   string    `gorm:"column:remote_id;primaryKey;size:64"`
	ContactID  string    `gorm:"column:contact_id;size:64"`
	Status     string    `gorm:"column:status;size:32"`
	Currency   string    `gorm:"column:currency;size:8"`
	Total      float64   `gorm:"column:total"`
	IssuedDate time.Time `gorm:"column:issued_date"`
	UpdatedAt  time.Time `gorm:"column:updated_at;index"`
}

func (LedgerInvoiceModel) TableName() string { return "ledger_invoices" }

// LedgerBankTransactionModel represents the ledger_bank_transactions table.
type LedgerBankTransactionModel struct {
	OrgID     int64     `gorm:"column:org_id;primaryKey"`
	RemoteID  string    `gorm:"column:remote_id;primaryKey;size:64"`
	AccountID string    `gorm:"column:account_id;size:64"`
	Type      string    `gorm:"column:type;size:16"`
	Amount    float64   `gorm:"column:amount"`
	Date      time.Time `gorm:"column:date"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LedgerBankTransactionModel) TableName() string { return "ledger_bank_transactions" }

// LedgerJournalModel represents the ledger_journals table (provider X).
type LedgerJournalModel struct {
	OrgID       int64     `gorm:"column:org_id;primaryKey"`
	RemoteID    string    `gorm:"column:remote_id;primaryKey;size:64"`
	JournalDate time.Time `gorm:"column:journal_date"`
	Narration   string    `gorm:"column:narration;type:text"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (LedgerJournalModel) TableName() string { return "ledger_journals" }

// LedgerPaymentModel represents the ledger_payments table (provider X).
type LedgerPaymentModel struct {
	OrgID     int64     `gorm:"column:org_id;primaryKey"`
	RemoteID  string    `gorm:"column:remote_id;primaryKey;size:64"`
	InvoiceID string    `gorm:"column:invoice_id;size:64"`
	Amount    float64   `gorm:"column:amount"`
	Date      time.Time `gorm:"column:date"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LedgerPaymentModel) TableName() string { return "ledger_payments" }

// ErpSubsidiaryModel represents the erp_subsidiaries table (provider N).
// Small reference set: drop-and-reload within the org scope.
type ErpSubsidiaryModel struct {
	OrgID    int64  `gorm:"column:org_id;primaryKey"`
	RemoteID string `gorm:"column:remote_id;primaryKey;size:64"`
	Name     string `gorm:"column:name;not null"`
	Currency string `gorm:"column:currency;size:8"`
}

func (ErpSubsidiaryModel) TableName() string { return "erp_subsidiaries" }

// ErpClassificationModel represents the erp_classifications table (provider N).
type ErpClassificationModel struct {
	OrgID    int64  `gorm:"column:org_id;primaryKey"`
	RemoteID string `gorm:"column:remote_id;primaryKey;size:64"`
	Name     string `gorm:"column:name;not null"`
}

func (ErpClassificationModel) TableName() string { return "erp_classifications" }

// ErpAccountModel represents the erp_accounts table (provider N).
type ErpAccountModel struct {
	OrgID    int64  `gorm:"column:org_id;primaryKey"`
	RemoteID string `gorm:"column:remote_id;primaryKey;size:64"`
	Number   string `gorm:"column:number;size:32"`
	Name     string `gorm:"column:name;not null"`
	Type     string `gorm:"column:type;size:32"`
}

func (ErpAccountModel) TableName() string { return "erp_accounts" }

// ErpVendorModel represents the erp_vendors table (provider N).
type ErpVendorModel struct {
	OrgID    int64  `gorm:"column:org_id;primaryKey"`
	RemoteID string `gorm:"column:remote_id;primaryKey;size:64"`
	Name     string `gorm:"column:name;not null"`
	Email    string `gorm:"column:email"`
}

func (ErpVendorModel) TableName() string { return "erp_vendors" }

// ErpTransactionModel represents the erp_transactions table (provider N).
// Pulled with the keyset cursor (last_modified, remote_id).
type ErpTransactionModel struct {
	OrgID        int64     `gorm:"column:org_id;primaryKey"`
	RemoteID     string    `gorm:"column:remote_id;primaryKey;size:64"`
	TranType     string    `gorm:"column:tran_type;size:32"`
	TranDate     time.Time `gorm:"column:tran_date"`
	Amount       float64   `gorm:"column:amount"`
	LastModified time.Time `gorm:"column:last_modified;index"`
}

func (ErpTransactionModel) TableName() string { return "erp_transactions" }

// ErpTransactionLineModel represents the erp_transaction_lines table.
type ErpTransactionLineModel struct {
	OrgID         int64     `gorm:"column:org_id;primaryKey"`
	RemoteID      string    `gorm:"column:remote_id;primaryKey;size:64"`
	TransactionID string    `gorm:"column:transaction_id;size:64;index"`
	AccountID     string    `gorm:"column:account_id;size:64"`
	Amount        float64   `gorm:"column:amount"`
	LastModified  time.Time `gorm:"column:last_modified;index"`
}

func (ErpTransactionLineModel) TableName() string { return "erp_transaction_lines" }

// PosRestaurantModel represents the pos_restaurants table (provider T).
type PosRestaurantModel struct {
	OrgID    int64  `gorm:"column:org_id;primaryKey"`
	Guid     string `gorm:"column:guid;primaryKey;size:64"`
	Name     string `gorm:"column:name;not null"`
	Timezone string `gorm:"column:timezone;size:64"`
	Address  string `gorm:"column:address;type:text"`
}

func (PosRestaurantModel) TableName() string { return "pos_restaurants" }

// PosMenuModel represents the pos_menus table (provider T).
// Drop-and-reload per org scope.
type PosMenuModel struct {
	OrgID          int64  `gorm:"column:org_id;primaryKey"`
	Guid           string `gorm:"column:guid;primaryKey;size:64"`
	RestaurantGuid string `gorm:"column:restaurant_guid;size:64;index"`
	Name           string `gorm:"column:name;not null"`
}

func (PosMenuModel) TableName() string { return "pos_menus" }

// PosOrderModel represents the pos_orders table (provider T).
type PosOrderModel struct {
	OrgID          int64      `gorm:"column:org_id;primaryKey"`
	Guid           string     `gorm:"column:guid;primaryKey;size:64"`
	RestaurantGuid string     `gorm:"column:restaurant_guid;size:64;index"`
	OpenedAt       time.Time  `gorm:"column:opened_at"`
	ClosedAt       *time.Time `gorm:"column:closed_at"`
	Total          float64    `gorm:"column:total"`
	Modified       time.Time  `gorm:"column:modified;index"`
}

func (PosOrderModel) TableName() string { return "pos_orders" }

// PosPaymentModel represents the pos_payments table (provider T).
type PosPaymentModel struct {
	OrgID     int64     `gorm:"column:org_id;primaryKey"`
	Guid      string    `gorm:"column:guid;primaryKey;size:64"`
	OrderGuid string    `gorm:"column:order_guid;size:64;index"`
	Type      string    `gorm:"column:type;size:32"`
	Amount    float64   `gorm:"column:amount"`
	PaidAt    time.Time `gorm:"column:paid_at"`
	Modified  time.Time `gorm:"column:modified"`
}

func (PosPaymentModel) TableName() string { return "pos_payments" }
