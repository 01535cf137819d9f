package provider

import "context"

// Kind identifies an external SaaS provider. The single-letter codes are the
// values stored on integrations and tasks.
type Kind string

const (
	// KindAccounting is the general-ledger accounting platform ("X").
	KindAccounting Kind = "X"

	// KindERP is the ERP platform with a SQL-shaped query API ("N").
	KindERP Kind = "N"

	// KindPOS is the restaurant point-of-sale platform ("T").
	KindPOS Kind = "T"
)

// AllKinds lists every supported provider kind.
func AllKinds() []Kind {
	return []Kind{KindAccounting, KindERP, KindPOS}
}

// Valid reports whether k is a known provider kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAccounting, KindERP, KindPOS:
		return true
	}
	return false
}

// String returns a human-readable provider name.
func (k Kind) String() string {
	switch k {
	case KindAccounting:
		return "accounting"
	case KindERP:
		return "erp"
	case KindPOS:
		return "pos"
	}
	return string(k)
}

// Credential keys expected in an integration's settings map, per provider.
var credentialKeys = map[Kind][]string{
	KindAccounting: {"accounting_client_id", "accounting_client_secret", "accounting_tenant_id"},
	KindERP:        {"erp_account_id", "erp_consumer_key", "erp_consumer_secret"},
	KindPOS:        {"pos_client_id", "pos_client_secret", "pos_location_guid"},
}

// CredentialsPresent reports whether the settings map carries every credential
// the given provider kind requires. Integrations without credentials are
// skipped by the organization sync worker.
func CredentialsPresent(k Kind, settings map[string]string) bool {
	keys, ok := credentialKeys[k]
	if !ok {
		return false
	}
	for _, key := range keys {
		if settings[key] == "" {
			return false
		}
	}
	return true
}

// Module is the finest unit of user-selectable import work, e.g. "accounts"
// or "invoices". Run pulls one module and returns the number of records
// written to the warehouse.
type Module struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Importer is a provider-specific extract-and-load pipeline organized by
// module. Modules returns the full set in declared execution order.
type Importer interface {
	Kind() Kind
	Modules() []Module
}

// FindModule looks up a module by name on an importer.
func FindModule(imp Importer, name string) (Module, bool) {
	for _, m := range imp.Modules() {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}
