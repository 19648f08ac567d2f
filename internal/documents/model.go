// Package documents owns the source documents that reach the ledger: invoices, bills,
// commission runs and depreciation runs.
package documents

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// Kind enumerates document families.
type Kind string

const (
	KindInvoice         Kind = "INVOICE"
	KindBill            Kind = "BILL"
	KindCommissionRun   Kind = "COMMISSION_RUN"
	KindDepreciationRun Kind = "DEPRECIATION_RUN"
)

// ParseKind accepts any letter case.
func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(raw)))
	switch k {
	case KindInvoice, KindBill, KindCommissionRun, KindDepreciationRun:
		return k, true
	}
	return "", false
}

// Resource maps the kind onto the capability table.
func (k Kind) Resource() rbac.Resource {
	switch k {
	case KindInvoice:
		return rbac.ResourceInvoice
	case KindBill:
		return rbac.ResourceBill
	case KindCommissionRun:
		return rbac.ResourceCommissionRun
	default:
		return rbac.ResourceDepreciationRun
	}
}

// ReferenceType is the journal reference type of documents of this kind.
func (k Kind) ReferenceType() string {
	return strings.ToLower(string(k))
}

func (k Kind) prefix() string {
	switch k {
	case KindInvoice:
		return "INV"
	case KindBill:
		return "BILL"
	case KindCommissionRun:
		return "COM"
	default:
		return "DEP"
	}
}

// Document statuses.
const (
	StatusDraft     workflow.State = "draft"
	StatusReviewed  workflow.State = "reviewed"
	StatusApproved  workflow.State = "approved"
	StatusPosted    workflow.State = "posted"
	StatusPaid      workflow.State = "paid"
	StatusCancelled workflow.State = "cancelled"
)

// Document is a polymorphic source document.
type Document struct {
	ID              int64
	CompanyID       int64
	Kind            Kind
	Number          string
	Status          workflow.State
	BranchID        *int64
	CostCenterID    *int64
	WarehouseID     *int64
	CreatedBy       int64
	DocDate         time.Time
	TotalAmount     decimal.Decimal
	DebitAccountID  int64
	CreditAccountID int64
	Notes           string
	JournalEntryID  *int64
	ReversalEntryID *int64
	PaidBy          *int64
	PaidAt          *time.Time
	CancelledBy     *int64
	CancelledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GovernanceStamp implements governance.Scoped.
func (d Document) GovernanceStamp() governance.Stamp {
	return governance.Stamp{
		CompanyID:    d.CompanyID,
		BranchID:     d.BranchID,
		CostCenterID: d.CostCenterID,
		WarehouseID:  d.WarehouseID,
		CreatedBy:    d.CreatedBy,
	}
}

// ApplyGovernance implements governance.Stampable.
func (d *Document) ApplyGovernance(st governance.Stamp) {
	d.CompanyID = st.CompanyID
	d.BranchID = st.BranchID
	d.CostCenterID = st.CostCenterID
	d.WarehouseID = st.WarehouseID
	d.CreatedBy = st.CreatedBy
}

// Posted reports whether a ledger entry is linked.
func (d Document) Posted() bool {
	return d.JournalEntryID != nil
}

// Payment is the single settlement record of a document.
type Payment struct {
	ID         int64
	DocumentID int64
	CompanyID  int64
	Amount     decimal.Decimal
	PaidBy     int64
	PaidAt     time.Time
}

// CreateInput describes a new document.
type CreateInput struct {
	Kind            Kind
	Number          string
	DocDate         time.Time
	TotalAmount     decimal.Decimal
	DebitAccountID  int64
	CreditAccountID int64
	BranchID        *int64
	CostCenterID    *int64
	WarehouseID     *int64
	Notes           string
}

// UpdateInput carries optional changes. Nil fields are left untouched.
type UpdateInput struct {
	Notes           *string
	DocDate         *time.Time
	TotalAmount     *decimal.Decimal
	DebitAccountID  *int64
	CreditAccountID *int64
	BranchID        *int64
	CostCenterID    *int64
	WarehouseID     *int64
}

// ListFilter narrows a scoped listing.
type ListFilter struct {
	Kind    Kind
	Status  workflow.State
	Page    int
	PerPage int
}

var (
	ErrNotFound      = core.NotFound("document_not_found", "document not found")
	ErrImmutable     = core.Conflict("immutable_after_posting", "financial fields cannot change once the document is posted")
	ErrNotPosted     = core.Conflict("not_posted", "document has no posted journal entry")
	ErrAlreadyPaid   = core.Conflict("already_paid", "document already has a payment record")
	ErrNumberTaken   = core.Conflict("number_taken", "document number already exists")
	ErrUnknownStatus = core.Validation("unknown_status", "unknown document status")
)

func validateFinancials(d Document) error {
	if d.DocDate.IsZero() {
		return core.Validation("doc_date_required", "document date is required")
	}
	if !d.TotalAmount.IsPositive() {
		return core.Validation("invalid_amount", "total amount must be greater than zero")
	}
	if !shared.WholeCents(d.TotalAmount) {
		return shared.ErrSubCent
	}
	if d.DebitAccountID == 0 || d.CreditAccountID == 0 {
		return core.Validation("accounts_required", "debit and credit accounts are required")
	}
	if d.DebitAccountID == d.CreditAccountID {
		return core.Validation("same_account", "debit and credit accounts must differ")
	}
	return nil
}
