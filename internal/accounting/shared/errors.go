package shared

import core "github.com/odyssey-erp/odyssey-ledger/internal/shared"

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = core.Validation("unbalanced", "journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = core.Validation("too_few_lines", "journal requires at least two lines")
	// ErrInvalidLine indicates a line without exactly one positive side.
	ErrInvalidLine = core.Validation("invalid_line", "each line needs exactly one of debit or credit greater than zero")
	// ErrInvalidAccount indicates a missing, inactive, group or foreign account.
	ErrInvalidAccount = core.Validation("invalid_account", "account must be an active leaf account of the company")
	// ErrReferenceRequired indicates a posting without idempotency key.
	ErrReferenceRequired = core.Validation("reference_required", "reference type and id are required")
	// ErrNoPeriod indicates no period covers the entry date.
	ErrNoPeriod = core.Validation("no_period", "no accounting period covers the entry date")
	// ErrPeriodClosed indicates the entry date falls in a closed period.
	ErrPeriodClosed = core.Conflict("period_closed", "accounting period is closed")
	// ErrPeriodOverlap indicates a new period intersects an existing one.
	ErrPeriodOverlap = core.Conflict("period_overlap", "accounting periods of a company may not overlap")
	// ErrPeriodBusy indicates a concurrent close or open holds the period lock.
	ErrPeriodBusy = core.Conflict("period_busy", "period is being closed or opened by another request")
	// ErrAlreadyPosted indicates the reference was posted for a different source status.
	ErrAlreadyPosted = core.Conflict("already_posted", "source document already posted")
	// ErrReferenceTaken indicates a concurrent insert won the idempotency key.
	ErrReferenceTaken = core.Conflict("reference_taken", "a concurrent posting holds the reference")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = core.Conflict("invalid_status", "journal entry status does not allow this action")
	// ErrJournalNotFound indicates missing entry.
	ErrJournalNotFound = core.NotFound("journal_not_found", "journal entry not found")
	// ErrPeriodNotFound indicates missing period.
	ErrPeriodNotFound = core.NotFound("period_not_found", "accounting period not found")
	// ErrAccountNotFound indicates missing account.
	ErrAccountNotFound = core.NotFound("account_not_found", "account not found")
	// ErrAccountCodeTaken indicates a duplicate account code.
	ErrAccountCodeTaken = core.Conflict("account_code_taken", "account code already exists in the company")
)
