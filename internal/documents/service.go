package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/governance"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// Governance scopes and authorizes document access.
type Governance interface {
	ResolveScope(ctx context.Context, p core.Principal, companyID int64) (governance.Scope, error)
	AuthorizeScope(ctx context.Context, p core.Principal, res rbac.Resource, action rbac.Action) (governance.Scope, error)
	CheckScope(ctx context.Context, scope governance.Scope, rec governance.Scoped, target string) error
	AddGovernanceData(scope governance.Scope, rec governance.Stampable)
	ValidateGovernanceData(ctx context.Context, scope governance.Scope, rec governance.Scoped) error
}

// Ledger posts and reverses entries inside a document transaction.
type Ledger interface {
	PostTx(ctx context.Context, tx journals.TxRepository, in journals.PostingInput) (journals.JournalEntry, error)
	ReverseTx(ctx context.Context, tx journals.TxRepository, in journals.ReverseInput) (journals.JournalEntry, error)
}

// Service coordinates document lifecycle, governance and ledger postings.
type Service struct {
	repo       Repository
	governance Governance
	ledger     Ledger
	logger     *slog.Logger
	machines   map[Kind]*workflow.Machine[step]
	retries    int
	now        func() time.Time
	forward    core.AuditSink
}

func NewService(repo Repository, gov Governance, ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, governance: gov, ledger: ledger, logger: logger, retries: 1, now: time.Now}
	s.machines = s.buildMachines()
	return s
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithAuditForward hands every audit record committed by this service to sink.
func (s *Service) WithAuditForward(sink core.AuditSink) {
	s.forward = sink
}

// withTx runs fn in a repository transaction and forwards its audit records after commit.
func (s *Service) withTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return core.AfterCommit(ctx, s.forward, s.logger, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
}

// WithRetries sets how many times a transition is retried after a storage failure.
func (s *Service) WithRetries(n int) {
	if n >= 0 {
		s.retries = n
	}
}

// NextStatuses lists the statuses a document of kind may move to from status.
func (s *Service) NextStatuses(kind Kind, status workflow.State) []workflow.State {
	m, ok := s.machines[kind]
	if !ok {
		return nil
	}
	return m.Next(status)
}

// Create stamps the document with the principal's governance data and stores it as draft.
func (s *Service) Create(ctx context.Context, p core.Principal, in CreateInput) (Document, error) {
	kind, ok := ParseKind(string(in.Kind))
	if !ok {
		return Document{}, core.Validation("unknown_kind", "unknown document kind")
	}
	scope, err := s.governance.AuthorizeScope(ctx, p, kind.Resource(), rbac.ActionCreate)
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Kind:            kind,
		Number:          strings.TrimSpace(in.Number),
		Status:          s.machines[kind].Initial(),
		BranchID:        in.BranchID,
		CostCenterID:    in.CostCenterID,
		WarehouseID:     in.WarehouseID,
		DocDate:         periods.DateOnly(in.DocDate),
		TotalAmount:     in.TotalAmount,
		DebitAccountID:  in.DebitAccountID,
		CreditAccountID: in.CreditAccountID,
		Notes:           in.Notes,
	}
	if err := validateFinancials(doc); err != nil {
		return Document{}, err
	}
	s.governance.AddGovernanceData(scope, &doc)
	if err := s.governance.ValidateGovernanceData(ctx, scope, doc); err != nil {
		return Document{}, err
	}
	if doc.Number == "" {
		doc.Number = fmt.Sprintf("%s-%s-%s", kind.prefix(), doc.DocDate.Format("200601"), strings.ToUpper(uuid.NewString()[:8]))
	}

	var created Document
	err = s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Insert(ctx, doc)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, core.AuditLog{
			ActorID:   p.UserID,
			CompanyID: created.CompanyID,
			Action:    "document.create",
			Entity:    "document",
			EntityID:  strconv.FormatInt(created.ID, 10),
			New:       snapshot(created),
			At:        s.now(),
		})
	})
	if err != nil {
		return Document{}, core.Storage("create document", err)
	}
	return created, nil
}

// Get returns a document visible to the principal. Membership is checked before
// the row is read, so a non-member sees the same error for every id.
func (s *Service) Get(ctx context.Context, p core.Principal, id int64) (Document, error) {
	if _, err := s.governance.ResolveScope(ctx, p, p.CompanyID); err != nil {
		return Document{}, err
	}
	doc, err := s.repo.Get(ctx, p.CompanyID, id)
	if err != nil {
		return Document{}, core.Storage("get document", err)
	}
	scope, err := s.governance.AuthorizeScope(ctx, p, doc.Kind.Resource(), rbac.ActionRead)
	if err != nil {
		return Document{}, err
	}
	if err := s.governance.CheckScope(ctx, scope, doc, docTarget(doc.ID)); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// List returns the documents inside the principal's scope.
func (s *Service) List(ctx context.Context, p core.Principal, f ListFilter) ([]Document, core.Pagination, error) {
	kinds := []Kind{KindInvoice, KindBill, KindCommissionRun, KindDepreciationRun}
	if f.Kind != "" {
		kind, ok := ParseKind(string(f.Kind))
		if !ok {
			return nil, core.Pagination{}, core.Validation("unknown_kind", "unknown document kind")
		}
		f.Kind = kind
		kinds = []Kind{kind}
	}
	scope, err := s.governance.AuthorizeScope(ctx, p, kinds[0].Resource(), rbac.ActionRead)
	if err != nil {
		return nil, core.Pagination{}, err
	}
	for _, k := range kinds[1:] {
		if !rbac.Can(scope.Role, k.Resource(), rbac.ActionRead) {
			return nil, core.Pagination{}, governance.ErrPermissionDenied
		}
	}
	docs, total, err := s.repo.List(ctx, scope, f)
	if err != nil {
		return nil, core.Pagination{}, core.Storage("list documents", err)
	}
	return docs, core.NewPagination(f.Page, f.PerPage, total), nil
}

// Update applies in. Notes may always change; financial fields only while no ledger
// entry is linked.
func (s *Service) Update(ctx context.Context, p core.Principal, id int64, in UpdateInput) (Document, error) {
	var updated Document
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, p.CompanyID, id)
		if err != nil {
			return err
		}
		scope, err := s.governance.AuthorizeScope(ctx, p, current.Kind.Resource(), rbac.ActionUpdate)
		if err != nil {
			return err
		}
		if err := s.governance.CheckScope(ctx, scope, current, docTarget(current.ID)); err != nil {
			return err
		}
		next := applyUpdate(current, in)
		if financialChanged(current, next) {
			if current.Posted() {
				return ErrImmutable
			}
			if current.Status == StatusCancelled {
				return core.Conflict("document_cancelled", "a cancelled document cannot be edited")
			}
			if err := validateFinancials(next); err != nil {
				return err
			}
			if err := s.governance.ValidateGovernanceData(ctx, scope, next); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		updated = next
		return tx.RecordAudit(ctx, core.AuditLog{
			ActorID:   p.UserID,
			CompanyID: next.CompanyID,
			Action:    "document.update",
			Entity:    "document",
			EntityID:  strconv.FormatInt(next.ID, 10),
			Old:       snapshot(current),
			New:       snapshot(next),
			At:        s.now(),
		})
	})
	if err != nil {
		return Document{}, core.Storage("update document", err)
	}
	return updated, nil
}

// Transition moves the document along its workflow edge to status to with the row
// locked. The status change commits together with any ledger entry or payment it
// produces. A storage failure rolls everything back and the transition is retried.
func (s *Service) Transition(ctx context.Context, p core.Principal, id int64, to workflow.State) (Document, error) {
	to = workflow.State(strings.ToLower(strings.TrimSpace(string(to))))
	var result Document
	var changed bool
	err := db.Retry(ctx, s.retries, isStorageFailure, func(ctx context.Context) error {
		changed = false
		return s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
			current, err := tx.GetForUpdate(ctx, p.CompanyID, id)
			if err != nil {
				return err
			}
			machine := s.machines[current.Kind]
			if machine == nil || !machine.Known(to) {
				return ErrUnknownStatus
			}
			scope, err := s.governance.AuthorizeScope(ctx, p, current.Kind.Resource(), rbac.ActionTransition)
			if err != nil {
				return err
			}
			if err := s.governance.CheckScope(ctx, scope, current, docTarget(current.ID)); err != nil {
				return err
			}
			st := &step{Doc: current, Tx: tx, At: s.now()}
			changed, err = machine.Fire(ctx, st, current.Status, to, workflow.Actor{Principal: p, Role: scope.Role})
			if err != nil {
				return err
			}
			if !changed {
				result = current
				return nil
			}
			st.Doc.Status = to
			if err := tx.Update(ctx, st.Doc); err != nil {
				return err
			}
			result = st.Doc
			return tx.RecordAudit(ctx, core.AuditLog{
				ActorID:   p.UserID,
				CompanyID: current.CompanyID,
				Action:    "document.transition",
				Entity:    "document",
				EntityID:  strconv.FormatInt(current.ID, 10),
				Old:       map[string]any{"status": string(current.Status)},
				New:       map[string]any{"status": string(to), "journal_entry_id": deref(st.Doc.JournalEntryID), "reversal_entry_id": deref(st.Doc.ReversalEntryID)},
				At:        st.At,
			})
		})
	})
	if err != nil {
		var typed *core.Error
		if !errors.As(err, &typed) {
			s.logger.Error("document transition", slog.Int64("document_id", id), slog.String("target", string(to)), slog.Any("error", err))
		}
		return Document{}, core.Storage("transition document", err)
	}
	if changed {
		s.logger.Info("document transition", slog.Int64("document_id", id), slog.String("status", string(result.Status)), slog.Int64("actor_id", p.UserID))
	}
	return result, nil
}

func applyUpdate(d Document, in UpdateInput) Document {
	if in.Notes != nil {
		d.Notes = *in.Notes
	}
	if in.DocDate != nil {
		d.DocDate = periods.DateOnly(*in.DocDate)
	}
	if in.TotalAmount != nil {
		d.TotalAmount = *in.TotalAmount
	}
	if in.DebitAccountID != nil {
		d.DebitAccountID = *in.DebitAccountID
	}
	if in.CreditAccountID != nil {
		d.CreditAccountID = *in.CreditAccountID
	}
	if in.BranchID != nil {
		d.BranchID = in.BranchID
	}
	if in.CostCenterID != nil {
		d.CostCenterID = in.CostCenterID
	}
	if in.WarehouseID != nil {
		d.WarehouseID = in.WarehouseID
	}
	return d
}

func financialChanged(a, b Document) bool {
	return !a.DocDate.Equal(b.DocDate) || !a.TotalAmount.Equal(b.TotalAmount) ||
		a.DebitAccountID != b.DebitAccountID || a.CreditAccountID != b.CreditAccountID ||
		!sameID(a.BranchID, b.BranchID) || !sameID(a.CostCenterID, b.CostCenterID) || !sameID(a.WarehouseID, b.WarehouseID)
}

func snapshot(d Document) map[string]any {
	return map[string]any{
		"kind":              string(d.Kind),
		"number":            d.Number,
		"status":            string(d.Status),
		"doc_date":          d.DocDate.Format(time.DateOnly),
		"total_amount":      d.TotalAmount.StringFixed(2),
		"debit_account_id":  d.DebitAccountID,
		"credit_account_id": d.CreditAccountID,
		"branch_id":         deref(d.BranchID),
		"cost_center_id":    deref(d.CostCenterID),
		"warehouse_id":      deref(d.WarehouseID),
		"notes":             d.Notes,
	}
}

func isStorageFailure(err error) bool {
	return core.KindOf(err) == core.ErrStorageFailure
}

func docTarget(id int64) string {
	return "document:" + strconv.FormatInt(id, 10)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
