package refunds

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

// Governance scopes and authorizes refund access.
type Governance interface {
	AuthorizeScope(ctx context.Context, p core.Principal, res rbac.Resource, action rbac.Action) (governance.Scope, error)
	CheckScope(ctx context.Context, scope governance.Scope, rec governance.Scoped, target string) error
	AddGovernanceData(scope governance.Scope, rec governance.Stampable)
	ValidateGovernanceData(ctx context.Context, scope governance.Scope, rec governance.Scoped) error
}

// Ledger posts disbursement entries inside the refund transaction.
type Ledger interface {
	PostTx(ctx context.Context, tx journals.TxRepository, in journals.PostingInput) (journals.JournalEntry, error)
}

// Recorder observes refund transition outcomes.
type Recorder interface {
	ObserveTransition(action, outcome string)
}

// Service runs the refund approval chain.
type Service struct {
	repo       Repository
	governance Governance
	ledger     Ledger
	metrics    Recorder
	logger     *slog.Logger
	machine    *workflow.Machine[step]
	retries    int
	now        func() time.Time
	forward    core.AuditSink
}

func NewService(repo Repository, gov Governance, ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{repo: repo, governance: gov, ledger: ledger, logger: logger, retries: 1, now: time.Now}
	s.machine = s.buildMachine()
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

func (s *Service) WithMetrics(m Recorder) {
	s.metrics = m
}

// WithRetries sets how many times a disbursement is retried after a storage failure.
func (s *Service) WithRetries(n int) {
	if n >= 0 {
		s.retries = n
	}
}

// NextStatuses lists the statuses reachable from status.
func (s *Service) NextStatuses(status workflow.State) []workflow.State {
	return s.machine.Next(status)
}

// Create stores a pending refund request stamped with the principal's scope.
func (s *Service) Create(ctx context.Context, p core.Principal, in CreateInput) (RefundRequest, error) {
	scope, err := s.governance.AuthorizeScope(ctx, p, rbac.ResourceRefund, rbac.ActionCreate)
	if err != nil {
		return RefundRequest{}, err
	}
	if err := validateCreate(in); err != nil {
		return RefundRequest{}, err
	}
	req := RefundRequest{
		Status:           s.machine.Initial(),
		BranchID:         in.BranchID,
		CostCenterID:     in.CostCenterID,
		WarehouseID:      in.WarehouseID,
		RequestDate:      periods.DateOnly(in.RequestDate),
		Amount:           in.Amount,
		ExpenseAccountID: in.ExpenseAccountID,
		Reason:           strings.TrimSpace(in.Reason),
	}
	s.governance.AddGovernanceData(scope, &req)
	if err := s.governance.ValidateGovernanceData(ctx, scope, req); err != nil {
		return RefundRequest{}, err
	}
	req.Number = fmt.Sprintf("RF-%s-%s", req.RequestDate.Format("200601"), strings.ToUpper(uuid.NewString()[:8]))

	var created RefundRequest
	err = s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		if created, err = tx.Insert(ctx, req); err != nil {
			return err
		}
		return s.record(ctx, tx, RefundRequest{}, created, "refund.create", p.UserID, s.now(), map[string]any{
			"amount": created.Amount.StringFixed(2),
			"reason": created.Reason,
		})
	})
	if err != nil {
		return RefundRequest{}, core.Storage("create refund", err)
	}
	return created, nil
}

// Get returns a request visible to the principal.
func (s *Service) Get(ctx context.Context, p core.Principal, id int64) (RefundRequest, error) {
	scope, err := s.governance.AuthorizeScope(ctx, p, rbac.ResourceRefund, rbac.ActionRead)
	if err != nil {
		return RefundRequest{}, err
	}
	req, err := s.repo.Get(ctx, p.CompanyID, id)
	if err != nil {
		return RefundRequest{}, core.Storage("get refund", err)
	}
	if err := s.governance.CheckScope(ctx, scope, req, refundTarget(req.ID)); err != nil {
		return RefundRequest{}, err
	}
	return req, nil
}

// List returns the requests inside the principal's scope.
func (s *Service) List(ctx context.Context, p core.Principal, f ListFilter) ([]RefundRequest, core.Pagination, error) {
	if f.Status != "" && !s.machine.Known(f.Status) {
		return nil, core.Pagination{}, core.Validation("unknown_status", "unknown refund status")
	}
	scope, err := s.governance.AuthorizeScope(ctx, p, rbac.ResourceRefund, rbac.ActionRead)
	if err != nil {
		return nil, core.Pagination{}, err
	}
	reqs, total, err := s.repo.List(ctx, scope, f)
	if err != nil {
		return nil, core.Pagination{}, core.Storage("list refunds", err)
	}
	return reqs, core.NewPagination(f.Page, f.PerPage, total), nil
}

// History returns the append-only audit trail of a request.
func (s *Service) History(ctx context.Context, p core.Principal, id int64) ([]AuditRecord, error) {
	if _, err := s.Get(ctx, p, id); err != nil {
		return nil, err
	}
	recs, err := s.repo.History(ctx, p.CompanyID, id)
	if err != nil {
		return nil, core.Storage("refund history", err)
	}
	return recs, nil
}

// Approve signs the stage matching the principal's tier. Signing an already signed
// stage returns the request with a DuplicateAction error.
func (s *Service) Approve(ctx context.Context, p core.Principal, id int64) (RefundRequest, error) {
	st, err := s.apply(ctx, p, id, rbac.ActionApprove, "refund.approve", step{},
		func(_ context.Context, st *step, actor workflow.Actor) (workflow.State, error) {
			return CanApprove(actor, st.Req.CompanyID, st.Req.Amount, st.Req.Status)
		})
	return st.Req, err
}

// Reject moves a non-terminal request to rejected.
func (s *Service) Reject(ctx context.Context, p core.Principal, id int64, reason string) (RefundRequest, error) {
	st, err := s.apply(ctx, p, id, rbac.ActionTransition, "refund.reject", step{Reason: reason},
		func(_ context.Context, st *step, _ workflow.Actor) (workflow.State, error) {
			if st.Req.Status == StatusRejected {
				return "", core.Duplicate("already_rejected", st.Req.ID)
			}
			return StatusRejected, nil
		})
	return st.Req, err
}

// Reopen returns a rejected or partially approved request to pending and clears
// every approval stamp. reason is mandatory.
func (s *Service) Reopen(ctx context.Context, p core.Principal, id int64, reason string) (RefundRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return RefundRequest{}, ErrReasonRequired
	}
	st, err := s.apply(ctx, p, id, rbac.ActionTransition, "refund.reopen", step{Reason: reason},
		func(_ context.Context, st *step, _ workflow.Actor) (workflow.State, error) {
			if st.Req.Status == StatusPending {
				return "", core.Conflict("already_pending", "refund request is already pending")
			}
			return StatusPending, nil
		})
	return st.Req, err
}

// Disburse creates the single voucher of an approved request and posts it to the
// ledger in the same transaction. A repeated or concurrent call returns the first
// voucher with a DuplicateAction error.
func (s *Service) Disburse(ctx context.Context, p core.Principal, id int64, in DisburseInput) (Voucher, error) {
	if in.CashAccountID == 0 {
		return Voucher{}, core.Validation("account_required", "cash account is required")
	}
	var st step
	err := db.Retry(ctx, s.retries, isStorageFailure, func(ctx context.Context) error {
		var err error
		st, err = s.apply(ctx, p, id, rbac.ActionDisburse, "refund.disburse", step{Disburse: in},
			func(ctx context.Context, st *step, _ workflow.Actor) (workflow.State, error) {
				if st.Req.DisbursementVoucherID == nil {
					if st.Req.Status != StatusApproved {
						return "", ErrNotApproved
					}
					return StatusDisbursed, nil
				}
				v, err := st.Tx.VoucherForRequest(ctx, st.Req.CompanyID, st.Req.ID)
				if err != nil {
					return "", err
				}
				st.Voucher = v
				return "", core.Duplicate("already_disbursed", v.ID)
			})
		return err
	})
	if errors.Is(err, ErrVoucherTaken) {
		v, lookupErr := s.repo.VoucherForRequest(ctx, p.CompanyID, id)
		if lookupErr != nil {
			return Voucher{}, core.Storage("reload voucher", lookupErr)
		}
		return v, core.Duplicate("already_disbursed", v.ID)
	}
	return st.Voucher, err
}

type decision func(ctx context.Context, st *step, actor workflow.Actor) (workflow.State, error)

// apply locks the request, lets decide pick the target status and fires the edge.
// A DuplicateAction from decide is returned with the unchanged request.
func (s *Service) apply(ctx context.Context, p core.Principal, id int64, action rbac.Action, name string, st step, decide decision) (step, error) {
	var out step
	err := s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, p.CompanyID, id)
		if err != nil {
			return err
		}
		scope, err := s.governance.AuthorizeScope(ctx, p, rbac.ResourceRefund, action)
		if err != nil {
			return err
		}
		if err := s.governance.CheckScope(ctx, scope, current, refundTarget(current.ID)); err != nil {
			return err
		}
		actor := workflow.Actor{Principal: p, Role: scope.Role}
		st.Req, st.Tx, st.At = current, tx, s.now()
		out = st
		target, err := decide(ctx, &st, actor)
		if err != nil {
			out.Voucher = st.Voucher
			return err
		}
		if _, err := s.machine.Fire(ctx, &st, current.Status, target, actor); err != nil {
			return err
		}
		st.Req.Status = target
		if err := tx.Update(ctx, st.Req); err != nil {
			return err
		}
		out = st
		details := map[string]any{"from": string(current.Status), "to": string(target)}
		if r := strings.TrimSpace(st.Reason); r != "" {
			details["reason"] = r
		}
		if st.Req.DisbursementVoucherID != nil {
			details["voucher_id"] = *st.Req.DisbursementVoucherID
			details["journal_entry_id"] = st.Voucher.JournalEntryID
		}
		return s.record(ctx, tx, current, st.Req, name, p.UserID, st.At, details)
	})
	s.observe(name, err)
	if err != nil {
		if core.IsDuplicate(err) {
			return out, err
		}
		var typed *core.Error
		if !errors.As(err, &typed) {
			s.logger.Error(name, slog.Int64("refund_id", id), slog.Any("error", err))
		}
		return step{}, core.Storage(name, err)
	}
	s.logger.Info(name, slog.Int64("refund_id", id), slog.String("status", string(out.Req.Status)), slog.Int64("actor_id", p.UserID))
	return out, nil
}

// record appends the refund history row and the audit log entry of one change.
func (s *Service) record(ctx context.Context, tx TxRepository, old, updated RefundRequest, action string, actorID int64, at time.Time, details map[string]any) error {
	if err := tx.AppendAudit(ctx, AuditRecord{
		RequestID: updated.ID,
		CompanyID: updated.CompanyID,
		Action:    action,
		ActorID:   actorID,
		At:        at,
		Details:   details,
	}); err != nil {
		return err
	}
	log := core.AuditLog{
		ActorID:   actorID,
		CompanyID: updated.CompanyID,
		Action:    action,
		Entity:    "refund_request",
		EntityID:  strconv.FormatInt(updated.ID, 10),
		New:       map[string]any{"status": string(updated.Status)},
		At:        at,
	}
	if old.ID != 0 {
		log.Old = map[string]any{"status": string(old.Status)}
	}
	return tx.RecordAudit(ctx, log)
}

func (s *Service) observe(action string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "applied"
	switch {
	case err == nil:
	case core.IsDuplicate(err):
		outcome = "duplicate"
	case core.KindOf(err) == core.ErrStorageFailure:
		outcome = "failed"
	default:
		outcome = "rejected"
	}
	s.metrics.ObserveTransition(action, outcome)
}

func isStorageFailure(err error) bool {
	return core.KindOf(err) == core.ErrStorageFailure
}

func refundTarget(id int64) string {
	return "refund:" + strconv.FormatInt(id, 10)
}
