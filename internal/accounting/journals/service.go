package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Recorder observes posting outcomes.
type Recorder interface {
	ObservePosting(operation, outcome string)
}

// ReferenceManual tags entries posted directly through the ledger API.
const ReferenceManual = "manual"

// Service is the ledger posting engine.
type Service struct {
	repo    Repository
	authz   rbac.Authorizer
	metrics Recorder
	logger  *slog.Logger
	retries int
	now     func() time.Time
	forward core.AuditSink
}

func NewService(repo Repository, authz rbac.Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, logger: logger, retries: 1, now: time.Now}
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

// WithRetries sets how many times a storage failure is retried; negative values are ignored.
func (s *Service) WithRetries(n int) {
	if n >= 0 {
		s.retries = n
	}
}

func (s *Service) WithMetrics(m Recorder) {
	s.metrics = m
}

// Post creates a balanced journal entry in its own transaction. A replay of the same
// reference with unchanged source status returns the existing entry together with a
// DuplicateAction error that callers treat as success.
func (s *Service) Post(ctx context.Context, in PostingInput) (JournalEntry, error) {
	var entry JournalEntry
	var dup error
	err := db.Retry(ctx, s.retries, isStorageFailure, func(ctx context.Context) error {
		dup = nil
		return s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
			e, err := s.PostTx(ctx, tx, in)
			if core.IsDuplicate(err) {
				entry, dup = e, err
				return nil
			}
			if err != nil {
				return err
			}
			entry = e
			return nil
		})
	})
	if errors.Is(err, shared.ErrReferenceTaken) {
		return s.resolveRace(ctx, in)
	}
	if err != nil {
		if isStorageFailure(err) {
			s.observe("post", err)
		}
		return JournalEntry{}, core.Storage("post journal", err)
	}
	return entry, dup
}

// resolveRace re-reads the entry that won the reference key after a lost insert.
func (s *Service) resolveRace(ctx context.Context, in PostingInput) (JournalEntry, error) {
	winner, err := s.repo.FindByReference(ctx, in.CompanyID, in.ReferenceType, in.ReferenceID)
	if err != nil {
		return JournalEntry{}, core.Storage("reload journal", err)
	}
	if winner.SourceStatus != in.SourceStatus {
		s.observe("post", shared.ErrAlreadyPosted)
		return JournalEntry{}, shared.ErrAlreadyPosted
	}
	dup := core.Duplicate("already_posted", winner.ID)
	s.observe("post", dup)
	return winner, dup
}

// PostTx runs the posting inside the caller's transaction so that a document, its
// ledger entry and any payable commit together.
func (s *Service) PostTx(ctx context.Context, tx TxRepository, in PostingInput) (JournalEntry, error) {
	if err := in.Validate(); err != nil {
		s.observe("post", err)
		return JournalEntry{}, err
	}
	existing, err := tx.FindByReference(ctx, in.CompanyID, in.ReferenceType, in.ReferenceID)
	switch {
	case err == nil:
		if existing.SourceStatus != in.SourceStatus {
			s.observe("post", shared.ErrAlreadyPosted)
			return JournalEntry{}, shared.ErrAlreadyPosted
		}
		dup := core.Duplicate("already_posted", existing.ID)
		s.observe("post", dup)
		return existing, dup
	case !errors.Is(err, shared.ErrJournalNotFound):
		return JournalEntry{}, err
	}

	period, err := s.openPeriod(ctx, tx, in.CompanyID, in.Date)
	if err != nil {
		s.observe("post", err)
		return JournalEntry{}, err
	}
	if err := s.checkAccounts(ctx, tx, in.CompanyID, in.Lines); err != nil {
		s.observe("post", err)
		return JournalEntry{}, err
	}

	entry := JournalEntry{
		CompanyID:     in.CompanyID,
		PeriodID:      period.ID,
		Date:          periods.DateOnly(in.Date),
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		SourceStatus:  in.SourceStatus,
		Memo:          in.Memo,
		PostedBy:      in.PostedBy,
		Status:        JournalStatusPosted,
		Lines:         toLines(in.Lines),
	}
	inserted, err := tx.InsertJournal(ctx, entry)
	if err != nil {
		return JournalEntry{}, err
	}
	debit, _ := inserted.Totals()
	if err := tx.RecordAudit(ctx, core.AuditLog{
		ActorID:   in.PostedBy,
		CompanyID: in.CompanyID,
		Action:    "journal.post",
		Entity:    "journal_entry",
		EntityID:  strconv.FormatInt(inserted.ID, 10),
		New: map[string]any{
			"reference_type": in.ReferenceType,
			"reference_id":   in.ReferenceID,
			"source_status":  in.SourceStatus,
			"amount":         debit.StringFixed(2),
			"lines":          len(inserted.Lines),
		},
		At: s.now(),
	}); err != nil {
		return JournalEntry{}, err
	}
	s.observe("post", nil)
	return inserted, nil
}

// Reverse creates the compensating entry of a posted entry. The original is never changed.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (JournalEntry, error) {
	var entry JournalEntry
	var dup error
	err := db.Retry(ctx, s.retries, isStorageFailure, func(ctx context.Context) error {
		dup = nil
		return s.withTx(ctx, func(ctx context.Context, tx TxRepository) error {
			e, err := s.ReverseTx(ctx, tx, in)
			if core.IsDuplicate(err) {
				entry, dup = e, err
				return nil
			}
			if err != nil {
				return err
			}
			entry = e
			return nil
		})
	})
	if errors.Is(err, shared.ErrReferenceTaken) {
		original, gerr := s.repo.Get(ctx, in.CompanyID, in.EntryID)
		if gerr != nil {
			return JournalEntry{}, core.Storage("reload journal", gerr)
		}
		winner, ferr := s.repo.FindByReference(ctx, in.CompanyID, original.ReferenceType+ReversalSuffix, original.ReferenceID)
		if ferr != nil {
			return JournalEntry{}, core.Storage("reload reversal", ferr)
		}
		return winner, core.Duplicate("already_reversed", winner.ID)
	}
	if err != nil {
		if isStorageFailure(err) {
			s.observe("reverse", err)
		}
		return JournalEntry{}, core.Storage("reverse journal", err)
	}
	return entry, dup
}

// ReverseTx swaps debit and credit line-for-line under reference_type + "_reversal".
func (s *Service) ReverseTx(ctx context.Context, tx TxRepository, in ReverseInput) (JournalEntry, error) {
	if in.EntryID == 0 || in.CompanyID == 0 {
		return JournalEntry{}, core.Validation("entry_required", "journal entry id required")
	}
	original, err := tx.GetJournalWithLines(ctx, in.CompanyID, in.EntryID)
	if err != nil {
		return JournalEntry{}, err
	}
	if original.Status != JournalStatusPosted {
		return JournalEntry{}, shared.ErrInvalidStatus
	}
	if original.ReversalOf != nil {
		return JournalEntry{}, core.Conflict("reversal_entry", "a reversal entry cannot itself be reversed")
	}
	refType := original.ReferenceType + ReversalSuffix
	existing, err := tx.FindByReference(ctx, in.CompanyID, refType, original.ReferenceID)
	switch {
	case err == nil:
		dup := core.Duplicate("already_reversed", existing.ID)
		s.observe("reverse", dup)
		return existing, dup
	case !errors.Is(err, shared.ErrJournalNotFound):
		return JournalEntry{}, err
	}

	date := original.Date
	if in.Date != nil {
		date = *in.Date
	}
	period, err := s.openPeriod(ctx, tx, in.CompanyID, date)
	if err != nil {
		s.observe("reverse", err)
		return JournalEntry{}, err
	}
	memo := in.Memo
	if memo == "" {
		memo = fmt.Sprintf("Reversal of JE %d", original.ID)
	}
	reversalOf := original.ID
	inserted, err := tx.InsertJournal(ctx, JournalEntry{
		CompanyID:     in.CompanyID,
		PeriodID:      period.ID,
		Date:          periods.DateOnly(date),
		ReferenceType: refType,
		ReferenceID:   original.ReferenceID,
		SourceStatus:  original.SourceStatus,
		Memo:          memo,
		PostedBy:      in.ActorID,
		Status:        JournalStatusPosted,
		ReversalOf:    &reversalOf,
		Lines:         reverseLines(original.Lines),
	})
	if err != nil {
		return JournalEntry{}, err
	}
	if err := tx.RecordAudit(ctx, core.AuditLog{
		ActorID:   in.ActorID,
		CompanyID: in.CompanyID,
		Action:    "journal.reverse",
		Entity:    "journal_entry",
		EntityID:  strconv.FormatInt(original.ID, 10),
		New: map[string]any{
			"reversal_id":    inserted.ID,
			"reference_type": refType,
			"reference_id":   original.ReferenceID,
		},
		At: s.now(),
	}); err != nil {
		return JournalEntry{}, err
	}
	s.observe("reverse", nil)
	return inserted, nil
}

// ManualInput is a journal posted directly by a principal.
type ManualInput struct {
	Date           time.Time
	IdempotencyKey string
	Memo           string
	Lines          []PostingLineInput
}

// PostManual posts a principal-authored journal. The idempotency key defaults to a fresh UUID.
func (s *Service) PostManual(ctx context.Context, p core.Principal, in ManualInput) (JournalEntry, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceJournal, rbac.ActionPost); err != nil {
		return JournalEntry{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	return s.Post(ctx, PostingInput{
		CompanyID:     p.CompanyID,
		Date:          in.Date,
		ReferenceType: ReferenceManual,
		ReferenceID:   key,
		SourceStatus:  string(JournalStatusPosted),
		Memo:          in.Memo,
		PostedBy:      p.UserID,
		Lines:         in.Lines,
	})
}

// ReverseEntry reverses an entry on behalf of a principal.
func (s *Service) ReverseEntry(ctx context.Context, p core.Principal, entryID int64, memo string, date *time.Time) (JournalEntry, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceJournal, rbac.ActionReverse); err != nil {
		return JournalEntry{}, err
	}
	return s.Reverse(ctx, ReverseInput{CompanyID: p.CompanyID, EntryID: entryID, ActorID: p.UserID, Memo: memo, Date: date})
}

// Get returns one entry of the principal's company.
func (s *Service) Get(ctx context.Context, p core.Principal, id int64) (JournalEntry, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceJournal, rbac.ActionRead); err != nil {
		return JournalEntry{}, err
	}
	e, err := s.repo.Get(ctx, p.CompanyID, id)
	if err != nil {
		return JournalEntry{}, core.Storage("get journal", err)
	}
	return e, nil
}

// ListPosted returns posted entries of the principal's company dated within [from, to].
func (s *Service) ListPosted(ctx context.Context, p core.Principal, from, to time.Time) ([]JournalEntry, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceJournal, rbac.ActionRead); err != nil {
		return nil, err
	}
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, core.Validation("invalid_range", "from and to are required and from must not follow to")
	}
	entries, err := s.repo.ListPosted(ctx, p.CompanyID, from, to)
	if err != nil {
		return nil, core.Storage("list journals", err)
	}
	return entries, nil
}

// CheckIntegrity reports posted entries that violate the balance invariant.
func (s *Service) CheckIntegrity(ctx context.Context, companyID int64) ([]int64, error) {
	ids, err := s.repo.UnbalancedEntries(ctx, companyID)
	if err != nil {
		return nil, core.Storage("check ledger integrity", err)
	}
	if len(ids) > 0 {
		s.logger.Error("unbalanced journal entries", slog.Int64("company_id", companyID), slog.Any("entry_ids", ids))
	}
	return ids, nil
}

func (s *Service) openPeriod(ctx context.Context, tx TxRepository, companyID int64, date time.Time) (periods.Period, error) {
	period, err := tx.GetPeriodForDate(ctx, companyID, date)
	if err != nil {
		return periods.Period{}, err
	}
	if !period.Contains(date) {
		return periods.Period{}, shared.ErrNoPeriod
	}
	if !period.IsOpen() {
		return periods.Period{}, shared.ErrPeriodClosed
	}
	return period, nil
}

func (s *Service) checkAccounts(ctx context.Context, tx TxRepository, companyID int64, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	found, err := tx.GetAccounts(ctx, companyID, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		a, ok := found[id]
		if !ok || !a.Postable(companyID) {
			return core.Validationf(shared.ErrInvalidAccount.Code, "account %d must be an active leaf account of the company", id)
		}
	}
	return nil
}

func (s *Service) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "created"
	switch {
	case err == nil:
	case core.IsDuplicate(err):
		outcome = "duplicate"
	case core.KindOf(err) == core.ErrStorageFailure:
		outcome = "failed"
	default:
		outcome = "rejected"
	}
	s.metrics.ObservePosting(operation, outcome)
}

func isStorageFailure(err error) bool {
	return core.KindOf(err) == core.ErrStorageFailure
}

func toLines(in []PostingLineInput) []JournalLine {
	out := make([]JournalLine, 0, len(in))
	for i, l := range in {
		out = append(out, JournalLine{
			LineNo:       i + 1,
			AccountID:    l.AccountID,
			Debit:        l.Debit,
			Credit:       l.Credit,
			BranchID:     l.BranchID,
			CostCenterID: l.CostCenterID,
			Memo:         l.Memo,
		})
	}
	return out
}

func reverseLines(lines []JournalLine) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	for i, l := range lines {
		out = append(out, JournalLine{
			LineNo:       i + 1,
			AccountID:    l.AccountID,
			Debit:        l.Credit,
			Credit:       l.Debit,
			BranchID:     l.BranchID,
			CostCenterID: l.CostCenterID,
			Memo:         l.Memo,
		})
	}
	return out
}
