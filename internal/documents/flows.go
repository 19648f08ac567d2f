package documents

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/workflow"
)

// step is the subject of a document transition: the locked row plus its transaction.
type step struct {
	Doc Document
	Tx  TxRepository
	At  time.Time
}

var (
	reviewRoles  = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleManager, rbac.RoleFinance, rbac.RoleAccountant}
	approveRoles = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleManager}
	postRoles    = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleFinance, rbac.RoleAccountant}
	payRoles     = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleFinance}
	cancelRoles  = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleManager, rbac.RoleFinance}
)

func (s *Service) buildMachines() map[Kind]*workflow.Machine[step] {
	post := workflow.Edge[step]{Name: "post", To: StatusPosted, Roles: postRoles, Effect: s.postEffect}
	pay := workflow.Edge[step]{Name: "pay", From: StatusPosted, To: StatusPaid, Roles: payRoles, Guard: requirePosted, Effect: s.payEffect}

	from := func(e workflow.Edge[step], state workflow.State) workflow.Edge[step] {
		e.From = state
		return e
	}

	commission := workflow.New[step]("commission run", StatusDraft).
		Edge(workflow.Edge[step]{Name: "review", From: StatusDraft, To: StatusReviewed, Roles: reviewRoles}).
		Edge(workflow.Edge[step]{Name: "approve", From: StatusReviewed, To: StatusApproved, Roles: approveRoles}).
		Edge(from(post, StatusApproved)).
		Edge(pay).
		WithCancel(StatusCancelled, cancelRoles, s.cancelEffect)

	bill := workflow.New[step]("bill", StatusDraft).
		Edge(workflow.Edge[step]{Name: "approve", From: StatusDraft, To: StatusApproved, Roles: approveRoles}).
		Edge(from(post, StatusApproved)).
		Edge(pay).
		WithCancel(StatusCancelled, cancelRoles, s.cancelEffect)

	invoice := workflow.New[step]("invoice", StatusDraft).
		Edge(from(post, StatusDraft)).
		Edge(pay).
		WithCancel(StatusCancelled, cancelRoles, s.cancelEffect)

	depreciation := workflow.New[step]("depreciation run", StatusDraft).
		Edge(from(post, StatusDraft)).
		WithCancel(StatusCancelled, cancelRoles, s.cancelEffect)

	return map[Kind]*workflow.Machine[step]{
		KindCommissionRun:   commission,
		KindBill:            bill,
		KindInvoice:         invoice,
		KindDepreciationRun: depreciation,
	}
}

func requirePosted(_ context.Context, st step, _ workflow.Actor) error {
	if !st.Doc.Posted() {
		return ErrNotPosted
	}
	return nil
}

// postEffect writes the balanced entry debit account / credit account for the total.
func (s *Service) postEffect(ctx context.Context, st *step, _ workflow.State, actor workflow.Actor) error {
	d := st.Doc
	in := journals.PostingInput{
		CompanyID:     d.CompanyID,
		Date:          d.DocDate,
		ReferenceType: d.Kind.ReferenceType(),
		ReferenceID:   strconv.FormatInt(d.ID, 10),
		SourceStatus:  string(StatusPosted),
		Memo:          fmt.Sprintf("%s %s", d.Kind.ReferenceType(), d.Number),
		PostedBy:      actor.UserID,
		Lines: []journals.PostingLineInput{
			{AccountID: d.DebitAccountID, Debit: d.TotalAmount, BranchID: d.BranchID, CostCenterID: d.CostCenterID},
			{AccountID: d.CreditAccountID, Credit: d.TotalAmount, BranchID: d.BranchID, CostCenterID: d.CostCenterID},
		},
	}
	entry, err := s.ledger.PostTx(ctx, st.Tx.Ledger(), in)
	if err != nil && !core.IsDuplicate(err) {
		return err
	}
	st.Doc.JournalEntryID = &entry.ID
	return nil
}

func (s *Service) payEffect(ctx context.Context, st *step, _ workflow.State, actor workflow.Actor) error {
	payment, err := st.Tx.InsertPayment(ctx, Payment{
		DocumentID: st.Doc.ID,
		CompanyID:  st.Doc.CompanyID,
		Amount:     st.Doc.TotalAmount,
		PaidBy:     actor.UserID,
		PaidAt:     st.At,
	})
	if err != nil {
		return err
	}
	st.Doc.PaidBy = &payment.PaidBy
	st.Doc.PaidAt = &payment.PaidAt
	return nil
}

// cancelEffect compensates a posted document with a reversal entry.
func (s *Service) cancelEffect(ctx context.Context, st *step, from workflow.State, actor workflow.Actor) error {
	if st.Doc.Posted() && st.Doc.ReversalEntryID == nil {
		rev, err := s.ledger.ReverseTx(ctx, st.Tx.Ledger(), journals.ReverseInput{
			CompanyID: st.Doc.CompanyID,
			EntryID:   *st.Doc.JournalEntryID,
			ActorID:   actor.UserID,
			Memo:      fmt.Sprintf("cancel %s %s (was %s)", st.Doc.Kind.ReferenceType(), st.Doc.Number, from),
		})
		if err != nil && !core.IsDuplicate(err) {
			return err
		}
		st.Doc.ReversalEntryID = &rev.ID
	}
	by, at := actor.UserID, st.At
	st.Doc.CancelledBy = &by
	st.Doc.CancelledAt = &at
	return nil
}
