package accounts

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/rbac"
	core "github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service manages the chart of accounts of the principal's company.
type Service struct {
	repo  Repository
	authz rbac.Authorizer
	audit core.AuditSink
	now   func() time.Time
}

func NewService(repo Repository, authz rbac.Authorizer, audit core.AuditSink) *Service {
	return &Service{repo: repo, authz: authz, audit: audit, now: time.Now}
}

func (s *Service) List(ctx context.Context, p core.Principal) ([]Account, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceAccount, rbac.ActionRead); err != nil {
		return nil, err
	}
	list, err := s.repo.List(ctx, p.CompanyID)
	if err != nil {
		return nil, core.Storage("list accounts", err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, p core.Principal, id int64) (Account, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceAccount, rbac.ActionRead); err != nil {
		return Account{}, err
	}
	a, err := s.repo.Get(ctx, p.CompanyID, id)
	if err != nil {
		return Account{}, core.Storage("get account", err)
	}
	return a, nil
}

// Create adds an account. A parent must be a group account of the same company.
func (s *Service) Create(ctx context.Context, p core.Principal, in CreateInput) (Account, error) {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceAccount, rbac.ActionCreate); err != nil {
		return Account{}, err
	}
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if in.Code == "" || in.Name == "" {
		return Account{}, core.Validation("account_required_fields", "code and name are required")
	}
	in.Type = AccountType(strings.ToUpper(string(in.Type)))
	if !in.Type.Valid() {
		return Account{}, core.Validationf("invalid_account_type", "unknown account type %q", in.Type)
	}
	normal := NormalBalance(strings.ToUpper(string(in.NormalBalance)))
	switch normal {
	case "":
		normal = DefaultNormalBalance(in.Type)
	case NormalDebit, NormalCredit:
	default:
		return Account{}, core.Validationf("invalid_normal_balance", "unknown normal balance %q", in.NormalBalance)
	}
	if in.ParentID != nil {
		parent, err := s.repo.Get(ctx, p.CompanyID, *in.ParentID)
		if err != nil {
			if errors.Is(err, shared.ErrAccountNotFound) {
				return Account{}, core.Validation("invalid_parent", "parent account not found")
			}
			return Account{}, core.Storage("get parent account", err)
		}
		if !parent.IsGroup {
			return Account{}, core.Validation("invalid_parent", "parent account must be a group account")
		}
	}
	a, err := s.repo.Insert(ctx, Account{
		CompanyID:     p.CompanyID,
		Code:          in.Code,
		Name:          in.Name,
		Type:          in.Type,
		NormalBalance: normal,
		ParentID:      in.ParentID,
		IsGroup:       in.IsGroup,
		IsActive:      true,
	})
	if err != nil {
		return Account{}, core.Storage("insert account", err)
	}
	s.record(ctx, p, "account.create", a.ID, nil, map[string]any{"code": a.Code, "type": string(a.Type), "is_group": a.IsGroup})
	return a, nil
}

// SetActive toggles whether the account may receive postings.
func (s *Service) SetActive(ctx context.Context, p core.Principal, id int64, active bool) error {
	if err := s.authz.Authorize(ctx, p, rbac.ResourceAccount, rbac.ActionUpdate); err != nil {
		return err
	}
	if err := s.repo.SetActive(ctx, p.CompanyID, id, active); err != nil {
		return core.Storage("update account", err)
	}
	s.record(ctx, p, "account.set_active", id, nil, map[string]any{"is_active": active})
	return nil
}

func (s *Service) record(ctx context.Context, p core.Principal, action string, id int64, old, next map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, core.AuditLog{
		ActorID:   p.UserID,
		CompanyID: p.CompanyID,
		Action:    action,
		Entity:    "account",
		EntityID:  strconv.FormatInt(id, 10),
		Old:       old,
		New:       next,
		At:        s.now(),
	})
}
