package governance

import (
	"fmt"
	"strings"
)

// Matches reports whether a record satisfies the scope filter.
func (s Scope) Matches(rec Scoped) bool {
	st := rec.GovernanceStamp()
	if st.CompanyID != s.CompanyID {
		return false
	}
	switch s.Visibility {
	case VisibilityFull:
		return true
	case VisibilityBranch:
		return s.BranchID != nil && st.BranchID != nil && *st.BranchID == *s.BranchID
	case VisibilitySelf:
		return s.UserID != 0 && st.CreatedBy == s.UserID
	default:
		return false
	}
}

// Predicate renders the scope filter as a SQL fragment over alias (may be empty).
// Placeholders start at $next so the fragment can be appended to any query.
func (s Scope) Predicate(alias string, next int) (string, []any) {
	col := func(name string) string {
		if alias == "" {
			return name
		}
		return alias + "." + name
	}
	clauses := []string{fmt.Sprintf("%s = $%d", col("company_id"), next)}
	args := []any{s.CompanyID}
	switch s.Visibility {
	case VisibilityFull:
	case VisibilityBranch:
		if s.BranchID == nil {
			return "1 = 0", nil
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col("branch_id"), next+1))
		args = append(args, *s.BranchID)
	case VisibilitySelf:
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col("created_by"), next+1))
		args = append(args, s.UserID)
	default:
		return "1 = 0", nil
	}
	return strings.Join(clauses, " AND "), args
}

// Filter keeps the records of items that match the scope.
func Filter[T Scoped](s Scope, items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if s.Matches(item) {
			out = append(out, item)
		}
	}
	return out
}
