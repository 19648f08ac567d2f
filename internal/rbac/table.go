package rbac

var documentResources = []Resource{ResourceInvoice, ResourceBill, ResourceCommissionRun, ResourceDepreciationRun}

// capabilities is the static Role × Resource × Action table, built once at init.
var capabilities = buildCapabilities()

func buildCapabilities() map[Role]map[Permission]struct{} {
	table := make(map[Role]map[Permission]struct{}, len(roleRank))
	grant := func(role Role, res Resource, actions ...Action) {
		if table[role] == nil {
			table[role] = make(map[Permission]struct{})
		}
		for _, a := range actions {
			table[role][Permission{Resource: res, Action: a}] = struct{}{}
		}
	}

	all := []Action{ActionRead, ActionCreate, ActionUpdate, ActionTransition}
	for _, res := range documentResources {
		grant(RoleOwner, res, all...)
		grant(RoleAdmin, res, all...)
		grant(RoleManager, res, all...)
		grant(RoleFinance, res, all...)
		grant(RoleAccountant, res, all...)
		grant(RoleStaff, res, ActionRead, ActionCreate, ActionUpdate)
		grant(RoleViewer, res, ActionRead)
	}

	grant(RoleOwner, ResourceRefund, ActionRead, ActionCreate, ActionApprove, ActionDisburse, ActionTransition)
	grant(RoleAdmin, ResourceRefund, ActionRead, ActionCreate, ActionDisburse, ActionTransition)
	grant(RoleManager, ResourceRefund, ActionRead, ActionCreate, ActionApprove, ActionTransition)
	grant(RoleFinance, ResourceRefund, ActionRead, ActionCreate, ActionApprove, ActionDisburse, ActionTransition)
	grant(RoleAccountant, ResourceRefund, ActionRead, ActionCreate, ActionApprove, ActionTransition)
	grant(RoleStaff, ResourceRefund, ActionRead, ActionCreate)
	grant(RoleViewer, ResourceRefund, ActionRead)

	grant(RoleOwner, ResourceJournal, ActionRead, ActionPost, ActionReverse)
	grant(RoleAdmin, ResourceJournal, ActionRead, ActionPost, ActionReverse)
	grant(RoleFinance, ResourceJournal, ActionRead, ActionPost, ActionReverse)
	grant(RoleAccountant, ResourceJournal, ActionRead, ActionPost, ActionReverse)
	grant(RoleManager, ResourceJournal, ActionRead)
	grant(RoleViewer, ResourceJournal, ActionRead)

	grant(RoleOwner, ResourcePeriod, ActionRead, ActionCreate, ActionClose, ActionOpen)
	grant(RoleAdmin, ResourcePeriod, ActionRead, ActionCreate, ActionClose)
	grant(RoleFinance, ResourcePeriod, ActionRead)
	grant(RoleAccountant, ResourcePeriod, ActionRead)
	grant(RoleManager, ResourcePeriod, ActionRead)

	grant(RoleOwner, ResourceAccount, ActionRead, ActionCreate, ActionUpdate)
	grant(RoleAdmin, ResourceAccount, ActionRead, ActionCreate, ActionUpdate)
	grant(RoleAccountant, ResourceAccount, ActionRead, ActionCreate)
	grant(RoleFinance, ResourceAccount, ActionRead)
	grant(RoleManager, ResourceAccount, ActionRead)

	grant(RoleOwner, ResourceMember, ActionRead, ActionCreate, ActionUpdate)
	grant(RoleAdmin, ResourceMember, ActionRead, ActionCreate, ActionUpdate)

	grant(RoleOwner, ResourceJobs, ActionRead)
	grant(RoleAdmin, ResourceJobs, ActionRead)
	return table
}

// Can reports whether role may perform action on res.
func Can(role Role, res Resource, action Action) bool {
	perms, ok := capabilities[role]
	if !ok {
		return false
	}
	_, ok = perms[Permission{Resource: res, Action: action}]
	return ok
}

// Permissions lists the capability set of role.
func Permissions(role Role) []Permission {
	perms := capabilities[role]
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	return out
}
