package rbac

// Permission identifiers are opaque "namespace.action" values owned by the
// external permission registry. The engine only needs the ones that gate
// its own operations, plus the builtin role definitions seeded at install.
const (
	PermRoleAssignAny = "roles.assign_any"
	PermRoleApprove   = "roles.approve"
	PermRoleManage    = "roles.manage"
	PermUsersView     = "users.view"
	PermUsersEdit     = "users.edit"
	PermMembersView   = "members.view"
	PermMembersEdit   = "members.edit"
	PermParcelsView   = "parcels.view"
	PermParcelsEdit   = "parcels.edit"
	PermReportsView   = "reports.view"
	PermAuditView     = "audit.view"
)

// BuiltinRoles are the system-managed roles installed on first run. Their
// structure cannot be edited afterwards, though they can still be assigned.
var BuiltinRoles = []Role{
	{
		Code:          "administrator",
		Name:          "Administrator",
		Description:   "Unrestricted system access",
		SystemManaged: true,
		Permissions: []string{
			PermRoleAssignAny, PermRoleApprove, PermRoleManage,
			PermUsersView, PermUsersEdit,
			PermMembersView, PermMembersEdit,
			PermParcelsView, PermParcelsEdit,
			PermReportsView, PermAuditView,
		},
	},
	{
		Code:          "operator",
		Name:          "Operator",
		Description:   "Day-to-day operational access",
		SystemManaged: true,
		Permissions: []string{
			PermUsersView,
			PermMembersView, PermMembersEdit,
			PermParcelsView, PermParcelsEdit,
			PermReportsView,
		},
	},
	{
		Code:          "member",
		Name:          "Member",
		Description:   "Cooperative member self-service access",
		SystemManaged: true,
		Permissions: []string{
			PermMembersView,
			PermParcelsView,
		},
	},
}
