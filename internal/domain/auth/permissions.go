package auth

const (
	RoleStaff   = "staff"
	RoleManager = "manager"
	RoleMG      = "mg"
	RoleAdmin   = "admin"
)

const (
	PermEvaluationsRead   = "evaluations.read"
	PermEvaluationsWrite  = "evaluations.write"
	PermEvaluationsSubmit = "evaluations.submit"
	PermEvaluationsAssign = "evaluations.assign"
	PermTemplatesRead     = "templates.read"
	PermTemplatesWrite    = "templates.write"
	PermPeriodsRead       = "periods.read"
	PermPeriodsWrite      = "periods.write"
	PermUsersRead         = "users.read"
	PermUsersWrite        = "users.write"
	PermReportsRead       = "reports.read"
	PermAuditRead         = "audit.read"
)

var DefaultPermissions = []string{
	PermEvaluationsRead,
	PermEvaluationsWrite,
	PermEvaluationsSubmit,
	PermEvaluationsAssign,
	PermTemplatesRead,
	PermTemplatesWrite,
	PermPeriodsRead,
	PermPeriodsWrite,
	PermUsersRead,
	PermUsersWrite,
	PermReportsRead,
	PermAuditRead,
}

var RolePermissions = map[string][]string{
	RoleStaff: {
		PermEvaluationsRead,
		PermEvaluationsWrite,
		PermEvaluationsSubmit,
		PermTemplatesRead,
		PermPeriodsRead,
	},
	RoleManager: {
		PermEvaluationsRead,
		PermEvaluationsWrite,
		PermEvaluationsSubmit,
		PermTemplatesRead,
		PermPeriodsRead,
		PermUsersRead,
		PermReportsRead,
	},
	RoleMG: {
		PermEvaluationsRead,
		PermEvaluationsWrite,
		PermEvaluationsSubmit,
		PermTemplatesRead,
		PermPeriodsRead,
		PermUsersRead,
		PermReportsRead,
	},
	RoleAdmin: {
		PermEvaluationsRead,
		PermEvaluationsWrite,
		PermEvaluationsSubmit,
		PermEvaluationsAssign,
		PermTemplatesRead,
		PermTemplatesWrite,
		PermPeriodsRead,
		PermPeriodsWrite,
		PermUsersRead,
		PermUsersWrite,
		PermReportsRead,
		PermAuditRead,
	},
}
