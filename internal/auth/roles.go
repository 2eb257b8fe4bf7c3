package auth

// Platform roles.
const (
	RoleSuperAdmin           = "super_admin"
	RoleAdmin                = "admin"
	RoleAdminDOS             = "admin_dos"
	RoleAdminReception       = "admin_reception"
	RoleAdminStudentOps      = "admin_student_operations"
	RoleAdminSales           = "admin_sales"
	RoleAdminMarketing       = "admin_marketing"
	RoleAdminAgent           = "admin_agent"
	RoleTeacher              = "teacher"
	RoleTeacherDOS           = "teacher_dos"
	RoleTeacherAssistantDOS  = "teacher_assistant_dos"
	RoleStudent              = "student"
	RoleGuest                = "guest"
)

// Domain wildcard scopes.
const (
	ScopeIdentity        = "identity:*"
	ScopeFinance         = "finance:*"
	ScopeAcademic        = "academic:*"
	ScopeAttendance      = "attendance:*"
	ScopeCompliance      = "compliance:*"
	ScopeStudentServices = "student_services:*"
	ScopeOps             = "ops:*"
	ScopeQuality         = "quality:*"
	ScopeTeacher         = "teacher:*"
	ScopeStudent         = "student:*"
)

// AllScopes lists every domain wildcard scope.
var AllScopes = []string{
	ScopeIdentity,
	ScopeFinance,
	ScopeAcademic,
	ScopeAttendance,
	ScopeCompliance,
	ScopeStudentServices,
	ScopeOps,
	ScopeQuality,
	ScopeTeacher,
	ScopeStudent,
}

var roleScopes = map[string][]string{
	RoleSuperAdmin: AllScopes,
	RoleAdmin: {
		ScopeFinance,
		ScopeAcademic,
		ScopeAttendance,
		ScopeCompliance,
		ScopeStudentServices,
		ScopeQuality,
	},
	RoleAdminDOS:        {ScopeAcademic, ScopeTeacher, ScopeQuality},
	RoleAdminReception:  {ScopeStudentServices, ScopeAttendance},
	RoleAdminStudentOps: {ScopeStudentServices, ScopeCompliance},
	RoleAdminSales:      {ScopeFinance},
	RoleTeacher:         {ScopeTeacher},
	RoleTeacherDOS:      {ScopeTeacher, ScopeAcademic},
	RoleStudent:         {ScopeStudent},
}

// ScopesForRole returns the default scopes granted by a role. Unknown roles
// get no scopes.
func ScopesForRole(role string) []string {
	scopes, ok := roleScopes[role]
	if !ok {
		return nil
	}
	out := make([]string, len(scopes))
	copy(out, scopes)
	return out
}
